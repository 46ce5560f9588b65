package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/store"
	"localsim/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type shiftRow struct {
	ID                  string       `db:"id"`
	OperatorID          string       `db:"operator_id"`
	Status              string       `db:"status"`
	OpeningObservations string       `db:"opening_observations"`
	ClosingObservations string       `db:"closing_observations"`
	OpenedAt            time.Time    `db:"opened_at"`
	ClosedAt            sql.NullTime `db:"closed_at"`
}

func (r shiftRow) toDomain() *domain.Shift {
	shift := &domain.Shift{
		ID:                  r.ID,
		OperatorID:          r.OperatorID,
		Status:              domain.ShiftStatus(r.Status),
		OpeningObservations: r.OpeningObservations,
		ClosingObservations: r.ClosingObservations,
		OpenedAt:            r.OpenedAt.UTC(),
	}
	if r.ClosedAt.Valid {
		at := r.ClosedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return shift
}

type declarationRow struct {
	ShiftID            string        `db:"shift_id"`
	Plan               string        `db:"plan"`
	OpeningDeclaredQty int           `db:"opening_declared_qty"`
	UnitsSold          int           `db:"units_sold"`
	ClosingDeclaredQty sql.NullInt64 `db:"closing_declared_qty"`
	Informational      bool          `db:"informational"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

func (r declarationRow) toDomain() domain.InventoryDeclaration {
	decl := domain.InventoryDeclaration{
		ShiftID:            r.ShiftID,
		Plan:               domain.PlanCode(r.Plan),
		OpeningDeclaredQty: r.OpeningDeclaredQty,
		UnitsSold:          r.UnitsSold,
		Informational:      r.Informational,
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.ClosingDeclaredQty.Valid {
		qty := int(r.ClosingDeclaredQty.Int64)
		decl.ClosingDeclaredQty = &qty
	}
	return decl
}

type movementRow struct {
	ID              string          `db:"id"`
	ShiftID         string          `db:"shift_id"`
	Amount          decimal.Decimal `db:"amount"`
	PaymentCategory string          `db:"payment_category"`
	Voided          bool            `db:"voided"`
	VoidReason      string          `db:"void_reason"`
	VoidedAt        sql.NullTime    `db:"voided_at"`
	CreatedAt       time.Time       `db:"created_at"`
}

func (r movementRow) toDomain() domain.SaleMovement {
	movement := domain.SaleMovement{
		ID:              r.ID,
		ShiftID:         r.ShiftID,
		Amount:          r.Amount,
		PaymentCategory: domain.PaymentCategory(r.PaymentCategory),
		Voided:          r.Voided,
		VoidReason:      r.VoidReason,
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if r.VoidedAt.Valid {
		at := r.VoidedAt.Time.UTC()
		movement.VoidedAt = &at
	}
	return movement
}

const (
	shiftColumns       = `id, operator_id, status, opening_observations, closing_observations, opened_at, closed_at`
	declarationColumns = `shift_id, plan, opening_declared_qty, units_sold, closing_declared_qty, informational, updated_at`
	movementColumns    = `id, shift_id, amount, payment_category, voided, void_reason, voided_at, created_at`
)

func (s *Store) OpenShift(ctx context.Context, shift domain.Shift, declarations []store.PlanCount) (*domain.Shift, error) {
	if strings.TrimSpace(shift.OperatorID) == "" {
		return nil, domain.NewValidationError("operator_id", "is required")
	}
	seen := make(map[domain.PlanCode]struct{}, len(declarations))
	for _, decl := range declarations {
		if decl.Qty < 0 {
			return nil, domain.NewValidationError("declarations", "qty must be >= 0 for plan "+string(decl.Plan))
		}
		if _, dup := seen[decl.Plan]; dup {
			return nil, domain.NewValidationError("declarations", "duplicate plan "+string(decl.Plan))
		}
		seen[decl.Plan] = struct{}{}
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shifts (id, operator_id, status, opening_observations, closing_observations, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,'',$5,NULL)
	`, shift.ID, shift.OperatorID, string(shift.Status), shift.OpeningObservations, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, s.conflictFor(ctx, shift.OperatorID)
		}
		return nil, err
	}

	for _, decl := range declarations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_declarations (shift_id, plan, opening_declared_qty, units_sold, informational, created_at, updated_at)
			VALUES ($1,$2,$3,0,false,$4,$4)
		`, shift.ID, string(decl.Plan), decl.Qty, shift.OpenedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := shift
	return &saved, nil
}

// conflictFor builds the conflict error after the partial unique index
// rejected a second open shift.
func (s *Store) conflictFor(ctx context.Context, operatorID string) error {
	conflict := &domain.ConflictError{OperatorID: operatorID}
	_ = s.db.GetContext(ctx, &conflict.ShiftID, `
		SELECT id FROM shifts WHERE operator_id = $1 AND status = 'open'
	`, operatorID)
	return conflict
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	var row shiftRow
	err := s.db.GetContext(ctx, &row, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "shift", ID: shiftID}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetOpenShiftByOperator(ctx context.Context, operatorID string) (*domain.Shift, error) {
	var row shiftRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE operator_id = $1 AND status = 'open'
	`, operatorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "open shift for operator", ID: operatorID}
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// CloseShift holds the shift row FOR UPDATE for the whole close. Sales and
// inventory writes take the same row FOR SHARE, so the ledger read here is
// final: writers that were in flight commit first, later ones see a closed
// shift.
func (s *Store) CloseShift(ctx context.Context, params store.CloseParams, compute store.CloseFunc) (*domain.ClosureReport, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row shiftRow
	err = tx.GetContext(ctx, &row, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1 FOR UPDATE`, params.ShiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "shift", ID: params.ShiftID}
		}
		return nil, err
	}
	shift := row.toDomain()
	if !shift.IsOpen() {
		return nil, &domain.InvalidStateError{ShiftID: shift.ID, Status: shift.Status, Operation: "close shift"}
	}
	closedAt := params.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	declarations, err := listDeclarations(ctx, tx, shift.ID)
	if err != nil {
		return nil, err
	}
	totals, err := sumByCategory(ctx, tx, shift.ID)
	if err != nil {
		return nil, err
	}

	report, err := compute(store.ShiftSnapshot{
		Shift:        *shift,
		ClosedAt:     closedAt,
		Declarations: store.ApplyClosing(shift.ID, declarations, params.Closing, closedAt),
		System:       totals,
	})
	if err != nil {
		return nil, err
	}

	for _, count := range params.Closing {
		if _, err := upsertClosing(ctx, tx, shift.ID, count, closedAt); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shifts
		SET status = 'closed', closed_at = $2, closing_observations = $3
		WHERE id = $1 AND status = 'open'
	`, shift.ID, closedAt, params.Observations)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO closure_reports (
			shift_id, operator_id, closed_at, has_discrepancy,
			has_payment_discrepancy, has_inventory_discrepancy, payload
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, shift.ID, shift.OperatorID, report.ClosedAt, report.HasDiscrepancy,
		report.HasPaymentDiscrepancy, report.HasInventoryDiscrepancy, payload)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *Store) RecordSale(ctx context.Context, movement domain.SaleMovement, units []domain.PlanUnits) (*domain.SaleMovement, error) {
	if movement.Amount.IsNegative() {
		return nil, domain.NewValidationError("amount", "must be >= 0")
	}
	if !movement.PaymentCategory.Valid() {
		return nil, domain.NewValidationError("payment_category", "unknown category "+string(movement.PaymentCategory))
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	movement.Voided = false
	movement.VoidReason = ""
	movement.VoidedAt = nil

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOpenShift(ctx, tx, movement.ShiftID, "record sale"); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sale_movements (id, shift_id, amount, payment_category, voided, void_reason, voided_at, created_at)
		VALUES ($1,$2,$3,$4,false,'',NULL,$5)
	`, movement.ID, movement.ShiftID, movement.Amount, string(movement.PaymentCategory), movement.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, unit := range units {
		if unit.Qty < 1 {
			continue
		}
		if _, err := addUnitsSold(ctx, tx, movement.ShiftID, unit, movement.CreatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := movement
	return &saved, nil
}

// VoidSale waits for an in-progress close of the owning shift, so a void lands
// either before the report is computed or after it is stored.
func (s *Store) VoidSale(ctx context.Context, movementID string, reason string, at time.Time) (*domain.SaleMovement, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row movementRow
	err = tx.GetContext(ctx, &row, `SELECT `+movementColumns+` FROM sale_movements WHERE id = $1 FOR UPDATE`, movementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "sale movement", ID: movementID}
		}
		return nil, err
	}
	if row.Voided {
		movement := row.toDomain()
		return &movement, nil
	}

	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM shifts WHERE id = $1 FOR SHARE`, row.ShiftID); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sale_movements
		SET voided = true, void_reason = $2, voided_at = $3
		WHERE id = $1 AND voided = false
	`, movementID, reason, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	movement := row.toDomain()
	movement.Voided = true
	movement.VoidReason = reason
	movement.VoidedAt = &at
	return &movement, nil
}

func (s *Store) GetMovement(ctx context.Context, movementID string) (*domain.SaleMovement, error) {
	var row movementRow
	err := s.db.GetContext(ctx, &row, `SELECT `+movementColumns+` FROM sale_movements WHERE id = $1`, movementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "sale movement", ID: movementID}
		}
		return nil, err
	}
	movement := row.toDomain()
	return &movement, nil
}

func (s *Store) ListMovements(ctx context.Context, shiftID string) ([]domain.SaleMovement, error) {
	if err := s.requireShift(ctx, shiftID); err != nil {
		return nil, err
	}

	rows := make([]movementRow, 0, 64)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+movementColumns+`
		FROM sale_movements
		WHERE shift_id = $1
		ORDER BY created_at ASC, id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}

	movements := make([]domain.SaleMovement, 0, len(rows))
	for _, row := range rows {
		movements = append(movements, row.toDomain())
	}
	return movements, nil
}

func (s *Store) SumByCategory(ctx context.Context, shiftID string) (domain.CategoryTotals, error) {
	if err := s.requireShift(ctx, shiftID); err != nil {
		return nil, err
	}
	return sumByCategory(ctx, s.db, shiftID)
}

func (s *Store) DeclareOpening(ctx context.Context, shiftID string, count store.PlanCount, at time.Time) (*domain.InventoryDeclaration, error) {
	if count.Qty < 0 {
		return nil, domain.NewValidationError("qty", "must be >= 0")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOpenShift(ctx, tx, shiftID, "declare opening inventory"); err != nil {
		return nil, err
	}

	var row declarationRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO inventory_declarations (shift_id, plan, opening_declared_qty, units_sold, informational, created_at, updated_at)
		VALUES ($1,$2,$3,0,false,$4,$4)
		RETURNING `+declarationColumns,
		shiftID, string(count.Plan), count.Qty, at)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.NewValidationError("plan", "duplicate plan "+string(count.Plan))
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	decl := row.toDomain()
	return &decl, nil
}

func (s *Store) RecordUnitsSold(ctx context.Context, shiftID string, units domain.PlanUnits, at time.Time) (*domain.InventoryDeclaration, error) {
	if units.Qty < 1 {
		return nil, domain.NewValidationError("delta", "must be >= 1")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOpenShift(ctx, tx, shiftID, "record units sold"); err != nil {
		return nil, err
	}
	decl, err := addUnitsSold(ctx, tx, shiftID, units, at)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return decl, nil
}

func (s *Store) DeclareClosing(ctx context.Context, shiftID string, count store.PlanCount, at time.Time) (*domain.InventoryDeclaration, error) {
	if count.Qty < 0 {
		return nil, domain.NewValidationError("qty", "must be >= 0")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOpenShift(ctx, tx, shiftID, "declare closing inventory"); err != nil {
		return nil, err
	}
	decl, err := upsertClosing(ctx, tx, shiftID, count, at)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return decl, nil
}

func (s *Store) ListDeclarations(ctx context.Context, shiftID string) ([]domain.InventoryDeclaration, error) {
	if err := s.requireShift(ctx, shiftID); err != nil {
		return nil, err
	}
	return listDeclarations(ctx, s.db, shiftID)
}

func (s *Store) GetClosureReport(ctx context.Context, shiftID string) (*domain.ClosureReport, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM closure_reports WHERE shift_id = $1`, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "closure report", ID: shiftID}
		}
		return nil, err
	}

	var report domain.ClosureReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode closure report %s: %w", shiftID, err)
	}
	return &report, nil
}

func (s *Store) ListClosureReports(ctx context.Context, query store.ReportQuery) ([]domain.ClosureReport, error) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if !query.From.IsZero() {
		args = append(args, query.From)
		clauses = append(clauses, fmt.Sprintf("closed_at >= $%d", len(args)))
	}
	if !query.To.IsZero() {
		args = append(args, query.To)
		clauses = append(clauses, fmt.Sprintf("closed_at < $%d", len(args)))
	}
	if query.OperatorID != "" {
		args = append(args, query.OperatorID)
		clauses = append(clauses, fmt.Sprintf("operator_id = $%d", len(args)))
	}
	if query.OnlyWithDiscrepancies {
		clauses = append(clauses, "has_discrepancy = true")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limitClause := ""
	if query.Limit > 0 {
		args = append(args, query.Limit)
		limitClause = fmt.Sprintf("LIMIT $%d", len(args))
	}

	payloads := make([][]byte, 0, 64)
	err := s.db.SelectContext(ctx, &payloads, fmt.Sprintf(`
		SELECT payload
		FROM closure_reports
		%s
		ORDER BY closed_at DESC, shift_id DESC
		%s
	`, where, limitClause), args...)
	if err != nil {
		return nil, err
	}

	reports := make([]domain.ClosureReport, 0, len(payloads))
	for _, payload := range payloads {
		var report domain.ClosureReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("decode closure report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

type auditRow struct {
	ID            string    `db:"id"`
	ActorUsername string    `db:"actor_username"`
	ActorRole     string    `db:"actor_role"`
	Action        string    `db:"action"`
	EntityType    string    `db:"entity_type"`
	EntityID      string    `db:"entity_id"`
	Detail        string    `db:"detail"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows := make([]auditRow, 0, limit)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, domain.AuditLog{
			ID:            row.ID,
			ActorUsername: row.ActorUsername,
			ActorRole:     row.ActorRole,
			Action:        row.Action,
			EntityType:    row.EntityType,
			EntityID:      row.EntityID,
			Detail:        row.Detail,
			CreatedAt:     row.CreatedAt.UTC(),
		})
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.NewValidationError("username", "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidationError("username", "username already exists")
		}
		return err
	}
	return nil
}

type userRow struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows := make([]userRow, 0, 16)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.NewValidationError("password", "is required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &domain.NotFoundError{Entity: "user", ID: username}
	}
	return nil
}

func (s *Store) requireShift(ctx context.Context, shiftID string) error {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, shiftID)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.NotFoundError{Entity: "shift", ID: shiftID}
	}
	return nil
}

// lockOpenShift takes the shift row FOR SHARE and checks it is open. Writers
// holding the share lock block a concurrent close until they commit.
func lockOpenShift(ctx context.Context, tx *sqlx.Tx, shiftID string, operation string) error {
	var status string
	err := tx.GetContext(ctx, &status, `SELECT status FROM shifts WHERE id = $1 FOR SHARE`, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Entity: "shift", ID: shiftID}
		}
		return err
	}
	if domain.ShiftStatus(status) != domain.ShiftStatusOpen {
		return &domain.InvalidStateError{ShiftID: shiftID, Status: domain.ShiftStatus(status), Operation: operation}
	}
	return nil
}

func addUnitsSold(ctx context.Context, tx *sqlx.Tx, shiftID string, units domain.PlanUnits, at time.Time) (*domain.InventoryDeclaration, error) {
	var row declarationRow
	err := tx.GetContext(ctx, &row, `
		INSERT INTO inventory_declarations (shift_id, plan, opening_declared_qty, units_sold, informational, created_at, updated_at)
		VALUES ($1,$2,0,$3,true,$4,$4)
		ON CONFLICT (shift_id, plan)
		DO UPDATE SET units_sold = inventory_declarations.units_sold + EXCLUDED.units_sold, updated_at = EXCLUDED.updated_at
		RETURNING `+declarationColumns,
		shiftID, string(units.Plan), units.Qty, at)
	if err != nil {
		return nil, err
	}
	decl := row.toDomain()
	return &decl, nil
}

func upsertClosing(ctx context.Context, tx *sqlx.Tx, shiftID string, count store.PlanCount, at time.Time) (*domain.InventoryDeclaration, error) {
	var row declarationRow
	err := tx.GetContext(ctx, &row, `
		INSERT INTO inventory_declarations (shift_id, plan, opening_declared_qty, units_sold, closing_declared_qty, informational, created_at, updated_at)
		VALUES ($1,$2,0,0,$3,true,$4,$4)
		ON CONFLICT (shift_id, plan)
		DO UPDATE SET closing_declared_qty = EXCLUDED.closing_declared_qty, updated_at = EXCLUDED.updated_at
		RETURNING `+declarationColumns,
		shiftID, string(count.Plan), count.Qty, at)
	if err != nil {
		return nil, err
	}
	decl := row.toDomain()
	return &decl, nil
}

func listDeclarations(ctx context.Context, q sqlx.QueryerContext, shiftID string) ([]domain.InventoryDeclaration, error) {
	rows := make([]declarationRow, 0, 8)
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT `+declarationColumns+`
		FROM inventory_declarations
		WHERE shift_id = $1
		ORDER BY created_at ASC, plan ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}

	declarations := make([]domain.InventoryDeclaration, 0, len(rows))
	for _, row := range rows {
		declarations = append(declarations, row.toDomain())
	}
	return declarations, nil
}

type categoryTotalRow struct {
	PaymentCategory string          `db:"payment_category"`
	Total           decimal.Decimal `db:"total"`
}

func sumByCategory(ctx context.Context, q sqlx.QueryerContext, shiftID string) (domain.CategoryTotals, error) {
	rows := make([]categoryTotalRow, 0, len(domain.PaymentCategories))
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT payment_category, COALESCE(SUM(amount), 0) AS total
		FROM sale_movements
		WHERE shift_id = $1 AND voided = false
		GROUP BY payment_category
	`, shiftID)
	if err != nil {
		return nil, err
	}

	totals := domain.CategoryTotals{}
	for _, row := range rows {
		totals[domain.PaymentCategory(row.PaymentCategory)] = row.Total
	}
	return totals, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

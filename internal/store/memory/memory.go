package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/store"
	"localsim/backend/internal/xid"
)

// Store keeps everything in process memory. A single mutex serializes writers,
// which gives every operation the same all-or-nothing behaviour the postgres
// store gets from transactions.
type Store struct {
	mu               sync.RWMutex
	shiftsByID       map[string]domain.Shift
	openShiftByOp    map[string]string
	declarations     map[string][]domain.InventoryDeclaration
	movementsByID    map[string]domain.SaleMovement
	movementsByShift map[string][]string
	reportsByShift   map[string]domain.ClosureReport
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		shiftsByID:       make(map[string]domain.Shift),
		openShiftByOp:    make(map[string]string),
		declarations:     make(map[string][]domain.InventoryDeclaration),
		movementsByID:    make(map[string]domain.SaleMovement),
		movementsByShift: make(map[string][]string),
		reportsByShift:   make(map[string]domain.ClosureReport),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with the dev/demo accounts. Credentials are read
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to dev
// defaults with a warning. The postgres store is used whenever DATABASE_URL
// is set, so these never reach production.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) OpenShift(ctx context.Context, shift domain.Shift, declarations []store.PlanCount) (*domain.Shift, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, exists := s.openShiftByOp[shift.OperatorID]; exists {
		return nil, &domain.ConflictError{OperatorID: shift.OperatorID, ShiftID: existingID}
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil

	rows := make([]domain.InventoryDeclaration, 0, len(declarations))
	for _, decl := range declarations {
		rows = append(rows, domain.InventoryDeclaration{
			ShiftID:            shift.ID,
			Plan:               decl.Plan,
			OpeningDeclaredQty: decl.Qty,
			UpdatedAt:          shift.OpenedAt,
		})
	}

	s.shiftsByID[shift.ID] = shift
	s.openShiftByOp[shift.OperatorID] = shift.ID
	s.declarations[shift.ID] = rows
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, &domain.NotFoundError{Entity: "shift", ID: shiftID}
	}
	return cloneShift(shift), nil
}

func (s *Store) GetOpenShiftByOperator(_ context.Context, operatorID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.openShiftByOp[operatorID]
	if !exists {
		return nil, &domain.NotFoundError{Entity: "open shift for operator", ID: operatorID}
	}
	return cloneShift(s.shiftsByID[shiftID]), nil
}

func (s *Store) CloseShift(ctx context.Context, params store.CloseParams, compute store.CloseFunc) (*domain.ClosureReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[params.ShiftID]
	if !exists {
		return nil, &domain.NotFoundError{Entity: "shift", ID: params.ShiftID}
	}
	if !shift.IsOpen() {
		return nil, &domain.InvalidStateError{ShiftID: shift.ID, Status: shift.Status, Operation: "close shift"}
	}
	closedAt := params.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	declarations := store.ApplyClosing(shift.ID, s.declarations[shift.ID], params.Closing, closedAt)
	snapshot := store.ShiftSnapshot{
		Shift:        *cloneShift(shift),
		ClosedAt:     closedAt,
		Declarations: declarations,
		System:       s.sumByCategoryLocked(shift.ID),
	}
	report, err := compute(snapshot)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &closedAt
	shift.ClosingObservations = params.Observations
	s.shiftsByID[shift.ID] = shift
	delete(s.openShiftByOp, shift.OperatorID)
	s.declarations[shift.ID] = declarations
	s.reportsByShift[shift.ID] = cloneReport(report)

	saved := cloneReport(report)
	return &saved, nil
}

func (s *Store) RecordSale(ctx context.Context, movement domain.SaleMovement, units []domain.PlanUnits) (*domain.SaleMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if movement.Amount.IsNegative() {
		return nil, domain.NewValidationError("amount", "must be >= 0")
	}
	if !movement.PaymentCategory.Valid() {
		return nil, domain.NewValidationError("payment_category", "unknown category "+string(movement.PaymentCategory))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireOpenLocked(movement.ShiftID, "record sale"); err != nil {
		return nil, err
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

	for _, unit := range units {
		if unit.Qty < 1 {
			continue
		}
		s.addUnitsSoldLocked(movement.ShiftID, unit, movement.CreatedAt)
	}
	s.movementsByID[movement.ID] = movement
	s.movementsByShift[movement.ShiftID] = append(s.movementsByShift[movement.ShiftID], movement.ID)

	saved := movement
	return &saved, nil
}

// VoidSale is idempotent and allowed after close: stored closure reports are
// never touched.
func (s *Store) VoidSale(_ context.Context, movementID string, reason string, at time.Time) (*domain.SaleMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	movement, exists := s.movementsByID[movementID]
	if !exists {
		return nil, &domain.NotFoundError{Entity: "sale movement", ID: movementID}
	}
	if movement.Voided {
		saved := movement
		return &saved, nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	movement.Voided = true
	movement.VoidReason = reason
	movement.VoidedAt = &at
	s.movementsByID[movementID] = movement

	saved := movement
	return &saved, nil
}

func (s *Store) GetMovement(_ context.Context, movementID string) (*domain.SaleMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movement, exists := s.movementsByID[movementID]
	if !exists {
		return nil, &domain.NotFoundError{Entity: "sale movement", ID: movementID}
	}
	return &movement, nil
}

func (s *Store) ListMovements(_ context.Context, shiftID string) ([]domain.SaleMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.shiftsByID[shiftID]; !exists {
		return nil, &domain.NotFoundError{Entity: "shift", ID: shiftID}
	}
	ids := s.movementsByShift[shiftID]
	result := make([]domain.SaleMovement, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.movementsByID[id])
	}
	slices.SortStableFunc(result, func(a, b domain.SaleMovement) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

func (s *Store) SumByCategory(_ context.Context, shiftID string) (domain.CategoryTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.shiftsByID[shiftID]; !exists {
		return nil, &domain.NotFoundError{Entity: "shift", ID: shiftID}
	}
	return s.sumByCategoryLocked(shiftID), nil
}

func (s *Store) DeclareOpening(_ context.Context, shiftID string, count store.PlanCount, at time.Time) (*domain.InventoryDeclaration, error) {
	if count.Qty < 0 {
		return nil, domain.NewValidationError("qty", "must be >= 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireOpenLocked(shiftID, "declare opening inventory"); err != nil {
		return nil, err
	}
	for _, decl := range s.declarations[shiftID] {
		if decl.Plan == count.Plan {
			return nil, domain.NewValidationError("plan", "duplicate plan "+string(count.Plan))
		}
	}
	row := domain.InventoryDeclaration{
		ShiftID:            shiftID,
		Plan:               count.Plan,
		OpeningDeclaredQty: count.Qty,
		UpdatedAt:          nowOr(at),
	}
	s.declarations[shiftID] = append(s.declarations[shiftID], row)
	return cloneDeclaration(row), nil
}

func (s *Store) RecordUnitsSold(_ context.Context, shiftID string, units domain.PlanUnits, at time.Time) (*domain.InventoryDeclaration, error) {
	if units.Qty < 1 {
		return nil, domain.NewValidationError("delta", "must be >= 1")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireOpenLocked(shiftID, "record units sold"); err != nil {
		return nil, err
	}
	row := s.addUnitsSoldLocked(shiftID, units, nowOr(at))
	return cloneDeclaration(row), nil
}

func (s *Store) DeclareClosing(_ context.Context, shiftID string, count store.PlanCount, at time.Time) (*domain.InventoryDeclaration, error) {
	if count.Qty < 0 {
		return nil, domain.NewValidationError("qty", "must be >= 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireOpenLocked(shiftID, "declare closing inventory"); err != nil {
		return nil, err
	}
	rows := store.ApplyClosing(shiftID, s.declarations[shiftID], []store.PlanCount{count}, nowOr(at))
	s.declarations[shiftID] = rows
	for _, row := range rows {
		if row.Plan == count.Plan {
			return cloneDeclaration(row), nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "declaration", ID: string(count.Plan)}
}

func (s *Store) ListDeclarations(_ context.Context, shiftID string) ([]domain.InventoryDeclaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.shiftsByID[shiftID]; !exists {
		return nil, &domain.NotFoundError{Entity: "shift", ID: shiftID}
	}
	rows := s.declarations[shiftID]
	result := make([]domain.InventoryDeclaration, 0, len(rows))
	for _, row := range rows {
		result = append(result, *cloneDeclaration(row))
	}
	return result, nil
}

func (s *Store) GetClosureReport(_ context.Context, shiftID string) (*domain.ClosureReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, exists := s.reportsByShift[shiftID]
	if !exists {
		return nil, &domain.NotFoundError{Entity: "closure report", ID: shiftID}
	}
	saved := cloneReport(report)
	return &saved, nil
}

func (s *Store) ListClosureReports(_ context.Context, query store.ReportQuery) ([]domain.ClosureReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ClosureReport, 0, len(s.reportsByShift))
	for _, report := range s.reportsByShift {
		if !query.From.IsZero() && report.ClosedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && !report.ClosedAt.Before(query.To) {
			continue
		}
		if query.OperatorID != "" && report.OperatorID != query.OperatorID {
			continue
		}
		if query.OnlyWithDiscrepancies && !report.HasDiscrepancy {
			continue
		}
		result = append(result, cloneReport(report))
	}
	slices.SortFunc(result, func(a, b domain.ClosureReport) int {
		if a.ClosedAt.Equal(b.ClosedAt) {
			return cmpString(b.ShiftID, a.ShiftID)
		}
		if a.ClosedAt.After(b.ClosedAt) {
			return -1
		}
		return 1
	})
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.NewValidationError("username", "username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return domain.NewValidationError("username", "username already exists")
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.NewValidationError("password", "is required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return &domain.NotFoundError{Entity: "user", ID: username}
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) requireOpenLocked(shiftID string, operation string) (domain.Shift, error) {
	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return domain.Shift{}, &domain.NotFoundError{Entity: "shift", ID: shiftID}
	}
	if !shift.IsOpen() {
		return domain.Shift{}, &domain.InvalidStateError{ShiftID: shiftID, Status: shift.Status, Operation: operation}
	}
	return shift, nil
}

func (s *Store) addUnitsSoldLocked(shiftID string, units domain.PlanUnits, at time.Time) domain.InventoryDeclaration {
	rows := s.declarations[shiftID]
	for i := range rows {
		if rows[i].Plan == units.Plan {
			rows[i].UnitsSold += units.Qty
			rows[i].UpdatedAt = at
			return rows[i]
		}
	}
	row := domain.InventoryDeclaration{
		ShiftID:       shiftID,
		Plan:          units.Plan,
		UnitsSold:     units.Qty,
		Informational: true,
		UpdatedAt:     at,
	}
	s.declarations[shiftID] = append(rows, row)
	return row
}

func (s *Store) sumByCategoryLocked(shiftID string) domain.CategoryTotals {
	totals := domain.CategoryTotals{}
	for _, id := range s.movementsByShift[shiftID] {
		movement := s.movementsByID[id]
		if movement.Voided {
			continue
		}
		totals[movement.PaymentCategory] = totals.Get(movement.PaymentCategory).Add(movement.Amount)
	}
	return totals
}

func nowOr(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneShift(src domain.Shift) *domain.Shift {
	dup := src
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dup.ClosedAt = &at
	}
	return &dup
}

func cloneDeclaration(src domain.InventoryDeclaration) *domain.InventoryDeclaration {
	dup := src
	if src.ClosingDeclaredQty != nil {
		qty := *src.ClosingDeclaredQty
		dup.ClosingDeclaredQty = &qty
	}
	return &dup
}

func cloneReport(src domain.ClosureReport) domain.ClosureReport {
	dup := src
	dup.Payments = slices.Clone(src.Payments)
	dup.Inventory = make([]domain.InventoryReconciliation, len(src.Inventory))
	for i, item := range src.Inventory {
		if item.ClosingDeclaredQty != nil {
			qty := *item.ClosingDeclaredQty
			item.ClosingDeclaredQty = &qty
		}
		if item.Discrepancy != nil {
			diff := *item.Discrepancy
			item.Discrepancy = &diff
		}
		dup.Inventory[i] = item
	}
	return dup
}

package store

import (
	"context"
	"time"

	"localsim/backend/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrConflict     = domain.ErrConflict
	ErrInvalidState = domain.ErrInvalidState
	ErrValidation   = domain.ErrValidation
)

// PlanCount is a declared quantity for one plan.
type PlanCount struct {
	Plan domain.PlanCode
	Qty  int
}

// ShiftSnapshot is the frozen view of a shift handed to the close computation:
// declarations already carry the closing counts that are about to be written.
type ShiftSnapshot struct {
	Shift        domain.Shift
	ClosedAt     time.Time
	Declarations []domain.InventoryDeclaration
	System       domain.CategoryTotals
}

type CloseParams struct {
	ShiftID      string
	Closing      []PlanCount
	ClosedAt     time.Time
	Observations string
}

// CloseFunc computes the closure report from a snapshot. Returning an error
// aborts the close without persisting anything.
type CloseFunc func(snapshot ShiftSnapshot) (domain.ClosureReport, error)

type ReportQuery struct {
	From                  time.Time
	To                    time.Time
	OperatorID            string
	OnlyWithDiscrepancies bool
	// Limit < 1 returns every matching report.
	Limit int
}

type Repository interface {
	OpenShift(ctx context.Context, shift domain.Shift, declarations []PlanCount) (*domain.Shift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.Shift, error)
	GetOpenShiftByOperator(ctx context.Context, operatorID string) (*domain.Shift, error)
	CloseShift(ctx context.Context, params CloseParams, compute CloseFunc) (*domain.ClosureReport, error)

	RecordSale(ctx context.Context, movement domain.SaleMovement, units []domain.PlanUnits) (*domain.SaleMovement, error)
	VoidSale(ctx context.Context, movementID string, reason string, at time.Time) (*domain.SaleMovement, error)
	GetMovement(ctx context.Context, movementID string) (*domain.SaleMovement, error)
	ListMovements(ctx context.Context, shiftID string) ([]domain.SaleMovement, error)
	SumByCategory(ctx context.Context, shiftID string) (domain.CategoryTotals, error)

	DeclareOpening(ctx context.Context, shiftID string, count PlanCount, at time.Time) (*domain.InventoryDeclaration, error)
	RecordUnitsSold(ctx context.Context, shiftID string, units domain.PlanUnits, at time.Time) (*domain.InventoryDeclaration, error)
	DeclareClosing(ctx context.Context, shiftID string, count PlanCount, at time.Time) (*domain.InventoryDeclaration, error)
	ListDeclarations(ctx context.Context, shiftID string) ([]domain.InventoryDeclaration, error)

	GetClosureReport(ctx context.Context, shiftID string) (*domain.ClosureReport, error)
	ListClosureReports(ctx context.Context, query ReportQuery) ([]domain.ClosureReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// ApplyClosing returns a copy of declarations with the closing counts written
// in. Plans without an opening row get an informational row.
func ApplyClosing(shiftID string, declarations []domain.InventoryDeclaration, closing []PlanCount, at time.Time) []domain.InventoryDeclaration {
	result := make([]domain.InventoryDeclaration, len(declarations), len(declarations)+len(closing))
	copy(result, declarations)
	index := make(map[domain.PlanCode]int, len(result))
	for i := range result {
		if result[i].ClosingDeclaredQty != nil {
			qty := *result[i].ClosingDeclaredQty
			result[i].ClosingDeclaredQty = &qty
		}
		index[result[i].Plan] = i
	}
	for _, count := range closing {
		qty := count.Qty
		if i, ok := index[count.Plan]; ok {
			result[i].ClosingDeclaredQty = &qty
			result[i].UpdatedAt = at
			continue
		}
		result = append(result, domain.InventoryDeclaration{
			ShiftID:            shiftID,
			Plan:               count.Plan,
			ClosingDeclaredQty: &qty,
			Informational:      true,
			UpdatedAt:          at,
		})
		index[count.Plan] = len(result) - 1
	}
	return result
}

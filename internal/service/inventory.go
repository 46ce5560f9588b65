package service

import (
	"context"
	"fmt"

	"localsim/backend/internal/domain"
)

// DeclareOpening adds an opening count for a plan not yet declared on the
// open shift.
func (s *Service) DeclareOpening(ctx context.Context, shiftID string, req domain.DeclarationInput) (domain.InventoryDeclaration, error) {
	counts, err := planCounts("declaration", []domain.DeclarationInput{req}, false)
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}
	shift, err := s.openShiftFor(ctx, shiftID)
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}

	row, err := s.repo.DeclareOpening(ctx, shift.ID, counts[0], s.now())
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}
	s.logAudit(ctx, "inventory_opening", "shift", shift.ID, fmt.Sprintf("plan=%s qty=%d", row.Plan, row.OpeningDeclaredQty))
	return *row, nil
}

// DeclareClosing stages a closing count while the shift is open. Plans that
// were never opened get an informational row.
func (s *Service) DeclareClosing(ctx context.Context, shiftID string, req domain.DeclarationInput) (domain.InventoryDeclaration, error) {
	counts, err := planCounts("declaration", []domain.DeclarationInput{req}, true)
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}
	shift, err := s.openShiftFor(ctx, shiftID)
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}

	row, err := s.repo.DeclareClosing(ctx, shift.ID, counts[0], s.now())
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}
	s.logAudit(ctx, "inventory_closing", "shift", shift.ID, fmt.Sprintf("plan=%s qty=%d", row.Plan, counts[0].Qty))
	return *row, nil
}

// RecordUnitsSold bumps the sold counter of a plan. Unknown plans never fail,
// they land on an informational row.
func (s *Service) RecordUnitsSold(ctx context.Context, shiftID string, req domain.UnitsSoldRequest) (domain.InventoryDeclaration, error) {
	if err := validateRequest(req); err != nil {
		return domain.InventoryDeclaration{}, err
	}
	plan := domain.ParsePlanCode(req.Plan)
	if plan == "" {
		return domain.InventoryDeclaration{}, domain.NewValidationError("plan", "is required")
	}
	shift, err := s.shiftFor(ctx, shiftID)
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}

	row, err := s.repo.RecordUnitsSold(ctx, shift.ID, domain.PlanUnits{Plan: plan, Qty: req.Delta}, s.now())
	if err != nil {
		return domain.InventoryDeclaration{}, err
	}
	if row.Informational {
		s.log.Warn().Str("shift_id", shift.ID).Str("plan", string(plan)).Msg("units sold for a plan without opening count")
	}
	return *row, nil
}

// InventoryStatus exposes the full per-plan rows, opening counts included.
// Callers restrict it to supervisors.
func (s *Service) InventoryStatus(ctx context.Context, shiftID string) (domain.InventoryStatus, error) {
	shift, err := s.shiftFor(ctx, shiftID)
	if err != nil {
		return domain.InventoryStatus{}, err
	}
	declarations, err := s.repo.ListDeclarations(ctx, shift.ID)
	if err != nil {
		return domain.InventoryStatus{}, err
	}
	return domain.InventoryStatus{ShiftID: shift.ID, Declarations: declarations}, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/reconcile"
	"localsim/backend/internal/store"
	"localsim/backend/internal/xid"
)

// OpenShift opens a shift for the caller with its opening inventory. The whole
// open fails if any declaration is invalid.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if err := validateRequest(req); err != nil {
		return domain.ShiftResponse{}, err
	}
	operatorID, err := operatorFor(ctx, strings.TrimSpace(req.OperatorID))
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	counts, err := planCounts("declarations", req.Declarations, false)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	shift := domain.Shift{
		ID:                  xid.New("shift"),
		OperatorID:          operatorID,
		Status:              domain.ShiftStatusOpen,
		OpeningObservations: strings.TrimSpace(req.Observations),
		OpenedAt:            s.now(),
	}
	saved, err := s.repo.OpenShift(ctx, shift, counts)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.metrics.ShiftOpened()
	s.logAudit(ctx, "shift_open", "shift", saved.ID, fmt.Sprintf("operator=%s plans=%d", operatorID, len(counts)))
	s.log.Info().Str("shift_id", saved.ID).Str("operator_id", operatorID).Int("plans", len(counts)).Msg("shift opened")

	return domain.ShiftResponse{Shift: *saved}, nil
}

// GetOpenShift returns the open shift of operatorID, or of the caller when
// operatorID is empty.
func (s *Service) GetOpenShift(ctx context.Context, operatorID string) (domain.ShiftResponse, error) {
	operatorID, err := operatorFor(ctx, strings.TrimSpace(operatorID))
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	shift, err := s.repo.GetOpenShiftByOperator(ctx, operatorID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.ShiftResponse, error) {
	shift, err := s.shiftFor(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

// ClosingSheet lists what has to be counted at close. Opening quantities and
// system amounts are deliberately absent.
func (s *Service) ClosingSheet(ctx context.Context, shiftID string) (domain.ClosingSheet, error) {
	shift, err := s.openShiftFor(ctx, shiftID)
	if err != nil {
		return domain.ClosingSheet{}, err
	}
	declarations, err := s.repo.ListDeclarations(ctx, shift.ID)
	if err != nil {
		return domain.ClosingSheet{}, err
	}

	plans := make([]domain.PlanCode, 0, len(declarations))
	for _, decl := range declarations {
		plans = append(plans, decl.Plan)
	}
	reconcile.SortPlans(plans)

	return domain.ClosingSheet{
		ShiftID:           shift.ID,
		OperatorID:        shift.OperatorID,
		OpenedAt:          shift.OpenedAt,
		Plans:             plans,
		PaymentCategories: append([]domain.PaymentCategory(nil), domain.PaymentCategories...),
	}, nil
}

// CloseShift reconciles and closes an open shift in one store transaction.
// Nonzero discrepancies are a successful outcome flagged on the report.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ClosureReport, error) {
	startedAt := s.clock()

	if strings.TrimSpace(req.ShiftID) == "" {
		return domain.ClosureReport{}, domain.NewValidationError("shift_id", "is required")
	}
	if err := validateRequest(req); err != nil {
		return domain.ClosureReport{}, err
	}
	reported, err := reportedTotals(s.policy, req.ReportedAmounts)
	if err != nil {
		return domain.ClosureReport{}, err
	}
	closing, err := planCounts("closing_declarations", req.ClosingDeclarations, true)
	if err != nil {
		return domain.ClosureReport{}, err
	}
	if _, err := s.openShiftFor(ctx, req.ShiftID); err != nil {
		return domain.ClosureReport{}, err
	}

	closeCtx, cancel := context.WithTimeout(ctx, s.closeTimeout)
	defer cancel()

	observations := strings.TrimSpace(req.Observations)
	report, err := s.repo.CloseShift(closeCtx, store.CloseParams{
		ShiftID:      req.ShiftID,
		Closing:      closing,
		ClosedAt:     s.now(),
		Observations: observations,
	}, func(snapshot store.ShiftSnapshot) (domain.ClosureReport, error) {
		return reconcile.Report(s.policy, reconcile.Input{
			Shift:               snapshot.Shift,
			ClosedAt:            snapshot.ClosedAt,
			Reported:            reported,
			System:              snapshot.System,
			Declarations:        snapshot.Declarations,
			ClosingObservations: observations,
		}), nil
	})
	if err != nil {
		// Another close won the race: the shift is no longer open.
		if errors.Is(err, domain.ErrInvalidState) {
			return domain.ClosureReport{}, &domain.NotFoundError{Entity: "open shift", ID: req.ShiftID}
		}
		return domain.ClosureReport{}, err
	}

	s.metrics.ShiftClosed(*report, s.clock().Sub(startedAt))
	s.logAudit(ctx, "shift_close", "shift", report.ShiftID, fmt.Sprintf("has_discrepancy=%t plans_with_discrepancy=%d", report.HasDiscrepancy, len(report.PlansWithDiscrepancy())))
	s.log.Info().
		Str("shift_id", report.ShiftID).
		Str("operator_id", report.OperatorID).
		Bool("has_discrepancy", report.HasDiscrepancy).
		Msg("shift closed")

	if err := s.reports.Set(context.WithoutCancel(ctx), report, s.reportTTL); err != nil {
		s.log.Warn().Err(err).Str("shift_id", report.ShiftID).Msg("failed to cache closure report")
	}
	if report.HasDiscrepancy {
		s.notifyDiscrepancy(ctx, *report)
	}

	return *report, nil
}

// GetClosureReport returns the report persisted when the shift closed.
func (s *Service) GetClosureReport(ctx context.Context, shiftID string) (domain.ClosureReport, error) {
	shift, err := s.shiftFor(ctx, shiftID)
	if err != nil {
		return domain.ClosureReport{}, err
	}

	if cached, ok, err := s.reports.Get(ctx, shift.ID); err != nil {
		s.log.Warn().Err(err).Str("shift_id", shift.ID).Msg("closure report cache read failed")
	} else if ok {
		return *cached, nil
	}

	report, err := s.repo.GetClosureReport(ctx, shift.ID)
	if err != nil {
		return domain.ClosureReport{}, err
	}
	if err := s.reports.Set(ctx, report, s.reportTTL); err != nil {
		s.log.Warn().Err(err).Str("shift_id", shift.ID).Msg("failed to cache closure report")
	}
	return *report, nil
}

func reportedTotals(policy reconcile.Policy, amounts domain.ReportedAmounts) (domain.CategoryTotals, error) {
	fields := []struct {
		category domain.PaymentCategory
		field    string
		amount   *decimal.Decimal
	}{
		{domain.PaymentCash, "reported_amounts.cash", amounts.Cash},
		{domain.PaymentCard, "reported_amounts.card", amounts.Card},
		{domain.PaymentForeignCurrency, "reported_amounts.foreign_currency", amounts.ForeignCurrency},
	}
	totals := make(domain.CategoryTotals, len(fields))
	for _, entry := range fields {
		if err := requireNonNegative(entry.field, entry.amount); err != nil {
			return nil, err
		}
		if err := requireScale(entry.field, *entry.amount, policy.Scale(entry.category)); err != nil {
			return nil, err
		}
		totals[entry.category] = *entry.amount
	}
	return totals, nil
}

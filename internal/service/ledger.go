package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/xid"
)

// RecordSale appends a sale to the ledger of an open shift, together with the
// plan units it consumed.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	if err := validateRequest(req); err != nil {
		return domain.SaleResponse{}, err
	}
	if err := requireNonNegative("amount", req.Amount); err != nil {
		return domain.SaleResponse{}, err
	}
	category, err := parseCategory("payment_category", req.PaymentCategory)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if err := requireScale("amount", *req.Amount, s.policy.Scale(category)); err != nil {
		return domain.SaleResponse{}, err
	}

	units := make([]domain.PlanUnits, 0, len(req.Lines))
	for _, line := range req.Lines {
		units = append(units, domain.PlanUnits{Plan: domain.ParsePlanCode(line.Plan), Qty: line.Qty})
	}
	return s.recordMovement(ctx, req.ShiftID, *req.Amount, category, mergeUnits(units), "sale_record")
}

// Checkout completes a cart: every item is priced through the catalog and SIM
// items consume units of their plan. Foreign currency sales carry the tendered
// amount as is, there is no conversion.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SaleResponse, error) {
	if err := validateRequest(req); err != nil {
		return domain.SaleResponse{}, err
	}
	category, err := parseCategory("payment_category", req.PaymentCategory)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	total := decimal.Zero
	units := make([]domain.PlanUnits, 0, len(req.Items))
	for i, cartItem := range req.Items {
		item, err := s.catalog.Lookup(ctx, cartItem.SKU)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.SaleResponse{}, domain.NewValidationError(fmt.Sprintf("items[%d].sku", i), fmt.Sprintf("unknown sku %q", cartItem.SKU))
			}
			return domain.SaleResponse{}, fmt.Errorf("lookup sku %s: %w", cartItem.SKU, err)
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(cartItem.Qty))))
		if item.Plan != "" {
			units = append(units, domain.PlanUnits{Plan: item.Plan, Qty: cartItem.Qty})
		}
	}

	amount := total
	switch category {
	case domain.PaymentForeignCurrency:
		if err := requireNonNegative("tendered_amount", req.TenderedAmount); err != nil {
			return domain.SaleResponse{}, err
		}
		amount = *req.TenderedAmount
	case domain.PaymentCash:
		if req.TenderedAmount != nil && req.TenderedAmount.LessThan(total) {
			return domain.SaleResponse{}, domain.NewValidationError("tendered_amount", "is below the cart total "+total.String())
		}
	}

	if err := requireScale("amount", amount, s.policy.Scale(category)); err != nil {
		return domain.SaleResponse{}, err
	}
	return s.recordMovement(ctx, req.ShiftID, amount, category, mergeUnits(units), "checkout")
}

func (s *Service) recordMovement(ctx context.Context, shiftID string, amount decimal.Decimal, category domain.PaymentCategory, units []domain.PlanUnits, action string) (domain.SaleResponse, error) {
	shiftID = strings.TrimSpace(shiftID)
	if _, err := s.shiftFor(ctx, shiftID); err != nil {
		return domain.SaleResponse{}, err
	}

	movement, err := s.repo.RecordSale(ctx, domain.SaleMovement{
		ID:              xid.New("sale"),
		ShiftID:         shiftID,
		Amount:          amount,
		PaymentCategory: category,
		CreatedAt:       s.now(),
	}, units)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.metrics.SaleRecorded(category)
	s.logAudit(ctx, action, "sale_movement", movement.ID, fmt.Sprintf("shift=%s category=%s amount=%s units=%d", shiftID, category, amount.String(), len(units)))
	s.log.Info().
		Str("shift_id", shiftID).
		Str("movement_id", movement.ID).
		Str("payment_category", string(category)).
		Str("amount", amount.String()).
		Msg("sale recorded")

	return domain.SaleResponse{Movement: *movement, Units: units}, nil
}

// VoidSale marks a movement voided. Voiding twice is a no-op. Reports of
// already closed shifts are not touched.
func (s *Service) VoidSale(ctx context.Context, movementID string, req domain.VoidSaleRequest) (domain.SaleMovement, error) {
	movementID = strings.TrimSpace(movementID)
	if movementID == "" {
		return domain.SaleMovement{}, domain.NewValidationError("movement_id", "is required")
	}
	if err := validateRequest(req); err != nil {
		return domain.SaleMovement{}, err
	}

	existing, err := s.repo.GetMovement(ctx, movementID)
	if err != nil {
		return domain.SaleMovement{}, err
	}
	if _, err := s.shiftFor(ctx, existing.ShiftID); err != nil {
		return domain.SaleMovement{}, &domain.NotFoundError{Entity: "sale movement", ID: movementID}
	}
	if existing.Voided {
		return *existing, nil
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}
	movement, err := s.repo.VoidSale(ctx, movementID, reason, s.now())
	if err != nil {
		return domain.SaleMovement{}, err
	}

	s.metrics.SaleVoided()
	s.logAudit(ctx, "sale_void", "sale_movement", movement.ID, reason)
	s.log.Info().Str("shift_id", movement.ShiftID).Str("movement_id", movement.ID).Msg("sale voided")

	return *movement, nil
}

func (s *Service) ListMovements(ctx context.Context, shiftID string) ([]domain.SaleMovement, error) {
	shift, err := s.shiftFor(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, shift.ID)
}

// SumByCategory totals the non-voided movements of a shift per category.
func (s *Service) SumByCategory(ctx context.Context, shiftID string) (domain.CategoryTotals, error) {
	shift, err := s.shiftFor(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.SumByCategory(ctx, shift.ID)
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = domain.CategoryTotals{}
	}
	for _, category := range domain.PaymentCategories {
		if _, ok := totals[category]; !ok {
			totals[category] = decimal.Zero
		}
	}
	return totals, nil
}

package reconcile

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localsim/backend/internal/domain"
)

func intPtr(v int) *int { return &v }

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return d
}

func TestInventoryBalancedWhenClosingMatchesExpected(t *testing.T) {
	results := Inventory([]domain.InventoryDeclaration{
		{Plan: domain.Plan7Day, OpeningDeclaredQty: 50, UnitsSold: 3, ClosingDeclaredQty: intPtr(47)},
	})

	require.Len(t, results, 1)
	assert.Equal(t, 47, results[0].ExpectedQty)
	require.NotNil(t, results[0].Discrepancy)
	assert.Equal(t, 0, *results[0].Discrepancy)
	assert.Equal(t, domain.OutcomeBalanced, results[0].Outcome)
}

func TestInventoryShortageIsNegative(t *testing.T) {
	results := Inventory([]domain.InventoryDeclaration{
		{Plan: domain.Plan7Day, OpeningDeclaredQty: 50, UnitsSold: 3, ClosingDeclaredQty: intPtr(45)},
	})

	require.NotNil(t, results[0].Discrepancy)
	assert.Equal(t, -2, *results[0].Discrepancy)
	assert.Equal(t, domain.OutcomeShortage, results[0].Outcome)
}

func TestInventoryWithoutClosingCountIsNotApplicable(t *testing.T) {
	results := Inventory([]domain.InventoryDeclaration{
		{Plan: domain.Plan30Day, OpeningDeclaredQty: 10, UnitsSold: 1},
	})

	assert.Nil(t, results[0].Discrepancy)
	assert.Nil(t, results[0].ClosingDeclaredQty)
	assert.Equal(t, domain.OutcomeNotApplicable, results[0].Outcome)
	assert.Equal(t, 9, results[0].ExpectedQty)
}

func TestInventoryOrdersKnownPlansByDurationThenUnknown(t *testing.T) {
	results := Inventory([]domain.InventoryDeclaration{
		{Plan: "zeta"},
		{Plan: domain.Plan30Day},
		{Plan: "alpha"},
		{Plan: domain.Plan5Day},
	})

	plans := make([]domain.PlanCode, 0, len(results))
	for _, r := range results {
		plans = append(plans, r.Plan)
	}
	assert.Equal(t, []domain.PlanCode{domain.Plan5Day, domain.Plan30Day, "alpha", "zeta"}, plans)
}

func TestPaymentsReconcileEachCategoryIndependently(t *testing.T) {
	reported := domain.CategoryTotals{
		domain.PaymentCash:            dec(t, "95000"),
		domain.PaymentCard:            dec(t, "50000"),
		domain.PaymentForeignCurrency: dec(t, "0"),
	}
	system := domain.CategoryTotals{
		domain.PaymentCash: dec(t, "100000"),
		domain.PaymentCard: dec(t, "50000"),
	}

	results := Payments(DefaultPolicy(), reported, system)

	require.Len(t, results, 3)
	assert.Equal(t, domain.PaymentCash, results[0].Category)
	assert.True(t, results[0].Discrepancy.Equal(dec(t, "-5000")))
	assert.Equal(t, domain.OutcomeShortage, results[0].Outcome)
	assert.True(t, results[1].Discrepancy.IsZero())
	assert.Equal(t, domain.OutcomeBalanced, results[1].Outcome)
	assert.Equal(t, domain.OutcomeBalanced, results[2].Outcome)
}

func TestPaymentsRoundPerCategoryScale(t *testing.T) {
	policy := Policy{LocalScale: 2, ForeignScale: 4}
	reported := domain.CategoryTotals{
		domain.PaymentCash:            dec(t, "10.004"),
		domain.PaymentForeignCurrency: dec(t, "3.12345"),
	}
	system := domain.CategoryTotals{
		domain.PaymentCash:            dec(t, "10"),
		domain.PaymentForeignCurrency: dec(t, "3.1234"),
	}

	results := Payments(policy, reported, system)

	assert.Equal(t, domain.OutcomeBalanced, results[0].Outcome)
	assert.True(t, results[2].Discrepancy.Equal(dec(t, "0.0001")))
	assert.Equal(t, domain.OutcomeSurplus, results[2].Outcome)
}

func TestReportFlagsOnlyNonInformationalInventory(t *testing.T) {
	openedAt := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	closedAt := openedAt.Add(8 * time.Hour)
	zero := domain.CategoryTotals{}

	report := Report(DefaultPolicy(), Input{
		Shift:    domain.Shift{ID: "shift-1", OperatorID: "op-1", OpenedAt: openedAt, OpeningObservations: "drawer ok"},
		ClosedAt: closedAt,
		Reported: zero,
		System:   zero,
		Declarations: []domain.InventoryDeclaration{
			{Plan: domain.Plan7Day, OpeningDeclaredQty: 10, UnitsSold: 2, ClosingDeclaredQty: intPtr(8)},
			{Plan: "promo-x", UnitsSold: 1, ClosingDeclaredQty: intPtr(0), Informational: true},
		},
		ClosingObservations: "all good",
	})

	assert.Equal(t, "shift-1", report.ShiftID)
	assert.Equal(t, closedAt, report.ClosedAt)
	assert.Equal(t, "drawer ok", report.OpeningObservations)
	assert.Equal(t, "all good", report.ClosingObservations)
	assert.False(t, report.HasInventoryDiscrepancy)
	assert.False(t, report.HasDiscrepancy)
	require.Len(t, report.Inventory, 2)
	assert.True(t, report.Inventory[1].Informational)
	assert.Equal(t, -1, *report.Inventory[1].Discrepancy)
}

func TestReportFlagsPaymentDiscrepancy(t *testing.T) {
	report := Report(DefaultPolicy(), Input{
		Shift:    domain.Shift{ID: "shift-2", OperatorID: "op-2"},
		Reported: domain.CategoryTotals{domain.PaymentCard: dec(t, "10")},
		System:   domain.CategoryTotals{},
	})

	assert.True(t, report.HasPaymentDiscrepancy)
	assert.True(t, report.HasDiscrepancy)
	assert.Empty(t, report.Inventory)
}

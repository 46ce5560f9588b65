package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/metrics"
	"localsim/backend/internal/reconcile"
	"localsim/backend/internal/store/memory"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []domain.ClosureReport
	err     error
}

func (n *recordingNotifier) NotifyDiscrepancy(_ context.Context, report domain.ClosureReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return n.err
}

type mapCache struct {
	mu      sync.Mutex
	reports map[string]domain.ClosureReport
}

func (c *mapCache) Get(_ context.Context, shiftID string) (*domain.ClosureReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	report, ok := c.reports[shiftID]
	if !ok {
		return nil, false, nil
	}
	return &report, true, nil
}

func (c *mapCache) Set(_ context.Context, report *domain.ClosureReport, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.reports[report.ShiftID]; !exists {
		c.reports[report.ShiftID] = *report
	}
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memory.Store
	notifier *recordingNotifier
	cache    *mapCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.New()
	notifier := &recordingNotifier{}
	reports := &mapCache{reports: map[string]domain.ClosureReport{}}
	clock := &stepClock{now: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)}
	svc := New(repo, Options{
		Notifier:          notifier,
		ReportCache:       reports,
		Metrics:           metrics.New(),
		ShortageThreshold: 2,
		Clock:             clock.Now,
	})
	return fixture{svc: svc, repo: repo, notifier: notifier, cache: reports}
}

func cashierCtx(username string) context.Context {
	return WithActor(context.Background(), domain.Actor{Username: username, Role: domain.RoleCashier})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func qty(n int) *int {
	return &n
}

func money(n int64) *decimal.Decimal {
	d := decimal.NewFromInt(n)
	return &d
}

func amounts(cash, card, foreign int64) domain.ReportedAmounts {
	return domain.ReportedAmounts{Cash: money(cash), Card: money(card), ForeignCurrency: money(foreign)}
}

func openWithPlan(t *testing.T, f fixture, ctx context.Context, plan string, n int) domain.Shift {
	t.Helper()
	resp, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{
		Declarations: []domain.DeclarationInput{{Plan: plan, Qty: qty(n)}},
	})
	require.NoError(t, err)
	return resp.Shift
}

func sellSIM7(t *testing.T, f fixture, ctx context.Context, shiftID string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		_, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
			ShiftID:         shiftID,
			PaymentCategory: domain.PaymentCash,
			Items:           []domain.CartItem{{SKU: "SIM-7D", Qty: 1}},
		})
		require.NoError(t, err)
	}
}

func inventoryRow(t *testing.T, report domain.ClosureReport, plan domain.PlanCode) domain.InventoryReconciliation {
	t.Helper()
	for _, item := range report.Inventory {
		if item.Plan == plan {
			return item
		}
	}
	t.Fatalf("plan %s missing from report", plan)
	return domain.InventoryReconciliation{}
}

func paymentRow(t *testing.T, report domain.ClosureReport, category domain.PaymentCategory) domain.PaymentReconciliation {
	t.Helper()
	for _, payment := range report.Payments {
		if payment.Category == category {
			return payment
		}
	}
	t.Fatalf("category %s missing from report", category)
	return domain.PaymentReconciliation{}
}

func TestCloseBalancedInventory(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	shift := openWithPlan(t, f, ctx, "7-day", 50)
	sellSIM7(t, f, ctx, shift.ID, 3)

	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:             shift.ID,
		ReportedAmounts:     amounts(60000, 0, 0),
		ClosingDeclarations: []domain.DeclarationInput{{Plan: "7-day", Qty: qty(47)}},
	})
	require.NoError(t, err)

	row := inventoryRow(t, report, domain.Plan7Day)
	assert.Equal(t, 3, row.UnitsSold)
	assert.Equal(t, 47, row.ExpectedQty)
	require.NotNil(t, row.Discrepancy)
	assert.Equal(t, 0, *row.Discrepancy)
	assert.Equal(t, domain.OutcomeBalanced, row.Outcome)
	assert.False(t, report.HasDiscrepancy)
	assert.Empty(t, f.notifier.reports)
}

func TestCloseInventoryShortage(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	shift := openWithPlan(t, f, ctx, "7-day", 50)
	sellSIM7(t, f, ctx, shift.ID, 3)

	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:             shift.ID,
		ReportedAmounts:     amounts(60000, 0, 0),
		ClosingDeclarations: []domain.DeclarationInput{{Plan: "7 dias", Qty: qty(45)}},
	})
	require.NoError(t, err)

	row := inventoryRow(t, report, domain.Plan7Day)
	require.NotNil(t, row.Discrepancy)
	assert.Equal(t, -2, *row.Discrepancy)
	assert.Equal(t, domain.OutcomeShortage, row.Outcome)
	assert.True(t, report.HasInventoryDiscrepancy)
	assert.False(t, report.HasPaymentDiscrepancy)
	assert.True(t, report.HasDiscrepancy)
	require.Len(t, f.notifier.reports, 1)
	assert.Equal(t, shift.ID, f.notifier.reports[0].ShiftID)
}

func TestCloseReconcilesCategoriesIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.NoError(t, err)

	_, err = f.svc.RecordSale(ctx, domain.SaleRequest{ShiftID: opened.Shift.ID, Amount: money(100000), PaymentCategory: "cash"})
	require.NoError(t, err)
	_, err = f.svc.RecordSale(ctx, domain.SaleRequest{ShiftID: opened.Shift.ID, Amount: money(50000), PaymentCategory: "card"})
	require.NoError(t, err)

	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:         opened.Shift.ID,
		ReportedAmounts: amounts(95000, 50000, 0),
	})
	require.NoError(t, err)

	cash := paymentRow(t, report, domain.PaymentCash)
	assert.True(t, cash.Discrepancy.Equal(decimal.NewFromInt(-5000)), cash.Discrepancy.String())
	assert.Equal(t, domain.OutcomeShortage, cash.Outcome)
	card := paymentRow(t, report, domain.PaymentCard)
	assert.True(t, card.Discrepancy.IsZero())
	assert.Equal(t, domain.OutcomeBalanced, card.Outcome)
	assert.Empty(t, report.Inventory)
	assert.True(t, report.HasPaymentDiscrepancy)
}

func TestSecondOpenConflictsAndLeavesFirstUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	first := openWithPlan(t, f, ctx, "5-day", 10)

	_, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.ErrorIs(t, err, domain.ErrConflict)

	current, err := f.svc.GetOpenShift(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.Shift.ID)
	assert.Equal(t, first.OpenedAt, current.Shift.OpenedAt)
}

func TestConcurrentOpenOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCloseWithoutForeignCurrencyFails(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	shift := openWithPlan(t, f, ctx, "7-day", 5)

	_, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:         shift.ID,
		ReportedAmounts: domain.ReportedAmounts{Cash: money(0), Card: money(0)},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	var validationErr *domain.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "reported_amounts.foreign_currency", validationErr.Field)

	current, err := f.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.True(t, current.Shift.IsOpen())
}

func TestAmountsFinerThanCategoryScaleAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.NoError(t, err)
	shiftID := opened.Shift.ID

	fine := decimal.RequireFromString("1.001")
	_, err = f.svc.RecordSale(ctx, domain.SaleRequest{ShiftID: shiftID, Amount: &fine, PaymentCategory: "cash"})
	require.ErrorIs(t, err, domain.ErrValidation)
	var validationErr *domain.ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "amount", validationErr.Field)

	padded := decimal.RequireFromString("10.50")
	_, err = f.svc.RecordSale(ctx, domain.SaleRequest{ShiftID: shiftID, Amount: &padded, PaymentCategory: "cash"})
	require.NoError(t, err)

	reported := amounts(0, 0, 0)
	reportedCash := decimal.RequireFromString("10.005")
	reported.Cash = &reportedCash
	_, err = f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shiftID, ReportedAmounts: reported})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "reported_amounts.cash", validationErr.Field)

	reportedCash = decimal.RequireFromString("10.500")
	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shiftID, ReportedAmounts: reported})
	require.NoError(t, err)
	assert.False(t, report.HasPaymentDiscrepancy)
}

func TestExplicitZeroScalePolicyIsKept(t *testing.T) {
	svc := New(memory.New(), Options{Policy: &reconcile.Policy{LocalScale: 0, ForeignScale: 0}})
	assert.Equal(t, reconcile.Policy{}, svc.policy)

	ctx := cashierCtx("kasir")
	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.NoError(t, err)
	half := decimal.RequireFromString("1.5")
	_, err = svc.RecordSale(ctx, domain.SaleRequest{ShiftID: opened.Shift.ID, Amount: &half, PaymentCategory: "cash"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, reconcile.DefaultPolicy(), New(memory.New(), Options{}).policy)
}

func TestCloseRejectsNegativeReportedAmount(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	shift := openWithPlan(t, f, ctx, "7-day", 5)

	_, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, ReportedAmounts: amounts(-1, 0, 0)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOpenValidatesDeclarations(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")

	cases := []struct {
		name  string
		decls []domain.DeclarationInput
	}{
		{"duplicate plan", []domain.DeclarationInput{{Plan: "7-day", Qty: qty(1)}, {Plan: "7D", Qty: qty(2)}}},
		{"negative qty", []domain.DeclarationInput{{Plan: "7-day", Qty: qty(-1)}}},
		{"missing qty", []domain.DeclarationInput{{Plan: "7-day"}}},
		{"unknown plan", []domain.DeclarationInput{{Plan: "promo-x", Qty: qty(1)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{Declarations: tc.decls})
			require.ErrorIs(t, err, domain.ErrValidation)
			_, err = f.svc.GetOpenShift(ctx, "")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestVoidAfterCloseKeepsReport(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.NoError(t, err)
	sale, err := f.svc.RecordSale(ctx, domain.SaleRequest{ShiftID: opened.Shift.ID, Amount: money(40000), PaymentCategory: "cash"})
	require.NoError(t, err)

	closed, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ReportedAmounts: amounts(40000, 0, 0)})
	require.NoError(t, err)

	totals, err := f.svc.SumByCategory(ctx, opened.Shift.ID)
	require.NoError(t, err)
	for _, payment := range closed.Payments {
		assert.True(t, totals.Get(payment.Category).Equal(payment.System), "category %s", payment.Category)
	}

	_, err = f.svc.VoidSale(adminCtx(), sale.Movement.ID, domain.VoidSaleRequest{Reason: "refund"})
	require.NoError(t, err)
	again, err := f.svc.VoidSale(adminCtx(), sale.Movement.ID, domain.VoidSaleRequest{Reason: "retry"})
	require.NoError(t, err)
	assert.Equal(t, "refund", again.VoidReason)

	stored, err := f.repo.GetClosureReport(context.Background(), opened.Shift.ID)
	require.NoError(t, err)
	assert.Equal(t, closed, *stored)

	fetched, err := f.svc.GetClosureReport(ctx, opened.Shift.ID)
	require.NoError(t, err)
	assert.True(t, paymentRow(t, fetched, domain.PaymentCash).System.Equal(decimal.NewFromInt(40000)))

	totals, err = f.svc.SumByCategory(ctx, opened.Shift.ID)
	require.NoError(t, err)
	assert.True(t, totals.Get(domain.PaymentCash).IsZero())
}

func TestSaleAgainstClosedShiftFails(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.NoError(t, err)
	_, err = f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ReportedAmounts: amounts(0, 0, 0)})
	require.NoError(t, err)

	_, err = f.svc.RecordSale(ctx, domain.SaleRequest{ShiftID: opened.Shift.ID, Amount: money(1), PaymentCategory: "cash"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ReportedAmounts: amounts(0, 0, 0)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseOwnershipAndOverride(t *testing.T) {
	f := newFixture(t)
	owner := cashierCtx("kasir")
	shift := openWithPlan(t, f, owner, "15-day", 4)

	_, err := f.svc.CloseShift(cashierCtx("other"), domain.ShiftCloseRequest{ShiftID: shift.ID, ReportedAmounts: amounts(0, 0, 0)})
	require.ErrorIs(t, err, domain.ErrNotFound)

	report, err := f.svc.CloseShift(adminCtx(), domain.ShiftCloseRequest{ShiftID: shift.ID, ReportedAmounts: amounts(0, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, "kasir", report.OperatorID)
}

func TestPlanOmittedAtCloseIsNotApplicable(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{Declarations: []domain.DeclarationInput{
		{Plan: "7-day", Qty: qty(10)},
		{Plan: "30-day", Qty: qty(3)},
	}})
	require.NoError(t, err)

	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:             opened.Shift.ID,
		ReportedAmounts:     amounts(0, 0, 0),
		ClosingDeclarations: []domain.DeclarationInput{{Plan: "7-day", Qty: qty(10)}},
	})
	require.NoError(t, err)

	row := inventoryRow(t, report, domain.Plan30Day)
	assert.Equal(t, domain.OutcomeNotApplicable, row.Outcome)
	assert.Nil(t, row.Discrepancy)
	assert.False(t, report.HasDiscrepancy)
}

func TestStagedClosingCountIsOverriddenAtClose(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	shift := openWithPlan(t, f, ctx, "5-day", 8)

	_, err := f.svc.DeclareClosing(ctx, shift.ID, domain.DeclarationInput{Plan: "5-day", Qty: qty(7)})
	require.NoError(t, err)
	_, err = f.svc.DeclareClosing(ctx, shift.ID, domain.DeclarationInput{Plan: "promo-x", Qty: qty(2)})
	require.NoError(t, err)

	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:             shift.ID,
		ReportedAmounts:     amounts(0, 0, 0),
		ClosingDeclarations: []domain.DeclarationInput{{Plan: "5-day", Qty: qty(8)}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeBalanced, inventoryRow(t, report, domain.Plan5Day).Outcome)
	promo := inventoryRow(t, report, "promo-x")
	assert.True(t, promo.Informational)
	assert.False(t, report.HasInventoryDiscrepancy)
}

func TestClosingSheetListsPlansOnly(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{Declarations: []domain.DeclarationInput{
		{Plan: "30-day", Qty: qty(3)},
		{Plan: "5-day", Qty: qty(9)},
	}})
	require.NoError(t, err)
	_, err = f.svc.RecordUnitsSold(ctx, opened.Shift.ID, domain.UnitsSoldRequest{Plan: "promo-x", Delta: 1})
	require.NoError(t, err)

	sheet, err := f.svc.ClosingSheet(ctx, opened.Shift.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.PlanCode{domain.Plan5Day, domain.Plan30Day, "promo-x"}, sheet.Plans)
	assert.Equal(t, domain.PaymentCategories, sheet.PaymentCategories)
}

func TestCheckoutThroughCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	shift := openWithPlan(t, f, ctx, "30-day", 5)

	resp, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:         shift.ID,
		PaymentCategory: domain.PaymentCard,
		Items: []domain.CartItem{
			{SKU: "SIM-30D", Qty: 2},
			{SKU: "TOPUP-10K", Qty: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Movement.Amount.Equal(decimal.NewFromInt(130000)))
	assert.Equal(t, []domain.PlanUnits{{Plan: domain.Plan30Day, Qty: 2}}, resp.Units)

	_, err = f.svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:         shift.ID,
		PaymentCategory: domain.PaymentForeignCurrency,
		Items:           []domain.CartItem{{SKU: "SIM-30D", Qty: 1}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	fx, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:         shift.ID,
		PaymentCategory: "divisas",
		TenderedAmount:  money(17),
		Items:           []domain.CartItem{{SKU: "SIM-30D", Qty: 1}},
	})
	require.NoError(t, err)
	assert.True(t, fx.Movement.Amount.Equal(decimal.NewFromInt(17)))

	_, err = f.svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:         shift.ID,
		PaymentCategory: domain.PaymentCash,
		Items:           []domain.CartItem{{SKU: "NOPE", Qty: 1}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	status, err := f.svc.InventoryStatus(adminCtx(), shift.ID)
	require.NoError(t, err)
	require.Len(t, status.Declarations, 1)
	assert.Equal(t, 3, status.Declarations[0].UnitsSold)
}

func TestCloseRollsBackOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	owner := cashierCtx("kasir")
	shift := openWithPlan(t, f, owner, "7-day", 5)

	ctx, cancel := context.WithCancel(owner)
	cancel()
	_, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, ReportedAmounts: amounts(0, 0, 0)})
	require.Error(t, err)

	current, err := f.svc.GetOpenShift(owner, "")
	require.NoError(t, err)
	assert.Equal(t, shift.ID, current.Shift.ID)
}

func closeShiftWith(t *testing.T, f fixture, operator string, reportedCash int64, salesCash int64) domain.ClosureReport {
	t.Helper()
	ctx := cashierCtx(operator)
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.NoError(t, err)
	if salesCash > 0 {
		_, err = f.svc.RecordSale(ctx, domain.SaleRequest{ShiftID: opened.Shift.ID, Amount: money(salesCash), PaymentCategory: "cash"})
		require.NoError(t, err)
	}
	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ReportedAmounts: amounts(reportedCash, 0, 0)})
	require.NoError(t, err)
	return report
}

func TestListDiscrepancies(t *testing.T) {
	f := newFixture(t)
	closeShiftWith(t, f, "kasir", 1000, 1000)
	closeShiftWith(t, f, "kasir", 900, 1000)
	closeShiftWith(t, f, "other", 1100, 1000)

	listing, err := f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, listing.Summary.Shifts)
	assert.Equal(t, 2, listing.Summary.ShiftsWithDiscrepancies)
	assert.Equal(t, 2, listing.Summary.ShiftsWithPaymentDiscrepancies)
	assert.Equal(t, 2, listing.Summary.DistinctOperators)

	flagged, err := f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{OnlyWithDiscrepancies: true, OperatorID: "kasir", LastNDays: qty(7)})
	require.NoError(t, err)
	require.Len(t, flagged.Reports, 1)
	assert.Equal(t, "kasir", flagged.Reports[0].OperatorID)

	own, err := f.svc.ListDiscrepancies(cashierCtx("other"), domain.DiscrepancyFilter{OperatorID: "kasir"})
	require.NoError(t, err)
	require.Len(t, own.Reports, 1)
	assert.Equal(t, "other", own.Reports[0].OperatorID)
}

func TestListDiscrepanciesSummaryCoversWholeWindow(t *testing.T) {
	f := newFixture(t)
	closeShiftWith(t, f, "kasir", 900, 1000)
	closeShiftWith(t, f, "other", 1100, 1000)
	closeShiftWith(t, f, "kasir", 1000, 1000)

	listing, err := f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, listing.Reports, 1)
	assert.True(t, listing.Truncated)
	assert.Equal(t, 3, listing.Summary.Shifts)
	assert.Equal(t, 2, listing.Summary.ShiftsWithDiscrepancies)
	assert.Equal(t, 2, listing.Summary.DistinctOperators)

	full, err := f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{})
	require.NoError(t, err)
	assert.False(t, full.Truncated)
	assert.Len(t, full.Reports, 3)
	assert.Equal(t, full.Reports[0].ShiftID, listing.Reports[0].ShiftID)
}

func TestListDiscrepanciesRejectsConflictingWindows(t *testing.T) {
	f := newFixture(t)
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)

	_, err := f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{From: &from, To: &to, LastNDays: qty(3)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{From: &to, To: &from})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{LastNDays: qty(-1)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{LastNDays: qty(0)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ListDiscrepancies(adminCtx(), domain.DiscrepancyFilter{From: &from, To: &to, LastNDays: qty(0)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDiscrepancyAlerts(t *testing.T) {
	f := newFixture(t)
	closeShiftWith(t, f, "kasir", 900, 1000)
	closeShiftWith(t, f, "kasir", 995, 1000)
	closeShiftWith(t, f, "other", 1000, 1000)

	resp, err := f.svc.DiscrepancyAlerts(adminCtx(), domain.DiscrepancyFilter{})
	require.NoError(t, err)
	require.Len(t, resp.Alerts, 2)
	assert.Equal(t, "repeated_shortage", resp.Alerts[0].Code)
	assert.Equal(t, "kasir", resp.Alerts[0].OperatorID)
	assert.Equal(t, float64(2), resp.Alerts[0].MetricValue)
	assert.Equal(t, "cash_shortfall", resp.Alerts[1].Code)
}

func TestAuditTrailForLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := cashierCtx("kasir")
	shift := openWithPlan(t, f, ctx, "7-day", 2)
	sellSIM7(t, f, ctx, shift.ID, 1)
	_, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, ReportedAmounts: amounts(20000, 0, 0)})
	require.NoError(t, err)

	logs, err := f.svc.ListAuditLogs(adminCtx(), "2026-10-01", 50)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
		assert.Equal(t, "kasir", entry.ActorUsername)
	}
	assert.ElementsMatch(t, []string{"shift_open", "checkout", "shift_close"}, actions)

	_, err = f.svc.ListAuditLogs(adminCtx(), "01/10/2026", 50)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNotifierFailureDoesNotFailClose(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	ctx := cashierCtx("kasir")
	opened, err := f.svc.OpenShift(ctx, domain.ShiftOpenRequest{})
	require.NoError(t, err)

	report, err := f.svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ReportedAmounts: amounts(5, 0, 0)})
	require.NoError(t, err)
	assert.True(t, report.HasDiscrepancy)

	cached, ok, err := f.cache.Get(context.Background(), opened.Shift.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, report, *cached)
}

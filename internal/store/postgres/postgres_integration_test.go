//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"localsim/backend/internal/domain"
	"localsim/backend/internal/store"
)

// Run with: go test -tags integration ./internal/store/postgres/...
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("shifts_test"),
		tcPostgres.WithUsername("shifts"),
		tcPostgres.WithPassword("shifts"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "schema must be re-appliable")
	return s
}

func TestPostgresShiftLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("concurrent opens for one operator yield a single open shift", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins, conflicts := 0, 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.OpenShift(ctx, domain.Shift{OperatorID: "race-op"}, nil)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					wins++
				} else if errors.Is(err, domain.ErrConflict) {
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
		assert.Equal(t, 7, conflicts)
	})

	t.Run("sale, void and close keep the report write-once", func(t *testing.T) {
		shift, err := s.OpenShift(ctx, domain.Shift{OperatorID: "op-lifecycle"}, []store.PlanCount{{Plan: domain.Plan7Day, Qty: 50}})
		require.NoError(t, err)

		sale, err := s.RecordSale(ctx, domain.SaleMovement{
			ShiftID: shift.ID, Amount: decimal.RequireFromString("100000.00"), PaymentCategory: domain.PaymentCash,
		}, []domain.PlanUnits{{Plan: domain.Plan7Day, Qty: 3}})
		require.NoError(t, err)

		_, err = s.RecordUnitsSold(ctx, shift.ID, domain.PlanUnits{Plan: "promo-x", Qty: 1}, time.Time{})
		require.NoError(t, err)

		report, err := s.CloseShift(ctx, store.CloseParams{
			ShiftID: shift.ID,
			Closing: []store.PlanCount{{Plan: domain.Plan7Day, Qty: 47}},
		}, func(snap store.ShiftSnapshot) (domain.ClosureReport, error) {
			require.Len(t, snap.Declarations, 2)
			assert.True(t, snap.System.Get(domain.PaymentCash).Equal(decimal.NewFromInt(100000)))
			return domain.ClosureReport{ShiftID: snap.Shift.ID, OperatorID: snap.Shift.OperatorID, ClosedAt: snap.ClosedAt}, nil
		})
		require.NoError(t, err)
		require.NotNil(t, report)

		_, err = s.RecordSale(ctx, domain.SaleMovement{ShiftID: shift.ID, Amount: decimal.NewFromInt(1), PaymentCategory: domain.PaymentCash}, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		voided, err := s.VoidSale(ctx, sale.ID, "after close", time.Time{})
		require.NoError(t, err)
		assert.True(t, voided.Voided)
		again, err := s.VoidSale(ctx, sale.ID, "retry", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, "after close", again.VoidReason)

		stored, err := s.GetClosureReport(ctx, shift.ID)
		require.NoError(t, err)
		assert.Equal(t, report.ShiftID, stored.ShiftID)

		decls, err := s.ListDeclarations(ctx, shift.ID)
		require.NoError(t, err)
		require.Len(t, decls, 2)
		assert.Equal(t, 47, *decls[0].ClosingDeclaredQty)
		assert.True(t, decls[1].Informational)
	})

	t.Run("sales racing a close are either counted or rejected", func(t *testing.T) {
		shift, err := s.OpenShift(ctx, domain.Shift{OperatorID: "op-race-close"}, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		start := make(chan struct{})
		succeeded := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.RecordSale(ctx, domain.SaleMovement{ShiftID: shift.ID, Amount: decimal.NewFromInt(1), PaymentCategory: domain.PaymentCash}, nil)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else if !errors.Is(err, domain.ErrInvalidState) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}

		var systemCash decimal.Decimal
		closed := make(chan error, 1)
		go func() {
			<-start
			_, err := s.CloseShift(ctx, store.CloseParams{ShiftID: shift.ID}, func(snap store.ShiftSnapshot) (domain.ClosureReport, error) {
				systemCash = snap.System.Get(domain.PaymentCash)
				return domain.ClosureReport{ShiftID: snap.Shift.ID, OperatorID: snap.Shift.OperatorID, ClosedAt: snap.ClosedAt}, nil
			})
			closed <- err
		}()

		close(start)
		wg.Wait()
		require.NoError(t, <-closed)

		assert.True(t, systemCash.Equal(decimal.NewFromInt(int64(succeeded))), "system cash %s, successful sales %d", systemCash, succeeded)
		totals, err := s.SumByCategory(ctx, shift.ID)
		require.NoError(t, err)
		assert.True(t, totals.Get(domain.PaymentCash).Equal(systemCash))
	})

	t.Run("report listing without a limit returns every match", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			shift, err := s.OpenShift(ctx, domain.Shift{OperatorID: "op-listing"}, nil)
			require.NoError(t, err)
			_, err = s.CloseShift(ctx, store.CloseParams{ShiftID: shift.ID}, func(snap store.ShiftSnapshot) (domain.ClosureReport, error) {
				return domain.ClosureReport{ShiftID: snap.Shift.ID, OperatorID: snap.Shift.OperatorID, ClosedAt: snap.ClosedAt}, nil
			})
			require.NoError(t, err)
		}

		all, err := s.ListClosureReports(ctx, store.ReportQuery{OperatorID: "op-listing"})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		limited, err := s.ListClosureReports(ctx, store.ReportQuery{OperatorID: "op-listing", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("failed compute leaves the shift open", func(t *testing.T) {
		shift, err := s.OpenShift(ctx, domain.Shift{OperatorID: "op-rollback"}, nil)
		require.NoError(t, err)

		_, err = s.CloseShift(ctx, store.CloseParams{ShiftID: shift.ID, Closing: []store.PlanCount{{Plan: domain.Plan5Day, Qty: 1}}},
			func(store.ShiftSnapshot) (domain.ClosureReport, error) {
				return domain.ClosureReport{}, errors.New("boom")
			})
		require.Error(t, err)

		open, err := s.GetOpenShiftByOperator(ctx, "op-rollback")
		require.NoError(t, err)
		assert.Equal(t, shift.ID, open.ID)
		decls, err := s.ListDeclarations(ctx, shift.ID)
		require.NoError(t, err)
		assert.Empty(t, decls)
	})
}

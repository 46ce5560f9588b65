package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localsim/backend/internal/domain"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ShiftOpened()
		m.SaleRecorded(domain.PaymentCash)
		m.SaleVoided()
		m.ShiftClosed(domain.ClosureReport{}, time.Second)
	})
}

func TestHandlerExposesEngineCounters(t *testing.T) {
	m := New()
	m.ShiftOpened()
	m.SaleRecorded(domain.PaymentCard)
	m.ShiftClosed(domain.ClosureReport{
		HasDiscrepancy: true,
		Inventory: []domain.InventoryReconciliation{
			{Plan: domain.Plan7Day, Outcome: domain.OutcomeShortage},
			{Plan: "promo-x", Outcome: domain.OutcomeShortage, Informational: true},
		},
	}, 120*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "pos_shifts_opened_total 1")
	assert.Contains(t, text, `pos_sales_recorded_total{payment_category="card"} 1`)
	assert.Contains(t, text, `pos_shifts_closed_total{balanced="false"} 1`)
	assert.Contains(t, text, `pos_inventory_discrepancies_total{outcome="shortage",plan="7-day"} 1`)
	assert.NotContains(t, text, `plan="promo-x"`)
}

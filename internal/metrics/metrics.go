package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"localsim/backend/internal/domain"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry          *prometheus.Registry
	shiftsOpened      prometheus.Counter
	shiftsClosed      *prometheus.CounterVec
	salesRecorded     *prometheus.CounterVec
	salesVoided       prometheus.Counter
	inventoryShortage *prometheus.CounterVec
	closeDuration     prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		shiftsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "shifts_opened_total",
			Help:      "Shifts opened.",
		}),
		shiftsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "shifts_closed_total",
			Help:      "Shifts closed, by whether the closure report flagged a discrepancy.",
		}, []string{"balanced"}),
		salesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "sales_recorded_total",
			Help:      "Sale movements recorded, by payment category.",
		}, []string{"payment_category"}),
		salesVoided: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "sales_voided_total",
			Help:      "Sale movements voided.",
		}),
		inventoryShortage: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pos",
			Name:      "inventory_discrepancies_total",
			Help:      "Plans closed with a counted quantity different from the expected one.",
		}, []string{"plan", "outcome"}),
		closeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pos",
			Name:      "shift_close_duration_seconds",
			Help:      "Time spent closing a shift, including the reconciliation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ShiftOpened() {
	if m == nil {
		return
	}
	m.shiftsOpened.Inc()
}

func (m *Metrics) ShiftClosed(report domain.ClosureReport, took time.Duration) {
	if m == nil {
		return
	}
	balanced := "true"
	if report.HasDiscrepancy {
		balanced = "false"
	}
	m.shiftsClosed.WithLabelValues(balanced).Inc()
	m.closeDuration.Observe(took.Seconds())
	for _, item := range report.Inventory {
		if item.Informational {
			continue
		}
		if item.Outcome == domain.OutcomeShortage || item.Outcome == domain.OutcomeSurplus {
			m.inventoryShortage.WithLabelValues(string(item.Plan), string(item.Outcome)).Inc()
		}
	}
}

func (m *Metrics) SaleRecorded(category domain.PaymentCategory) {
	if m == nil {
		return
	}
	m.salesRecorded.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) SaleVoided() {
	if m == nil {
		return
	}
	m.salesVoided.Inc()
}

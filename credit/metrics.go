package credit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Allocations    *prometheus.CounterVec
	PaymentWrites  *prometheus.CounterVec
	AppliedAmount  prometheus.Counter
	StaleResponses prometheus.Counter
	DetailLoad     prometheus.Histogram
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Allocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credit",
			Name:      "allocations_total",
			Help:      "Payment allocation attempts by outcome.",
		}, []string{"outcome"}),
		PaymentWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credit",
			Name:      "payment_writes_total",
			Help:      "Per-sale payment writes issued to the Ledger Store by outcome.",
		}, []string{"outcome"}),
		AppliedAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: "credit",
			Name:      "applied_amount_total",
			Help:      "Sum of payment amounts successfully written.",
		}),
		StaleResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "credit",
			Name:      "stale_responses_total",
			Help:      "Load responses dropped because a newer request superseded them.",
		}),
		DetailLoad: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "credit",
			Name:      "detail_load_seconds",
			Help:      "Time to load all sale details of one customer group.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) allocation(outcome string) {
	if m != nil {
		m.Allocations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) paymentWrite(outcome string, amount Money) {
	if m == nil {
		return
	}
	m.PaymentWrites.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		f, _ := amount.Float64()
		m.AppliedAmount.Add(f)
	}
}

func (m *Metrics) stale() {
	if m != nil {
		m.StaleResponses.Inc()
	}
}

func (m *Metrics) observeDetailLoad(start time.Time) {
	if m != nil {
		m.DetailLoad.Observe(time.Since(start).Seconds())
	}
}

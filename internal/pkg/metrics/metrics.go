package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the appointment-lifecycle instruments. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry wiring.
type Metrics struct {
	PaymentTransitions *prometheus.CounterVec
	Callbacks          *prometheus.CounterVec
	Reservations       *prometheus.CounterVec
	GatewayRequests    *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec
	SweepActions       *prometheus.CounterVec
	Reconciliations    *prometheus.CounterVec
	NotificationsDrops prometheus.Counter
}

// New registers all instruments on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PaymentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment state transitions by source and target state",
		}, []string{"source", "to"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_callbacks_total",
			Help:      "Gateway callbacks by outcome",
		}, []string{"outcome"}),
		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_reservations_total",
			Help:      "Slot reservation attempts by outcome",
		}, []string{"outcome"}),
		GatewayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Outbound gateway calls by operation and result",
		}, []string{"operation", "result"}),
		GatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of outbound gateway calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		SweepActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_actions_total",
			Help:      "Records changed by the reconciliation sweep",
		}, []string{"action"}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_entries_total",
			Help:      "Reconciliation entries recorded by kind",
		}, []string{"kind"}),
		NotificationsDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the dispatch queue was full",
		}),
	}
}

func (m *Metrics) PaymentTransition(source, to string) {
	if m == nil {
		return
	}
	m.PaymentTransitions.WithLabelValues(source, to).Inc()
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayCall(operation, result string, started time.Time) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(operation, result).Inc()
	m.GatewayLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Sweep(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweepActions.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) Reconciliation(kind string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(kind).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}
	m.NotificationsDrops.Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Claim outcomes recorded by the assignment arbiter.
const (
	ClaimWon     = "won"
	ClaimLost    = "lost"
	ClaimInvalid = "invalid"
)

// Reservation outcomes recorded by the stock ledger.
const (
	ReservationOK           = "ok"
	ReservationInsufficient = "insufficient"
	ReservationCompensated  = "compensated"
)

// OrderMetrics tracks the fulfillment core: transitions, driver claims and stock reservations.
type OrderMetrics struct {
	transitions  *prometheus.CounterVec
	claims       *prometheus.CounterVec
	reservations *prometheus.CounterVec
	dispatches   *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on reg. A nil registerer yields a no-op recorder.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	m := &OrderMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order status transitions applied, by source and target status.",
		}, []string{"from", "to"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "driver_claims_total",
			Help:      "Driver claim attempts by outcome.",
		}, []string{"outcome"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "reservations_total",
			Help:      "Stock reservation attempts by outcome.",
		}, []string{"outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatch_total",
			Help:      "Notification dispatches by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.transitions, m.claims, m.reservations, m.dispatches)
	return m
}

func (m *OrderMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(labelOrUnknown(from), labelOrUnknown(to)).Inc()
}

func (m *OrderMetrics) IncClaim(outcome string) {
	if m == nil || m.claims == nil {
		return
	}
	m.claims.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

func (m *OrderMetrics) IncReservation(outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

// IncDispatch records a notification dispatch; ok=false means it was logged and swallowed.
func (m *OrderMetrics) IncDispatch(ok bool) {
	if m == nil || m.dispatches == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "dropped"
	}
	m.dispatches.WithLabelValues(result).Inc()
}

package session

import "github.com/prometheus/client_golang/prometheus"

// Refresh outcomes recorded on chirp_session_refresh_total.
const (
	outcomeRotated  = "rotated"
	outcomeNotFound = "not_found"
	outcomeExpired  = "expired"
	outcomeRevoked  = "revoked"
	outcomeStale    = "stale"
	outcomeReused   = "reused"
	outcomeError    = "error"
)

// Metrics holds the session core's Prometheus collectors.
type Metrics struct {
	refresh        *prometheus.CounterVec
	reuseDetected  prometheus.Counter
	revoked        *prometheus.CounterVec
	logins         prometheus.Counter
	guardRejected  prometheus.Counter
	notifyFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "session",
			Name:      "reuse_detected_total",
			Help:      "Token families revoked because a rotated refresh token was replayed.",
		}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "session",
			Name:      "revoked_records_total",
			Help:      "Refresh records revoked, by reason.",
		}, []string{"reason"}),
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Token families started.",
		}),
		guardRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "session",
			Name:      "guard_rejections_total",
			Help:      "Sensitive-route requests rejected by live account checks.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chirp",
			Subsystem: "session",
			Name:      "notify_failures_total",
			Help:      "Forced-logout pushes that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refresh, m.reuseDetected, m.revoked, m.logins, m.guardRejected, m.notifyFailures)
	}
	return m
}

func (m *Metrics) refreshOutcome(outcome string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(outcome).Inc()
}

func (m *Metrics) revokedRecords(reason RevocationReason, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.WithLabelValues(string(reason)).Add(float64(n))
}

func (m *Metrics) reuse() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

func (m *Metrics) login() {
	if m == nil {
		return
	}
	m.logins.Inc()
}

func (m *Metrics) guardRejection() {
	if m == nil {
		return
	}
	m.guardRejected.Inc()
}

func (m *Metrics) notifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/sessionvault/session"
)

// sessionMetrics are the Prometheus collectors for one Manager.
type sessionMetrics struct {
	transitions     *prometheus.CounterVec
	persistFailures prometheus.Counter
	unlockFailures  prometheus.Counter
	state           *prometheus.GaugeVec
	handler         http.Handler
}

var allStates = []session.State{session.StateNone, session.StateUnlocked, session.StateLocked, session.StateExpired}

func newSessionMetrics(reg *prometheus.Registry) *sessionMetrics {
	factory := promauto.With(reg)
	return &sessionMetrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionvault_transitions_total",
			Help: "Session state transitions",
		}, []string{"from", "to", "reason"}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessionvault_persist_failures_total",
			Help: "Sessions started without durable persistence",
		}),
		unlockFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessionvault_unlock_failures_total",
			Help: "Rejected identity unlock attempts",
		}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sessionvault_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}
}

func (m *sessionMetrics) observe(ev session.Event) {
	m.transitions.WithLabelValues(ev.Previous.String(), ev.Current.String(), ev.Reason).Inc()
	m.setState(ev.Current)
}

func (m *sessionMetrics) setState(current session.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}

func (a *API) metricsHandler() http.Handler {
	if a.metrics == nil {
		return http.NotFoundHandler()
	}
	return a.metrics.handler
}

// AlertType identifies the kind of anomaly detected.
type AlertType string

const AlertUnlockFailureSpike AlertType = "unlock_failure_spike"

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// anomalyCollector tracks a sliding window of unlock failures.
type anomalyCollector struct {
	mu sync.Mutex

	failures  []time.Time
	window    time.Duration
	threshold int

	alertFn AlertFunc
}

const (
	defaultUnlockFailureWindow    = 1 * time.Minute
	defaultUnlockFailureThreshold = 20
)

func newAnomalyCollector(alertFn AlertFunc) *anomalyCollector {
	return &anomalyCollector{
		window:    defaultUnlockFailureWindow,
		threshold: defaultUnlockFailureThreshold,
		alertFn:   alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (c *anomalyCollector) recordEvent(event AuditEvent) {
	if c == nil || c.alertFn == nil {
		return
	}
	if event != AuditUnlockFailure {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.failures = append(c.failures, now)
	c.failures = trimWindow(c.failures, now, c.window)

	if len(c.failures) >= c.threshold {
		c.alertFn(AlertEvent{
			Type:      AlertUnlockFailureSpike,
			Message:   "unlock failure rate exceeds threshold",
			Count:     len(c.failures),
			Threshold: c.threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		c.failures = c.failures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}

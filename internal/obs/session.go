package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"nawra-portal/internal/apiclient"
	"nawra-portal/internal/guard"
)

// SessionMetrics counts refresh outcomes and guard decisions. It satisfies
// apiclient.Observer and guard.DecisionObserver.
type SessionMetrics struct {
	Refreshes *prometheus.CounterVec
	Decisions *prometheus.CounterVec
}

func NewSessionMetrics(opts Options) (*SessionMetrics, error) {
	opts = opts.withDefaults()
	refreshes, err := register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: opts.Namespace,
		Subsystem: "session",
		Name:      "refresh_total",
		Help:      "Token refresh attempts by outcome (success, failure, skipped).",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	decisions, err := register(opts.Registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: opts.Namespace,
		Subsystem: "guard",
		Name:      "decisions_total",
		Help:      "Access guard decisions by resulting state.",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}
	return &SessionMetrics{Refreshes: refreshes, Decisions: decisions}, nil
}

func (m *SessionMetrics) ObserveRefresh(outcome apiclient.RefreshOutcome) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(string(outcome)).Inc()
}

func (m *SessionMetrics) ObserveDecision(s guard.State) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(s.String()).Inc()
}

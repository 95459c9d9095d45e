package kapton

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts binding lifecycle activity. A nil *Metrics records nothing.
type Metrics struct {
	subscribes    *prometheus.CounterVec
	unsubscribes  *prometheus.CounterVec
	published     *prometheus.CounterVec
	streamErrors  *prometheus.CounterVec
	optionUpdates *prometheus.CounterVec
}

// NewMetrics creates the binding collectors and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"operation", "type"}
	m := &Metrics{
		subscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kapton_subscribes_total",
			Help: "Number of subscriptions opened by bindings",
		}, labels),
		unsubscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kapton_unsubscribes_total",
			Help: "Number of subscriptions released by bindings",
		}, labels),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kapton_published_total",
			Help: "Number of values published onto component properties",
		}, labels),
		streamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kapton_stream_errors_total",
			Help: "Number of errors emitted by live subscriptions",
		}, labels),
		optionUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kapton_option_updates_total",
			Help: "Option changes applied to a live subscription, by mode",
		}, append(labels, "mode")),
	}
	reg.MustRegister(m.subscribes, m.unsubscribes, m.published, m.streamErrors, m.optionUpdates)
	return m
}

func (m *Metrics) subscribed(op *ParsedOperation) {
	if m != nil {
		m.subscribes.WithLabelValues(op.Name, op.Type.String()).Inc()
	}
}

func (m *Metrics) unsubscribed(op *ParsedOperation) {
	if m != nil {
		m.unsubscribes.WithLabelValues(op.Name, op.Type.String()).Inc()
	}
}

func (m *Metrics) publishedValue(op *ParsedOperation) {
	if m != nil {
		m.published.WithLabelValues(op.Name, op.Type.String()).Inc()
	}
}

func (m *Metrics) streamError(op *ParsedOperation) {
	if m != nil {
		m.streamErrors.WithLabelValues(op.Name, op.Type.String()).Inc()
	}
}

func (m *Metrics) optionsUpdated(op *ParsedOperation, mode string) {
	if m != nil {
		m.optionUpdates.WithLabelValues(op.Name, op.Type.String(), mode).Inc()
	}
}

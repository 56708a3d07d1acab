package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trade_go/internal/domain"
)

const metricsNamespace = "tradebot"

// Metrics holds the Prometheus collectors of the trading pipeline.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	offersEnqueued   prometheus.Counter
	offersDuplicate  prometheus.Counter
	offerDecisions   *prometheus.CounterVec
	offerErrors      prometheus.Counter
	queueDepth       prometheus.Gauge
	evaluationTime   prometheus.Histogram
	autokeysMode     prometheus.Gauge
	autokeysTarget   prometheus.Gauge
	feedConnected    prometheus.Gauge
	transportDropped *prometheus.CounterVec
}

// NewMetrics creates the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		offersEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offers_enqueued_total",
			Help:      "Offers admitted to the intake queue",
		}),
		offersDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offers_duplicate_total",
			Help:      "Offers ignored because their identifier was already seen",
		}),
		offerDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offer_decisions_total",
			Help:      "Offer decisions by outcome and reason",
		}, []string{"decision", "reason"}),
		offerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "offer_errors_total",
			Help:      "Offer evaluations that ended in an error",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Offers waiting for evaluation",
		}),
		evaluationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "offer_evaluation_seconds",
			Help:      "Time spent deciding one offer",
			Buckets:   prometheus.DefBuckets,
		}),
		autokeysMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "autokeys_mode",
			Help:      "Rebalancing mode (0 idle, 1 buying, 2 selling)",
		}),
		autokeysTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "autokeys_target",
			Help:      "Rebalancing target quantity",
		}),
		feedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pricefeed_connected",
			Help:      "1 while the price feed websocket is connected",
		}),
		transportDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transport_messages_dropped_total",
			Help:      "Lifecycle messages dropped as malformed",
		}, []string{"subject"}),
	}

	registry.MustRegister(
		m.offersEnqueued,
		m.offersDuplicate,
		m.offerDecisions,
		m.offerErrors,
		m.queueDepth,
		m.evaluationTime,
		m.autokeysMode,
		m.autokeysTarget,
		m.feedConnected,
		m.transportDropped,
	)
	return m
}

// Registry exposes the underlying registry (for tests and custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEnqueued counts an admitted offer.
func (m *Metrics) RecordEnqueued() {
	if m == nil {
		return
	}
	m.offersEnqueued.Inc()
}

// RecordDuplicate counts an offer dropped by deduplication.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.offersDuplicate.Inc()
}

// RecordDecision counts a decision and observes how long it took.
func (m *Metrics) RecordDecision(accepted bool, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	decision := "decline"
	if accepted {
		decision = "accept"
	}
	m.offerDecisions.WithLabelValues(decision, reason).Inc()
	m.evaluationTime.Observe(elapsed.Seconds())
}

// RecordError counts a failed evaluation.
func (m *Metrics) RecordError() {
	if m == nil {
		return
	}
	m.offerErrors.Inc()
}

// SetQueueDepth sets the number of queued offers.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetControllerState publishes the rebalancing mode and target.
func (m *Metrics) SetControllerState(s domain.ControllerState) {
	if m == nil {
		return
	}
	m.autokeysMode.Set(float64(s.Mode))
	m.autokeysTarget.Set(float64(s.TargetQuantity))
}

// SetFeedConnected flags the price feed connection state.
func (m *Metrics) SetFeedConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.feedConnected.Set(1)
	} else {
		m.feedConnected.Set(0)
	}
}

// RecordDropped counts a malformed lifecycle message.
func (m *Metrics) RecordDropped(subject string) {
	if m == nil {
		return
	}
	m.transportDropped.WithLabelValues(subject).Inc()
}

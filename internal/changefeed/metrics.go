package changefeed

import (
	"github.com/cafecursor/cafecursor/internal/cards"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes change feed activity to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	published   *prometheus.CounterVec
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
	relayed     prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cafecursor",
			Subsystem: "changefeed",
			Name:      "events_published_total",
			Help:      "Card change events published to stream subscribers.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cafecursor",
			Subsystem: "changefeed",
			Name:      "events_dropped_total",
			Help:      "Card change events dropped because a subscriber buffer was full.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cafecursor",
			Subsystem: "changefeed",
			Name:      "subscribers",
			Help:      "Open change stream subscriptions.",
		}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cafecursor",
			Subsystem: "changefeed",
			Name:      "events_relayed_total",
			Help:      "Card change events received from other API instances.",
		}),
	}
	if registerer != nil {
		for _, collector := range []prometheus.Collector{m.published, m.dropped, m.subscribers, m.relayed} {
			if err := registerer.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observePublished(changeType cards.ChangeType) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(string(changeType)).Inc()
}

func (m *Metrics) observeDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) observeRelayed() {
	if m == nil {
		return
	}
	m.relayed.Inc()
}

func (m *Metrics) setSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

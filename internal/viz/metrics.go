package viz

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brandon-fryslie/ptytest/broadcast"
)

// Metrics holds the viewer server's Prometheus metrics. Each Metrics has its
// own registry, so several servers can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	Clients        prometheus.Gauge
	FramesTotal    *prometheus.CounterVec
	Coalesced      prometheus.Counter
	Dropped        prometheus.Counter
	ClientMessages *prometheus.CounterVec

	mu       sync.Mutex
	watchers map[string][]prometheus.Collector
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Name: "ptytest_viz_clients",
			Help: "Number of connected viewers",
		}),
		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ptytest_viz_frames_total",
			Help: "Screen frames published, by session",
		}, []string{"session"}),
		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "ptytest_viz_frames_coalesced_total",
			Help: "Frames replaced by a newer frame before being sent",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ptytest_viz_messages_dropped_total",
			Help: "Messages dropped because a viewer or the hub was backed up",
		}),
		ClientMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ptytest_viz_client_messages_total",
			Help: "Messages received from viewers, by type",
		}, []string{"type"}),
		watchers: make(map[string][]prometheus.Collector),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchBroadcaster exports b's sampling counters labelled with session.
func (m *Metrics) WatchBroadcaster(session string, b *broadcast.Broadcaster) error {
	labels := prometheus.Labels{"session": session}
	cs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "ptytest_broadcast_ticks_total",
			Help:        "Screen samples taken by the broadcaster",
			ConstLabels: labels,
		}, func() float64 {
			ticks, _ := b.Stats()
			return float64(ticks)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "ptytest_broadcast_deliveries_total",
			Help:        "Subscriber callbacks completed by the broadcaster",
			ConstLabels: labels,
		}, func() float64 {
			_, deliveries := b.Stats()
			return float64(deliveries)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "ptytest_broadcast_subscribers",
			Help:        "Subscribers registered with the broadcaster",
			ConstLabels: labels,
		}, func() float64 {
			return float64(b.SubscriberCount())
		}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var registered []prometheus.Collector
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			for _, r := range registered {
				m.registry.Unregister(r)
			}
			return err
		}
		registered = append(registered, c)
	}
	m.watchers[session] = append(m.watchers[session], registered...)
	return nil
}

// UnwatchBroadcaster removes the collectors added for session.
func (m *Metrics) UnwatchBroadcaster(session string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.watchers[session] {
		m.registry.Unregister(c)
	}
	delete(m.watchers, session)
}

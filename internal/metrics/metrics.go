package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sunr3d/zipstream/internal/interfaces/infra"
	"github.com/sunr3d/zipstream/models"
)

const namespace = "zipstream"

// Metrics is safe to use through a nil pointer, in which case nothing is
// recorded.
type Metrics struct {
	registry *prometheus.Registry

	bytesSent  prometheus.Counter
	chunksSent prometheus.Counter
	streams    *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Archive bytes written to clients",
		}),
		chunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Archive chunks written to clients",
		}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Finished archive streams by outcome",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}

	m.registry.MustRegister(m.bytesSent, m.chunksSent, m.streams, m.requests)
	return m
}

// RegisterActiveStreams exposes the number of live sessions in store.
func (m *Metrics) RegisterActiveStreams(store infra.SessionStore) {
	if m == nil {
		return
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_streams",
		Help:      "Number of archive streams currently in progress",
	}, func() float64 {
		n, err := store.CountActive(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	})
	m.registry.MustRegister(gauge)
}

func (m *Metrics) ChunkSent(n int) {
	if m == nil {
		return
	}
	m.chunksSent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) StreamFinished(outcome models.RelayOutcome) {
	if m == nil {
		return
	}
	m.streams.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) Request(method string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

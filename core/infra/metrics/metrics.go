package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for the pipeline workers.
type Metrics interface {
	IncStageStarted(stage string)
	IncStageCompleted(stage, status string)
	ObserveStageDuration(stage string, durationSeconds float64)
}

// GatewayMetrics captures request and stream metrics for the API gateway.
type GatewayMetrics interface {
	IncJobsCreated()
	ObserveRequest(method, route, status string, durationSeconds float64)
	IncStreamConnections()
	DecStreamConnections()
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncStageStarted(string)               {}
func (Noop) IncStageCompleted(string, string)     {}
func (Noop) ObserveStageDuration(string, float64) {}

// NoopGateway implements GatewayMetrics without emitting anything.
type NoopGateway struct{}

func NewNoopGateway() GatewayMetrics { return NoopGateway{} }

func (NoopGateway) IncJobsCreated()                                {}
func (NoopGateway) ObserveRequest(string, string, string, float64) {}
func (NoopGateway) IncStreamConnections()                          {}
func (NoopGateway) DecStreamConnections()                          {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	stageStarted   *prometheus.CounterVec
	stageCompleted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		stageStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_started_total",
			Help:      "Pipeline stages started by stage",
		}, []string{"stage"}),
		stageCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_completed_total",
			Help:      "Pipeline stages finished by stage and outcome",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration seconds by stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.stageStarted, p.stageCompleted, p.stageDuration)
	})
}

func (p *Prom) IncStageStarted(stage string) {
	p.stageStarted.WithLabelValues(stage).Inc()
}

func (p *Prom) IncStageCompleted(stage, status string) {
	p.stageCompleted.WithLabelValues(stage, status).Inc()
}

func (p *Prom) ObserveStageDuration(stage string, durationSeconds float64) {
	p.stageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	jobsCreated prometheus.Counter
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	streams     prometheus.Gauge
	once        sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Generation jobs accepted",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_connections",
			Help:      "Open progress stream connections",
		}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.jobsCreated, g.requests, g.latency, g.streams)
	})
	return g
}

func (g *gatewayProm) IncJobsCreated() {
	g.jobsCreated.Inc()
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (g *gatewayProm) IncStreamConnections() {
	g.streams.Inc()
}

func (g *gatewayProm) DecStreamConnections() {
	g.streams.Dec()
}

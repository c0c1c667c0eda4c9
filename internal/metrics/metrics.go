// Package metrics records controller, share and cache activity as Prometheus
// metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anyheart"

// Recorder implements the Metrics interfaces of session, share and pagecache.
type Recorder struct {
	registry *prometheus.Registry

	rounds      *prometheus.CounterVec
	upstream    *prometheus.HistogramVec
	shares      prometheus.Counter
	views       *prometheus.CounterVec
	cacheWrites *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// New registers every metric on a fresh registry, plus the Go and process
// collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Rounds resolved, by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Duration of interpreter and merger calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"stage", "result"}),
		shares: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_created_total",
			Help:      "Share records created.",
		}),
		views: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_fetches_total",
			Help:      "Share fetches, by outcome.",
		}, []string{"outcome"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Debounced snapshot writes, by result.",
		}, []string{"result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_evictions_total",
			Help:      "Snapshots removed, by reason.",
		}, []string{"reason"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_subscribers",
			Help:      "Live push channel subscribers.",
		}),
	}
	r.registry.MustRegister(
		r.rounds, r.upstream, r.shares, r.views, r.cacheWrites, r.evictions, r.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RoundResolved(outcome domain.RoundOutcome, kind string) {
	r.rounds.WithLabelValues(string(outcome), kind).Inc()
}

func (r *Recorder) UpstreamCall(stage string, d time.Duration, err error) {
	r.upstream.WithLabelValues(stage, result(err)).Observe(d.Seconds())
}

func (r *Recorder) ShareCreated() {
	r.shares.Inc()
}

func (r *Recorder) ShareViewed(outcome string) {
	r.views.WithLabelValues(outcome).Inc()
}

func (r *Recorder) CacheWrite(err error) {
	r.cacheWrites.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) CacheEvicted(reason string, n int) {
	r.evictions.WithLabelValues(reason).Add(float64(n))
}

// SubscriberDelta is the push hub's subscriber gauge.
func (r *Recorder) SubscriberDelta(delta int) {
	r.subscribers.Add(float64(delta))
}

func result(err error) string {
	if err != nil {
		return domain.Kind(err)
	}
	return "ok"
}

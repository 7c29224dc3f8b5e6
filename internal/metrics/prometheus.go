package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hookrelay"

// NewRegistry returns a dedicated registry carrying the Go and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Recorder holds the service collectors. It satisfies the delivery engine's
// MetricsRecorder.
type Recorder struct {
	deliveries    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	suspended     prometheus.Counter
	sweepClaimed  prometheus.Counter
	queueDepth    prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by event and outcome.",
		}, []string{"event", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of delivery attempts in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"event"}),
		suspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_suspended_total",
			Help:      "Webhooks automatically suspended.",
		}),
		sweepClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_claimed_total",
			Help:      "Due retries claimed by the sweeper.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Delivery ids waiting in the dispatch queue.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		r.deliveries,
		r.duration,
		r.suspended,
		r.sweepClaimed,
		r.queueDepth,
		r.httpRequests,
		r.httpDurations,
	)
	return r
}

func (r *Recorder) ObserveAttempt(event string, outcome string, elapsed time.Duration) {
	r.deliveries.WithLabelValues(event, outcome).Inc()
	r.duration.WithLabelValues(event).Observe(elapsed.Seconds())
}

func (r *Recorder) WebhookSuspended() {
	r.suspended.Inc()
}

func (r *Recorder) SweepClaimed(n int) {
	if n > 0 {
		r.sweepClaimed.Add(float64(n))
	}
}

func (r *Recorder) SetQueueDepth(n int64) {
	r.queueDepth.Set(float64(n))
}

// ObserveHTTP records one API request. route is the matched route pattern,
// never the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDurations.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

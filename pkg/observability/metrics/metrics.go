package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests can build independent instances. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	vitalsStored       prometheus.Counter
	duplicatesIgnored  prometheus.Counter
	devicesRegistered  prometheus.Counter
	authRejections     *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		vitalsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "readings_stored_total",
			Help:      "Number of vital readings appended to the store.",
		}),
		duplicatesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "duplicates_ignored_total",
			Help:      "Number of submissions acknowledged as replays of an idempotency token.",
		}),
		devicesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "devices_registered_total",
			Help:      "Number of devices registered.",
		}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "auth_rejections_total",
			Help:      "Number of requests rejected by the credential guard.",
		}, []string{"reason"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vitals",
			Name:      "validation_failures_total",
			Help:      "Number of payloads rejected by schema validation.",
		}, []string{"endpoint"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vitals",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.vitalsStored,
		m.duplicatesIgnored,
		m.devicesRegistered,
		m.authRejections,
		m.validationFailures,
		m.requestDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) VitalStored() {
	if m != nil {
		m.vitalsStored.Inc()
	}
}

func (m *Metrics) DuplicateIgnored() {
	if m != nil {
		m.duplicatesIgnored.Inc()
	}
}

func (m *Metrics) DeviceRegistered() {
	if m != nil {
		m.devicesRegistered.Inc()
	}
}

func (m *Metrics) AuthRejected(reason string) {
	if m != nil {
		m.authRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ValidationFailed(endpoint string) {
	if m != nil {
		m.validationFailures.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m != nil {
		m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
	}
}

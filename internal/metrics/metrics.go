// Package metrics exports the event loop counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/srg/cgmsim/internal/cgm"
)

const namespace = "cgmsim"

// Collector implements cgm.Metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	measurements prometheus.Counter
	responses    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	sendFailures *prometheus.CounterVec
	startRejects prometheus.Counter
}

var _ cgm.Metrics = (*Collector)(nil)

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_sent_total",
			Help:      "Measurement notifications delivered to the transport.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_point_responses_total",
			Help:      "Control point responses indicated, by response opcode and status.",
		}, []string{"opcode", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_point_dropped_total",
			Help:      "Control point commands dropped without a response.",
		}, []string{"reason"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound notifications or indications the transport rejected.",
		}, []string{"kind"}),
		startRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_time_rejected_total",
			Help:      "Session start time writes rejected by validation.",
		}),
	}
	c.registry.MustRegister(c.measurements, c.responses, c.dropped, c.sendFailures, c.startRejects)
	return c
}

// WatchQueue exports the current event queue depth and capacity.
func (c *Collector) WatchQueue(length func() int, capacity int) {
	capGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_queue_capacity",
		Help:      "Event queue capacity.",
	})
	capGauge.Set(float64(capacity))
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_length",
			Help:      "Events waiting for the event loop.",
		}, func() float64 { return float64(length()) }),
		capGauge,
	)
}

func (c *Collector) MeasurementSent() { c.measurements.Inc() }

func (c *Collector) ResponseSent(op cgm.Opcode, status cgm.ResponseStatus) {
	c.responses.WithLabelValues(op.String(), status.String()).Inc()
}

func (c *Collector) CommandDropped(reason string) { c.dropped.WithLabelValues(reason).Inc() }

func (c *Collector) SendFailed(kind string) { c.sendFailures.WithLabelValues(kind).Inc() }

func (c *Collector) StartTimeRejected() { c.startRejects.Inc() }

// Registry exposes the private registry for tests and custom handlers.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Package metrics backs the connection driver's (4.K) "atomically
// updated counters and per-call histograms" with real Prometheus
// collectors: bytes in/out, message-size distribution, and an
// iowait-event counter. There is no bytes-per-syscall histogram.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements connection.Metrics against a dedicated
// prometheus.Registry so multiple node instances in a test process
// don't collide on the default global registry.
type Recorder struct {
	registry *prometheus.Registry

	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
	messageSize prometheus.Histogram
	ioWait      prometheus.Counter
}

// New creates a Recorder and registers its collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		bytesIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "swarmstore",
			Subsystem: "connection",
			Name:      "bytes_in_total",
			Help:      "Total bytes read from the wire across all connections.",
		}),
		bytesOut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "swarmstore",
			Subsystem: "connection",
			Name:      "bytes_out_total",
			Help:      "Total bytes written to the wire across all connections.",
		}),
		messageSize: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarmstore",
			Subsystem: "connection",
			Name:      "message_body_bytes",
			Help:      "Distribution of message body sizes, in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 12),
		}),
		ioWait: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "swarmstore",
			Subsystem: "connection",
			Name:      "iowait_events_total",
			Help:      "Number of times a send or receive path blocked on EAGAIN and waited for readiness.",
		}),
	}
	return r
}

func (r *Recorder) ObserveBytesIn(n int)     { r.bytesIn.Add(float64(n)) }
func (r *Recorder) ObserveBytesOut(n int)    { r.bytesOut.Add(float64(n)) }
func (r *Recorder) ObserveMessageSize(n int) { r.messageSize.Observe(float64(n)) }
func (r *Recorder) IncIOWaitEvents()         { r.ioWait.Inc() }

// Handler returns the /metrics HTTP handler for this Recorder's
// registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

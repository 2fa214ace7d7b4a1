package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the keyword detector service.
// All Record/Set methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Detector metrics
	KeywordDetections *prometheus.CounterVec
	SamplesDrained    prometheus.Counter
	StreamReadErrors  *prometheus.CounterVec
	StreamOverruns    prometheus.Counter
	PipeErrors        *prometheus.CounterVec
	DetectorActive    prometheus.Gauge

	// UDP ingest metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	PacketsLost      prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	SamplesIngested  prometheus.Counter
	QueueSize        prometheus.Gauge

	// Event fan-out metrics
	EventsPublished  *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	EventSubscribers prometheus.Gauge

	// Webhook metrics
	WebhookRequests  prometheus.Counter
	WebhookSuccesses prometheus.Counter
	WebhookFailures  prometheus.Counter
	WebhookRetries   prometheus.Counter
	WebhookDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Detector metrics
		KeywordDetections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kwd_keyword_detections_total",
			Help: "Total number of keyword detections signalled through the pipe",
		}, []string{"keyword"}),
		SamplesDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_samples_drained_total",
			Help: "Total number of audio samples drained from the shared stream",
		}),
		StreamReadErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kwd_stream_read_errors_total",
			Help: "Total number of stream read errors by kind",
		}, []string{"kind"}),
		StreamOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_stream_overruns_total",
			Help: "Total number of reader overruns recovered by seeking to the writer",
		}),
		PipeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kwd_pipe_errors_total",
			Help: "Total number of pipe I/O errors by operation",
		}, []string{"op"}),
		DetectorActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kwd_detector_active",
			Help: "1 while the detection loop is running",
		}),

		// UDP ingest metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_ingest_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_ingest_packets_processed_total",
			Help: "Total number of UDP packets written to the stream",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_ingest_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		PacketsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_ingest_packets_lost_total",
			Help: "Total number of packets missing from the sequence",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kwd_ingest_packets_dropped_total",
			Help: "Total number of packets dropped by reason",
		}, []string{"reason"}),
		SamplesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_ingest_samples_total",
			Help: "Total number of audio samples written to the stream",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kwd_ingest_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Event fan-out metrics
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kwd_events_published_total",
			Help: "Total number of events published to subscribers",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers",
		}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kwd_event_subscribers",
			Help: "Current number of live event subscribers",
		}),

		// Webhook metrics
		WebhookRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_webhook_requests_total",
			Help: "Total number of webhook deliveries attempted",
		}),
		WebhookSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_webhook_successes_total",
			Help: "Total number of successful webhook deliveries",
		}),
		WebhookFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_webhook_failures_total",
			Help: "Total number of webhook deliveries that failed after all retries",
		}),
		WebhookRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "kwd_webhook_retries_total",
			Help: "Total number of webhook delivery retries",
		}),
		WebhookDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kwd_webhook_duration_seconds",
			Help:    "Duration of webhook deliveries including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kwd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kwd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kwd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDetection increments the detections counter for keyword
func (m *Metrics) RecordDetection(keyword string) {
	if m == nil {
		return
	}
	m.KeywordDetections.WithLabelValues(keyword).Inc()
}

// RecordSamplesDrained adds n to the drained samples counter
func (m *Metrics) RecordSamplesDrained(n int) {
	if m == nil {
		return
	}
	m.SamplesDrained.Add(float64(n))
}

// RecordReadError increments the stream read errors counter
func (m *Metrics) RecordReadError(kind string) {
	if m == nil {
		return
	}
	m.StreamReadErrors.WithLabelValues(kind).Inc()
}

// RecordOverrun increments the overrun counter
func (m *Metrics) RecordOverrun() {
	if m == nil {
		return
	}
	m.StreamOverruns.Inc()
}

// RecordPipeError increments the pipe errors counter
func (m *Metrics) RecordPipeError(op string) {
	if m == nil {
		return
	}
	m.PipeErrors.WithLabelValues(op).Inc()
}

// SetDetectorActive sets the detector state gauge
func (m *Metrics) SetDetectorActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.DetectorActive.Set(1)
	} else {
		m.DetectorActive.Set(0)
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter and adds
// the written samples
func (m *Metrics) RecordPacketProcessed(samples int) {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
	m.SamplesIngested.Add(float64(samples))
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// RecordPacketsLost adds n to the lost packets counter
func (m *Metrics) RecordPacketsLost(n uint32) {
	if m == nil {
		return
	}
	m.PacketsLost.Add(float64(n))
}

// RecordPacketDropped increments the dropped packets counter
func (m *Metrics) RecordPacketDropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordEventPublished increments the published events counter
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped increments the dropped events counter
func (m *Metrics) RecordEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// SetSubscribers sets the live subscriber gauge
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.EventSubscribers.Set(float64(n))
}

// RecordWebhookRequest records a finished webhook delivery
func (m *Metrics) RecordWebhookRequest(success bool, durationSeconds float64, retries int) {
	if m == nil {
		return
	}
	m.WebhookRequests.Inc()
	if success {
		m.WebhookSuccesses.Inc()
	} else {
		m.WebhookFailures.Inc()
	}
	m.WebhookDuration.Observe(durationSeconds)
	if retries > 0 {
		m.WebhookRetries.Add(float64(retries))
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError increments HTTP errors counter
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

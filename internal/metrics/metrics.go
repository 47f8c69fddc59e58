// Package metrics provides Prometheus metrics for the ICMP responder.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "icmpforge"
)

// Metrics contains all responder metrics.
type Metrics struct {
	// Inbound
	Requests    prometheus.Counter
	Discarded   prometheus.Counter
	ParseErrors prometheus.Counter

	// Outbound
	Replies    *prometheus.CounterVec
	ReplyBytes prometheus.Counter
	SendErrors prometheus.Counter

	// Loop health
	Panics         prometheus.Counter
	CursorPosition prometheus.Gauge
	ProcessLatency prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide instance registered with the default
// Prometheus registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetricsWithRegistry creates a Metrics instance registered with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echo_requests_total",
			Help:      "Echo Requests received and answered or attempted",
		}),
		Discarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_total",
			Help:      "Inbound ICMP datagrams ignored because they were not Echo Requests",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Inbound datagrams dropped because they could not be parsed or answered",
		}),
		Replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Fabricated replies sent by ICMP type and code",
		}, []string{"type", "code"}),
		ReplyBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_bytes_total",
			Help:      "Bytes of fabricated IPv4 datagrams sent",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Fabricated replies the raw socket failed to send",
		}),
		Panics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_total",
			Help:      "Panics recovered while handling a datagram",
		}),
		CursorPosition: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_position",
			Help:      "Catalog index of the response the next Echo Request receives",
		}),
		ProcessLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_latency_seconds",
			Help:      "Time from receiving an Echo Request to handing the reply to the socket",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
	}
}

// RecordRequest counts one inbound Echo Request.
func (m *Metrics) RecordRequest() {
	m.Requests.Inc()
}

// RecordDiscard counts one ignored non-echo datagram.
func (m *Metrics) RecordDiscard() {
	m.Discarded.Inc()
}

// RecordParseError counts one datagram dropped before a response was chosen.
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordReply counts a sent reply of the given type and code.
func (m *Metrics) RecordReply(icmpType, code uint8, bytes int, latencySeconds float64) {
	m.Replies.WithLabelValues(strconv.Itoa(int(icmpType)), strconv.Itoa(int(code))).Inc()
	m.ReplyBytes.Add(float64(bytes))
	m.ProcessLatency.Observe(latencySeconds)
}

// RecordSendError counts a reply the socket rejected.
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// RecordPanic counts a recovered panic.
func (m *Metrics) RecordPanic() {
	m.Panics.Inc()
}

// SetCursor publishes the cursor position.
func (m *Metrics) SetCursor(idx int) {
	m.CursorPosition.Set(float64(idx))
}

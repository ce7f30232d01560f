package client

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the per-session Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	rejectedLines  *prometheus.CounterVec
}

// NewMetrics registers the session collectors on a fresh registry. conn may
// be nil; when set its byte counters are exported as well.
func NewMetrics(conn *Connection) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "client",
			Name:      "frames_sent_total",
			Help:      "Frames written to the server by opcode",
		}, []string{"opcode"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "client",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the server by opcode",
		}, []string{"opcode"}),
		decodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "client",
			Name:      "decode_failures_total",
			Help:      "Frames that could not be decoded, by reason",
		}, []string{"reason"}),
		rejectedLines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "client",
			Name:      "rejected_lines_total",
			Help:      "Console lines rejected before encoding, by reason",
		}, []string{"reason"}),
	}

	if conn != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "client",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to the stream",
		}, func() float64 { return float64(conn.GetBytesSent()) })
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "bgs",
			Subsystem: "client",
			Name:      "bytes_received_total",
			Help:      "Bytes read from the stream",
		}, func() float64 { return float64(conn.GetBytesReceived()) })
	}

	return m
}

// Registry exposes the underlying registry (tests and custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordSent(op protocol.Opcode) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) RecordReceived(msg protocol.ServerMessage) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(msg.Opcode().String()).Inc()
}

func (m *Metrics) RecordDecodeFailure(err error) {
	if m == nil {
		return
	}
	reason := "transport"
	if protocol.IsProtocolViolation(err) {
		reason = "protocol_violation"
	}
	m.decodeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRejected(err error) {
	if m == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, protocol.ErrUnknownCommand):
		reason = "unknown_command"
	case errors.Is(err, protocol.ErrMalformedArguments):
		reason = "malformed_arguments"
	}
	m.rejectedLines.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until the returned server is closed.
// Listen failures are logged; the session keeps running without metrics.
func (m *Metrics) Serve(addr string, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && logger != nil {
			logger.Printf("Metrics server error: %v", err)
		}
	}()
	return srv
}

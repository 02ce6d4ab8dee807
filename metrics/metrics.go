// Package metrics provides Prometheus instrumentation for the echo reactor.
// Collectors are package level and registered once with the default
// registry; every reactor in the process shares them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsAccepted counts sockets returned by accept.
	ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echopoll_connections_accepted_total",
		Help: "Total number of accepted TCP connections",
	})

	// ConnectionsActive tracks the connections currently in the table.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "echopoll_connections_active",
		Help: "Current number of open connections",
	})

	// ConnectionsClosed counts teardowns labeled by reason:
	// "eof", "read_error", "write_error", "idle", "shutdown".
	ConnectionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "echopoll_connections_closed_total",
		Help: "Total number of closed connections",
	}, []string{"reason"})

	AcceptErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echopoll_accept_errors_total",
		Help: "Accept failures other than would-block",
	})

	BytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echopoll_bytes_read_total",
		Help: "Bytes read from peers",
	})

	BytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echopoll_bytes_written_total",
		Help: "Bytes echoed back to peers",
	})

	// PartialWrites counts writes that accepted fewer bytes than offered.
	PartialWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echopoll_partial_writes_total",
		Help: "Writes that left a remainder in the output buffer",
	})

	// ReadPauses counts reads stopped because the output buffer hit its limit.
	ReadPauses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echopoll_read_pauses_total",
		Help: "Times input was paused by the output buffer limit",
	})

	// PollBatchSize records the number of events returned by one poll.
	PollBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "echopoll_poll_batch_size",
		Help:    "Events returned per poll call",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsAccepted,
		ConnectionsActive,
		ConnectionsClosed,
		AcceptErrors,
		BytesRead,
		BytesWritten,
		PartialWrites,
		ReadPauses,
		PollBatchSize,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts sessions established by a factory, by protocol.
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpclient_sessions_created_total",
			Help: "Total number of remote sessions established",
		},
		[]string{"protocol"},
	)

	// SessionCreateFailures counts failed connection attempts by protocol and
	// failure kind (UNKNOWN_HOST|CANNOT_REACH|INCORRECT_CREDENTIALS|UNKNOWN).
	SessionCreateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpclient_session_create_failures_total",
			Help: "Total number of failed remote session attempts",
		},
		[]string{"protocol", "kind"},
	)

	// SessionsDestroyed counts destroyed sessions by reason
	// (invalidated|validation|idle).
	SessionsDestroyed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpclient_sessions_destroyed_total",
			Help: "Total number of remote sessions destroyed",
		},
		[]string{"protocol", "reason"},
	)

	// BorrowedSessions tracks sessions currently lent out, per endpoint.
	BorrowedSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ftpclient_borrowed_sessions",
			Help: "Number of sessions currently borrowed from the pool",
		},
		[]string{"endpoint"},
	)

	// BorrowLatency measures how long callers wait for a session.
	BorrowLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftpclient_borrow_latency_seconds",
			Help:    "Time spent waiting for a pooled session",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	// CleanupFailures counts failed best-effort completion steps by strategy
	// (delete|archive|rename).
	CleanupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpclient_cleanup_failures_total",
			Help: "Total number of failed post-read cleanup steps",
		},
		[]string{"strategy"},
	)

	// PolledFiles counts files handled by poll cycles by result
	// (delivered|skipped|failed).
	PolledFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpclient_polled_files_total",
			Help: "Total number of files picked up by polling",
		},
		[]string{"poll", "result"},
	)

	// PollCycles counts completed and aborted poll cycles.
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpclient_poll_cycles_total",
			Help: "Total number of poll cycles",
		},
		[]string{"poll", "result"},
	)

	// TransferredBytes counts payload bytes moved by direction (upload|download).
	TransferredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftpclient_transferred_bytes_total",
			Help: "Total number of payload bytes transferred",
		},
		[]string{"direction"},
	)
)

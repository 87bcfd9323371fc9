// Package telemetry wires up structured logging and Prometheus metrics the
// same way across all four toyraft binaries.
package telemetry

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rshen/toyraft/internal/transport"
)

// Init configures the global zerolog logger with a console writer and a
// component field, following the level-tagged chained-builder style used
// throughout the raft implementations in the example corpus.
func Init(component string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// RaftMetrics are the Prometheus series an order replica exposes on
// /metrics: term, leadership, election count, and append latency.
type RaftMetrics struct {
	Term          prometheus.Gauge
	IsLeader      prometheus.Gauge
	Elections     prometheus.Counter
	AppendLatency prometheus.Histogram
}

// NewRaftMetrics registers and returns the metrics for a single replica.
func NewRaftMetrics(replicaID int) *RaftMetrics {
	id := strconv.Itoa(replicaID)
	return &RaftMetrics{
		Term: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "toyraft_current_term",
			Help:        "Current Raft term observed by this replica.",
			ConstLabels: prometheus.Labels{"replica_id": id},
		}),
		IsLeader: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "toyraft_is_leader",
			Help:        "1 if this replica believes it is the current leader.",
			ConstLabels: prometheus.Labels{"replica_id": id},
		}),
		Elections: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "toyraft_elections_started_total",
			Help:        "Number of elections this replica has started.",
			ConstLabels: prometheus.Labels{"replica_id": id},
		}),
		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "toyraft_append_entries_seconds",
			Help:        "Latency of a leader's submit() replication round.",
			ConstLabels: prometheus.Labels{"replica_id": id},
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// MetricsHandler returns the standard Prometheus scrape handler.
func MetricsHandler() http.Handler { return promhttp.Handler() }

// NewTraceID returns a request-scoped trace identifier for X-Request-Id.
func NewTraceID() string { return uuid.New().String() }

// Middleware mints an X-Request-Id when the inbound request has none,
// stamps it on both the request (so outbound forwarding picks it up
// automatically) and the response, and binds a trace-scoped logger to the
// request context for handlers to log through.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(transport.TraceHeader)
		if traceID == "" {
			traceID = NewTraceID()
			r.Header.Set(transport.TraceHeader, traceID)
		}
		w.Header().Set(transport.TraceHeader, traceID)

		reqLogger := log.With().Str("trace_id", traceID).Logger()
		next.ServeHTTP(w, r.WithContext(reqLogger.WithContext(r.Context())))
	})
}

// LoggerFromContext returns the trace-scoped logger Middleware bound to
// ctx, or the global logger if none was bound.
func LoggerFromContext(ctx context.Context) *zerolog.Logger {
	if l := log.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

package core

import (
	"context"
	"encoding/json"
	"expvar"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExpvarMetricsRecorder publishes per-operation counters under one expvar
// map, visible on the standard /debug/vars endpoint.
type ExpvarMetricsRecorder struct {
	vars *expvar.Map
}

// NewExpvarMetricsRecorder publishes a new expvar map under the given name.
// Names must be unique per process; expvar panics on duplicates.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	return &ExpvarMetricsRecorder{vars: expvar.NewMap(name)}
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	r.vars.Add(operation+"_total", 1)
	if !success {
		r.vars.Add(operation+"_errors", 1)
	}
	r.vars.Add(operation+"_duration_ms", duration.Milliseconds())
}

// PrometheusMetricsRecorder exports operation counts and latencies through a
// prometheus registry, typically served via promhttp.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the engine collectors with the given
// registerer. Pass prometheus.DefaultRegisterer for the process default.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "govcore",
			Name:      "operations_total",
			Help:      "Facade operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "govcore",
			Name:      "operation_duration_seconds",
			Help:      "Facade operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if err := reg.Register(r.operations); err != nil {
		return nil, err
	}
	if err := reg.Register(r.duration); err != nil {
		return nil, err
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// JSONTraceTracer writes one JSON line per finished span. Intended for local
// debugging and tests, not distributed tracing.
type JSONTraceTracer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewJSONTraceTracer constructs a tracer writing to out.
func NewJSONTraceTracer(out io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{out: out, now: func() time.Time { return time.Now().UTC() }}
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.now()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	record := map[string]any{
		"operation":   s.operation,
		"started_at":  s.started.Format(time.RFC3339Nano),
		"duration_ms": s.tracer.now().Sub(s.started).Milliseconds(),
	}
	if err != nil {
		record["error"] = err.Error()
	}
	line, encodeErr := json.Marshal(record)
	if encodeErr != nil {
		return
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.out.Write(append(line, '\n'))
}

// SlogAuditRecorder forwards audit entries to a structured logger.
type SlogAuditRecorder struct {
	logger *slog.Logger
}

// NewSlogAuditRecorder constructs a recorder writing through the logger.
func NewSlogAuditRecorder(logger *slog.Logger) *SlogAuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditRecorder{logger: logger}
}

// Record implements AuditRecorder.
func (r *SlogAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	r.logger.InfoContext(ctx, "audit",
		"operation", entry.Operation,
		"actor", entry.Actor,
		"object", string(entry.Object),
		"object_id", entry.ObjectID,
		"status", string(entry.Status),
		"error", entry.Error)
}

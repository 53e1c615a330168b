// Package core wires the governance engine together: the permission matrix,
// the lifecycle registry, the snapshot engine, and the amendment controller
// behind one transactional facade.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"govcore/internal/amendment"
	"govcore/internal/matrix"
	"govcore/internal/snapshot"
	"govcore/internal/statemachine"
	"govcore/pkg/domain"
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
	RulesEngine     = domain.RulesEngine
	Result          = domain.Result
)

// Clock supplies the current time for audit stamps and signatures.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the function's current time.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus marks the outcome of an audited operation.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry captures one facade operation for external audit sinks. This is
// separate from the document activity log: activity entries are part of the
// governed state, audit entries are operator telemetry.
type AuditEntry struct {
	Operation  string            `json:"operation"`
	Actor      string            `json:"actor"`
	Object     domain.ObjectType `json:"object,omitempty"`
	ObjectID   string            `json:"object_id,omitempty"`
	Status     AuditStatus       `json:"status"`
	Error      string            `json:"error,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// AuditRecorder receives audit entries for every facade operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes and latencies.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan finishes a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer opens spans around facade operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// Service is the integration facade over the governance engine. All callers,
// including the REST adapter and background jobs, go through it.
type Service struct {
	store      domain.PersistentStore
	registry   *statemachine.Registry
	decider    *matrix.Decider
	snapshots  *snapshot.Engine
	amendments *amendment.Controller

	clock    Clock
	logger   *slog.Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	notifier *Dispatcher

	// conflictRetryHook fires before the automatic retry of a conflicted
	// patch; tests use it to interleave a competing writer.
	conflictRetryHook func()
}

// Option customizes Service construction.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) { s.audit = recorder }
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) { s.metrics = recorder }
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithNotifier installs the post-commit notification dispatcher.
func WithNotifier(dispatcher *Dispatcher) Option {
	return func(s *Service) { s.notifier = dispatcher }
}

// NewService constructs the facade. The registry and matrix must be fully
// populated before the first request; both are read-only afterwards.
func NewService(store domain.PersistentStore, registry *statemachine.Registry, decider *matrix.Decider, options ...Option) *Service {
	s := &Service{
		store:     store,
		registry:  registry,
		decider:   decider,
		snapshots: snapshot.NewEngine(),
		clock:     ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:    slog.Default(),
	}
	s.amendments = amendment.NewController(registry, s.snapshots)
	for _, t := range registry.Types() {
		bp, _ := registry.Blueprint(t)
		s.snapshots.Configure(t, snapshot.Config{Relations: bp.Relations, IgnoreFields: bp.IgnoreFields})
	}
	for _, opt := range options {
		opt(s)
	}
	decider.SetLogf(func(format string, args ...any) {
		s.logger.Warn(fmt.Sprintf(format, args...))
	})
	return s
}

// Store exposes the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry exposes the lifecycle registry.
func (s *Service) Registry() *statemachine.Registry { return s.registry }

// Decider exposes the permission decider.
func (s *Service) Decider() *matrix.Decider { return s.decider }

// instrument wraps one facade operation with tracing, metrics, and audit.
func (s *Service) instrument(ctx context.Context, operation string, actor domain.User, t domain.ObjectType, id string, fn func(context.Context) error) error {
	started := s.clock.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	err := fn(ctx)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, s.clock.Now().Sub(started))
	}
	if s.audit != nil {
		entry := AuditEntry{
			Operation:  operation,
			Actor:      actor.ID,
			Object:     t,
			ObjectID:   id,
			Status:     AuditStatusSuccess,
			OccurredAt: s.clock.Now(),
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = string(domain.KindOf(err))
		}
		s.audit.Record(ctx, entry)
	}
	if err != nil && domain.KindOf(err) == domain.KindInternal {
		s.logger.ErrorContext(ctx, "operation failed",
			"operation", operation,
			"object", string(t),
			"object_id", id,
			"error", err)
	}
	return err
}

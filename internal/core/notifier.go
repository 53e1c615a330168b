package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"govcore/pkg/domain"
)

// Event describes one post-commit notification. Handlers receive it after
// the owning transaction is durable; failures never roll the commit back.
type Event struct {
	Hook       string            `json:"hook"`
	Object     domain.ObjectType `json:"object"`
	ObjectID   string            `json:"object_id"`
	Transition string            `json:"transition,omitempty"`
	ActorID    string            `json:"actor_id"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Handler consumes notification events for one hook.
type Handler func(ctx context.Context, event Event)

// Dispatcher fans notification events out to registered handlers on a
// background goroutine. Enqueueing never blocks the request path: when the
// queue is full the event is dropped and logged.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	queue  chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher constructs a dispatcher with a bounded queue.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string][]Handler),
		queue:    make(chan Event, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers a handler for a hook name.
func (d *Dispatcher) Subscribe(hook string, handler Handler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	d.handlers[hook] = append(d.handlers[hook], handler)
	d.mu.Unlock()
}

// Start begins delivering events.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop halts delivery and waits for in-flight handlers.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch enqueues an event for asynchronous delivery.
func (d *Dispatcher) Dispatch(event Event) {
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("notification queue full, dropping event",
			"hook", event.Hook,
			"object", string(event.Object),
			"object_id", event.ObjectID)
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.drain()
			return
		case event := <-d.queue:
			d.deliver(d.ctx, event)
		}
	}
}

// drain delivers the events already accepted into the queue before the stop.
// They belong to committed transactions and must not be dropped; handlers get
// an uncancelled context so they still do their work.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(context.WithoutCancel(d.ctx), event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[event.Hook]...)
	d.mu.RUnlock()
	for _, handler := range handlers {
		handler(ctx, event)
	}
}

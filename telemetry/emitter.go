package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/verimesh/logging"
)

// Sink receives events.
type Sink interface {
	Handle(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// DefaultBufferSize is the queue length of an Emitter.
const DefaultBufferSize = 256

// Options configures an Emitter.
type Options struct {
	// Enabled is the single switch for all telemetry.
	Enabled    bool
	BufferSize int
	Logger     logging.Logger
}

// Emitter fans events out to sinks asynchronously. All methods are safe on
// a nil *Emitter.
type Emitter struct {
	sinks   []Sink
	queue   chan Event
	logger  logging.Logger
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New creates an emitter. A disabled emitter (or one without sinks) starts
// no goroutine and ignores every event.
func New(sinks []Sink, optFns ...func(o *Options)) *Emitter {
	opts := Options{Enabled: true, BufferSize: DefaultBufferSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	e := &Emitter{
		sinks:  append([]Sink(nil), sinks...),
		logger: logging.OrNoOp(opts.Logger),
		done:   make(chan struct{}),
	}
	if !opts.Enabled || len(e.sinks) == 0 {
		e.closed = true
		close(e.done)
		return e
	}
	e.queue = make(chan Event, opts.BufferSize)
	go e.loop()
	return e
}

// Emit queues e without blocking.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
		e.logger.Warn("telemetry.event.dropped", "kind", string(ev.Kind), "task_id", ev.TaskID)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (e *Emitter) Dropped() int64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Close stops accepting events and waits until queued events are delivered
// or ctx ends.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) loop() {
	defer close(e.done)
	for ev := range e.queue {
		for _, s := range e.sinks {
			e.deliver(s, ev)
		}
	}
}

func (e *Emitter) deliver(s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("telemetry.sink.panic", "kind", string(ev.Kind), "recover", fmt.Sprint(r))
		}
	}()
	if err := s.Handle(context.Background(), ev); err != nil {
		e.logger.Warn("telemetry.sink.error", "kind", string(ev.Kind), "error", err.Error())
	}
}

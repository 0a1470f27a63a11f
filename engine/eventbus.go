package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"highscores/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

type subscription struct {
	id  int64
	typ core.EventType
	fn  func(context.Context, core.Event)
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithBusLogger sets the logger used to report dropped events.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(e *EventBus) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithQueueSize sets the async queue capacity.
func WithQueueSize(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// EventBus provides thread-safe pub/sub with sync and async dispatch.
type EventBus struct {
	mode         DispatchMode
	mu           sync.RWMutex
	subs         map[core.EventType]map[int64]subscription
	nextID       int64
	queueSize    int
	asyncQueue   chan core.Event
	asyncWorkers int
	wg           sync.WaitGroup
	// queueMu guards sends on asyncQueue against Close closing it.
	queueMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Int64
	logger    *slog.Logger
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	eb := &EventBus{
		mode:         mode,
		subs:         make(map[core.EventType]map[int64]subscription),
		queueSize:    2048,
		asyncWorkers: 4,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(eb)
	}
	if mode == DispatchAsync {
		eb.asyncQueue = make(chan core.Event, eb.queueSize)
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.asyncWorkers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range e.asyncQueue {
				e.dispatchSync(context.Background(), ev)
			}
		}()
	}
}

// Close stops accepting events, lets the async workers drain the queue and
// waits for them.
func (e *EventBus) Close() {
	e.closeOnce.Do(func() {
		e.queueMu.Lock()
		e.closed = true
		if e.asyncQueue != nil {
			close(e.asyncQueue)
		}
		e.queueMu.Unlock()
		e.wg.Wait()
	})
}

// Dropped reports how many async events were discarded.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, typ: typ, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// Publish sends an event to subscribers. In async mode it never blocks; events
// are dropped and logged when the queue is full or the bus is closed.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode != DispatchAsync {
		e.dispatchSync(ctx, ev)
		return
	}
	e.queueMu.RLock()
	defer e.queueMu.RUnlock()
	if e.closed {
		e.drop(ctx, ev, "bus closed")
		return
	}
	select {
	case e.asyncQueue <- ev:
	default:
		e.drop(ctx, ev, "queue full")
	}
}

func (e *EventBus) drop(ctx context.Context, ev core.Event, reason string) {
	e.dropped.Add(1)
	e.logger.WarnContext(ctx, "event dropped",
		"reason", reason,
		"type", ev.Type,
		"leaderboard", ev.Leaderboard,
		"name", ev.Name)
}

func (e *EventBus) dispatchSync(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	subs := e.subs[ev.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.Event), 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ev)
	}
}

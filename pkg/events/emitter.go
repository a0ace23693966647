package events

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler receives an event
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Emitter is a synchronous observer registry. Handlers run on the emitting
// goroutine in registration order; a panicking handler is logged and does not
// affect other handlers or the emitter.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Kind][]subscription
	all      []subscription
	nextID   atomic.Uint64
	logger   zerolog.Logger
}

// NewEmitter creates an emitter that logs handler panics to the global logger
func NewEmitter() *Emitter {
	return NewEmitterWithLogger(log.Logger)
}

// NewEmitterWithLogger creates an emitter with a specific logger
func NewEmitterWithLogger(logger zerolog.Logger) *Emitter {
	return &Emitter{
		handlers: make(map[Kind][]subscription),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// On registers a handler for one event kind. The returned function removes it.
func (e *Emitter) On(kind Kind, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID.Add(1)
	e.handlers[kind] = append(e.handlers[kind], subscription{id: id, handler: handler})

	return func() { e.off(kind, id) }
}

// OnAll registers a handler for every event kind. The returned function removes it.
func (e *Emitter) OnAll(handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID.Add(1)
	e.all = append(e.all, subscription{id: id, handler: handler})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.all = without(e.all, id)
	}
}

// Off removes every handler registered for kind
func (e *Emitter) Off(kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, kind)
}

func (e *Emitter) off(kind Kind, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := without(e.handlers[kind], id)
	if len(subs) == 0 {
		delete(e.handlers, kind)
		return
	}
	e.handlers[kind] = subs
}

// Emit delivers an event to the handlers for its kind, then to catch-all handlers.
// A nil emitter drops the event.
func (e *Emitter) Emit(ev Event) {
	if e == nil || ev == nil {
		return
	}

	e.mu.RLock()
	subs := make([]subscription, 0, len(e.handlers[ev.Kind()])+len(e.all))
	subs = append(subs, e.handlers[ev.Kind()]...)
	subs = append(subs, e.all...)
	e.mu.RUnlock()

	for _, sub := range subs {
		e.deliver(sub.handler, ev)
	}
}

// HandlerCount returns the number of handlers that would receive an event of kind
func (e *Emitter) HandlerCount(kind Kind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[kind]) + len(e.all)
}

func (e *Emitter) deliver(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("event", string(ev.Kind())).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Event handler panicked")
		}
	}()
	handler(ev)
}

// Subscribe registers a handler typed to a single event type.
//
//	events.Subscribe(em, func(ev events.TaskComplete) { ... })
func Subscribe[T Event](e *Emitter, fn func(T)) func() {
	var zero T
	return e.On(zero.Kind(), func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}

func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

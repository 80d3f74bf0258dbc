// Package eventbus implements an in-process, single-threaded publisher/
// subscriber over named event kinds. It holds no persistence and makes no
// ordering promises beyond "handlers observe events in global emission
// order, synchronously, on the emitter's own goroutine" — the cross-process
// fan-out concern belongs to internal/broker, not here.
package eventbus

import (
	"log/slog"
	"time"
)

// Event is the payload handed to every registered handler.
type Event struct {
	Kind      string
	Name      string
	Payload   any
	Timestamp time.Time
}

// Handler reacts to an emitted event. A handler must not block or perform
// unbounded work: the dispatcher applies no backpressure and runs handlers
// synchronously on the emitter's goroutine. Long-running reactions must be
// handed off to another execution context by the handler itself.
type Handler func(Event)

// Bus is a single-threaded dispatcher. It holds no lock: On, Off and
// RemoveAll must not run concurrently with each other or with Emit. In
// this module one Bus is shared by the orchestrator, which registers its
// handlers when it is constructed, and every service it supervises, which
// only emit.
type Bus struct {
	log      *slog.Logger
	handlers map[string][]registeredHandler
	nextID   uint64
}

type registeredHandler struct {
	id      uint64
	handler Handler
}

// New constructs an empty bus. log may be nil, in which case slog.Default()
// is used.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:      log,
		handlers: make(map[string][]registeredHandler),
	}
}

// HandlerID identifies a single registration, returned by On so a caller can
// later pass it to Off without needing handler value equality (func values
// are not comparable in Go, so registration order alone cannot disambiguate
// two handlers registered for the same kind).
type HandlerID uint64

// On registers handler for kind, returning an ID that Off can later use to
// remove exactly this registration. Handlers for the same kind run in
// registration order.
func (b *Bus) On(kind string, handler Handler) HandlerID {
	b.nextID++
	id := b.nextID
	b.handlers[kind] = append(b.handlers[kind], registeredHandler{id: id, handler: handler})
	return HandlerID(id)
}

// Off removes a single registration by ID. It is a no-op if the ID is
// unknown or was already removed.
func (b *Bus) Off(kind string, id HandlerID) {
	handlers, ok := b.handlers[kind]
	if !ok {
		return
	}
	for i, rh := range handlers {
		if rh.id == uint64(id) {
			b.handlers[kind] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// RemoveAll clears every registration for every kind, so no previously
// registered handler fires again.
func (b *Bus) RemoveAll() {
	b.handlers = make(map[string][]registeredHandler)
}

// Emit synchronously invokes every handler registered for kind, in
// registration order, on the caller's goroutine. A handler that panics is
// isolated: the panic is recovered and logged, and dispatch continues to
// the remaining handlers, matching spec: "handler exceptions are isolated
// (logged, not rethrown)".
func (b *Bus) Emit(kind, name string, payload any) {
	event := Event{Kind: kind, Name: name, Payload: payload, Timestamp: time.Now()}
	for _, rh := range b.handlers[kind] {
		b.invoke(rh.handler, event)
	}
}

func (b *Bus) invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"event_kind", event.Kind,
				"event_name", event.Name,
				"panic", r,
			)
		}
	}()
	handler(event)
}

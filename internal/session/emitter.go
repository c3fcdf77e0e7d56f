package session

import (
	"encoding/json"
	"sync"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/protocol"
)

// Handler receives the raw data of one inbound event.
type Handler = func(data json.RawMessage)

type listener struct {
	id   uint64
	fn   Handler
	once bool
}

// Emitter is a listener registry keyed by event name. Handlers run on the
// emitting goroutine, outside the registry lock.
type Emitter struct {
	mu        sync.Mutex
	next      uint64
	listeners map[protocol.Event][]listener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[protocol.Event][]listener)}
}

// On registers fn for event and returns a func that removes it. The
// returned func may be called any number of times.
func (e *Emitter) On(event protocol.Event, fn Handler) func() {
	return e.add(event, fn, false)
}

// Once registers fn to run at most once.
func (e *Emitter) Once(event protocol.Event, fn Handler) func() {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event protocol.Event, fn Handler, once bool) func() {
	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners[event] = append(e.listeners[event], listener{id: id, fn: fn, once: once})
	e.mu.Unlock()

	return func() { e.remove(event, id) }
}

func (e *Emitter) remove(event protocol.Event, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
}

// Emit calls every listener for event in registration order.
func (e *Emitter) Emit(event protocol.Event, data json.RawMessage) {
	e.mu.Lock()
	ls := e.listeners[event]
	fns := make([]Handler, 0, len(ls))
	kept := ls[:0:0]
	for _, l := range ls {
		fns = append(fns, l.fn)
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) != len(ls) {
		if len(kept) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = kept
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

// ListenerCount counts listeners for the given events, or for every event
// when none are named.
func (e *Emitter) ListenerCount(events ...protocol.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(events) == 0 {
		n := 0
		for _, ls := range e.listeners {
			n += len(ls)
		}
		return n
	}
	n := 0
	for _, ev := range events {
		n += len(e.listeners[ev])
	}
	return n
}

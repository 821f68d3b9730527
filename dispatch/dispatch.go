// Package dispatch routes normalized events to user-registered handlers and
// chat messages to named commands.
//
// Every handler invocation runs as an independent task with a panic
// boundary: one handler's failure or slowness never blocks or crashes its
// siblings, the router, or the upstream pipeline.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/creachadair/taskgroup"

	"github.com/driftlabs/pylon/state"
)

// A Handler processes one normalized event. Handlers run fire-and-forget:
// they have no cancellation contract beyond the context's, and any value
// they panic with is recovered and logged.
type Handler func(ctx context.Context, evt state.Event)

// A Registration records one handler bound to an event type. Remove
// unregisters exactly this registration. Handler functions are not
// comparable in Go, so removal is by registration identity rather than by
// function value.
type Registration struct {
	Event  string // event type tag
	Module string // owning module identifier

	fn     Handler
	router *Router
}

// Remove unregisters the handler. It is safe to call more than once, and
// does not interrupt invocations already in flight.
func (r *Registration) Remove() { r.router.remove(r) }

// A Router fans normalized events out to registered handlers.
type Router struct {
	mu       sync.Mutex
	handlers map[string][]*Registration

	tasks  *taskgroup.Group
	logger *slog.Logger
}

// NewRouter constructs an empty router. If logger is nil, slog.Default() is
// used.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string][]*Registration),
		tasks:    taskgroup.New(nil),
		logger:   logger,
	}
}

// Register binds fn to the given event type on behalf of module. It is safe
// to call while the router is dispatching.
func (r *Router) Register(event, module string, fn Handler) *Registration {
	reg := &Registration{Event: event, Module: module, fn: fn, router: r}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], reg)
	return reg
}

// Unload removes every registration owned by module.
func (r *Router) Unload(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for event, regs := range r.handlers {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.Module != module {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.handlers, event)
		} else {
			r.handlers[event] = kept
		}
	}
}

func (r *Router) remove(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[reg.Event]
	for i, cand := range regs {
		if cand == reg {
			r.handlers[reg.Event] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(r.handlers[reg.Event]) == 0 {
		delete(r.handlers, reg.Event)
	}
}

// Dispatch schedules one independent invocation per registration matching
// the event's type tag. It does not block on the handlers.
func (r *Router) Dispatch(ctx context.Context, evt state.Event) {
	r.mu.Lock()
	regs := r.handlers[evt.Type]
	if len(regs) != 0 {
		regs = append([]*Registration(nil), regs...)
	}
	r.mu.Unlock()

	for _, reg := range regs {
		r.tasks.Go(func() error {
			defer r.recoverPanic(evt.Type, reg.Module)
			reg.fn(ctx, evt)
			return nil
		})
	}
}

// Wait blocks until all in-flight handler invocations have returned.
func (r *Router) Wait() { r.tasks.Wait() }

func (r *Router) recoverPanic(event, module string) {
	if x := recover(); x != nil {
		r.logger.Error("handler panicked (recovered)",
			"event", event, "module", module, "panic", x)
	}
}

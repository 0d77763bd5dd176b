// Package events is an in-process publish/subscribe dispatcher.
//
// A Bus is an explicit value owned by whoever wires the application; there is
// no package-level instance. Notify fans out to every handler of an event
// concurrently and waits for all of them.
package events

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
)

// Event names used by the application
const (
	DatasetUploaded = "dataset_uploaded"
)

// Payload keys of DatasetUploaded
const (
	PayloadPath  = "path"
	PayloadJobID = "job_id"
	PayloadTopN  = "top_n"
)

// Event is a transient notification; it lives for a single Notify call
type Event struct {
	Name    string
	Payload map[string]any
}

// String returns the payload value for key, or ""
func (e Event) String(key string) string {
	v, _ := e.Payload[key].(string)
	return v
}

// Handler reacts to an event. It may start background work and return early.
type Handler func(ctx context.Context, event Event) error

// HandlerError is returned by Notify when a subscriber fails
type HandlerError struct {
	Event   string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q for event %q: %v", e.Handler, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{errs.ErrHandler, e.Err}
}

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events to subscribed handlers
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]subscription)}
}

// Subscribe registers handler for event. name identifies the handler in errors and logs.
func (b *Bus) Subscribe(event, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], subscription{name: name, handler: handler})
}

// Subscribers returns the number of handlers registered for event
func (b *Bus) Subscribers(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

// Notify runs every handler registered for event concurrently and waits for
// all of them. The first failure is returned as a *HandlerError; handlers that
// are still running see their context cancelled but are not rolled back.
// A panicking handler is reported as a failure.
func (b *Bus) Notify(ctx context.Context, event string, payload map[string]any) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[event]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		logging.Ctx(ctx).Debug().Str("event", event).Msg("no subscribers")
		return nil
	}

	ev := Event{Name: event, Payload: payload}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = &HandlerError{Event: event, Handler: s.name, Err: fmt.Errorf("panic: %v", p)}
				}
			}()
			if err := s.handler(gctx, ev); err != nil {
				return &HandlerError{Event: event, Handler: s.name, Err: err}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("event", event).Msg("event handler failed")
		return err
	}
	return nil
}

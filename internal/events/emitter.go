// Package events publishes plugin lifecycle and transfer events to a fixed
// set of named channels. Emit joins every registered handler before
// returning, so a caller can send an acknowledgment only after all
// subscribers have finished.
package events

import (
	"context"
	"sync"

	"github.com/interledgerx/plugin-bells/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event names the plugin emits.
type Event string

const (
	Connect    Event = "connect"
	Disconnect Event = "disconnect"

	IncomingPrepare  Event = "incoming_prepare"
	IncomingTransfer Event = "incoming_transfer"
	IncomingFulfill  Event = "incoming_fulfill"
	IncomingCancel   Event = "incoming_cancel"

	OutgoingPrepare  Event = "outgoing_prepare"
	OutgoingTransfer Event = "outgoing_transfer"
	OutgoingFulfill  Event = "outgoing_fulfill"
	OutgoingCancel   Event = "outgoing_cancel"
)

// Payload carries the agnostic transfer plus, for fulfill/cancel events, the
// fulfillment or the cancellation reason. Connect/disconnect payloads are
// empty.
type Payload struct {
	Transfer    *ledger.Transfer
	Fulfillment string
	Reason      string
}

// Handler processes one event. A non-nil error marks the whole emission as
// failed.
type Handler func(ctx context.Context, p Payload) error

type Emitter struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	logger   *zap.SugaredLogger
}

func NewEmitter(logger *zap.SugaredLogger) *Emitter {
	return &Emitter{
		handlers: make(map[Event][]Handler),
		logger:   logger,
	}
}

// On registers a handler for an event name. Registration order is not an
// ordering guarantee; handlers for one emission run concurrently.
func (e *Emitter) On(event Event, handler Handler) {
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], handler)
	e.mu.Unlock()
}

// Emit runs every handler registered for event and waits for all of them.
// The first handler error is returned; the remaining handlers still run to
// completion.
func (e *Emitter) Emit(ctx context.Context, event Event, p Payload) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	e.logger.Debugw("emitting event", "event", event, "subscribers", len(handlers))
	g := new(errgroup.Group)
	for _, handler := range handlers {
		handler := handler
		g.Go(func() error {
			return handler(ctx, p)
		})
	}
	return g.Wait()
}

// Package router dispatches inbound envelopes to local handlers or to a
// remote-delivery hook, enforcing at-most-once local dispatch per message id.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/observability"
)

// Handler consumes one message. A returned error (or panic) is contained at
// the dispatch boundary; it never causes redelivery.
type Handler func(*message.Message) error

// RemoteHook forwards a message addressed to another node. The integrating
// layer supplies one that knows how to reach a transport. The message id is
// recorded as dispatched only after the hook returns nil, so callers may
// safely retry on hook failure.
type RemoteHook func(context.Context, *message.Message) error

// Outcome reports what Handle did with a message.
type Outcome string

const (
	OutcomeHandled       Outcome = "handled"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeForwarded     Outcome = "forwarded"
	OutcomeUndeliverable Outcome = "undeliverable"
	OutcomeHandlerError  Outcome = "handler_error"
)

// ErrUndeliverable reports a message with no local handler and no remote
// route. The message is not marked dispatched.
var ErrUndeliverable = errors.New("router: undeliverable message")

// Options configure a Router.
type Options struct {
	// NodeID identifies this node; messages whose recipient equals it (or is
	// empty) are local.
	NodeID string
	// DedupeCapacity bounds the recency set (default 4096).
	DedupeCapacity int
	// Remote is invoked for messages addressed elsewhere. Nil means such
	// messages are undeliverable.
	Remote RemoteHook
	// Metrics is optional.
	Metrics *observability.Metrics
}

// Router owns the handler table and the dedupe set. Both are shared mutable
// state touched from every transport's inbound path, so all access is
// mutex-serialized.
type Router struct {
	mu       sync.Mutex
	handlers map[string]Handler
	seen     *recencySet

	nodeID  string
	remote  RemoteHook
	metrics *observability.Metrics
}

func New(opts Options) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		seen:     newRecencySet(opts.DedupeCapacity),
		nodeID:   opts.NodeID,
		remote:   opts.Remote,
		metrics:  opts.Metrics,
	}
}

// RegisterHandler binds a handler to a message type, replacing any previous
// binding.
func (r *Router) RegisterHandler(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// UnregisterHandler removes the binding for a message type.
func (r *Router) UnregisterHandler(typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, typ)
}

// Handle dispatches one inbound message:
//
//   - already-dispatched id: no-op (OutcomeDuplicate, nil error)
//   - registered handler for the type: synchronous invocation, id recorded
//     before the handler runs so concurrent duplicates are dropped
//   - recipient set and foreign: remote hook, id recorded only on success
//   - otherwise: undeliverable, not recorded
func (r *Router) Handle(ctx context.Context, m *message.Message) (Outcome, error) {
	if m == nil || m.ID == "" {
		return OutcomeUndeliverable, fmt.Errorf("router: message without id")
	}

	r.mu.Lock()
	if r.seen.Contains(m.ID) {
		r.mu.Unlock()
		r.metrics.ObserveDispatch(string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}
	h, hasHandler := r.handlers[m.Type]
	if hasHandler {
		// Mark before invoking: handler errors are the handler's problem,
		// not grounds for redelivery.
		r.seen.Add(m.ID)
	}
	r.mu.Unlock()

	if hasHandler {
		if err := invoke(h, m); err != nil {
			zap.L().Error("handler failed",
				zap.String("msg_id", m.ID),
				zap.String("type", m.Type),
				zap.Error(err))
			r.metrics.ObserveDispatch(string(OutcomeHandlerError))
			return OutcomeHandlerError, nil
		}
		r.metrics.ObserveDispatch(string(OutcomeHandled))
		return OutcomeHandled, nil
	}

	if m.Recipient != "" && m.Recipient != r.nodeID && r.remote != nil {
		if err := r.remote(ctx, m); err != nil {
			// Not recorded; the caller may retry.
			return OutcomeUndeliverable, fmt.Errorf("router: remote delivery of %s: %w", m.ID, err)
		}
		r.mu.Lock()
		r.seen.Add(m.ID)
		r.mu.Unlock()
		r.metrics.ObserveDispatch(string(OutcomeForwarded))
		return OutcomeForwarded, nil
	}

	zap.L().Warn("undeliverable message",
		zap.String("msg_id", m.ID),
		zap.String("type", m.Type),
		zap.String("recipient", m.Recipient))
	r.metrics.ObserveDispatch(string(OutcomeUndeliverable))
	return OutcomeUndeliverable, fmt.Errorf("%w: id=%s type=%s", ErrUndeliverable, m.ID, m.Type)
}

// invoke runs a handler with panics contained at the dispatch boundary.
func invoke(h Handler, m *message.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(m)
}

package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Emit after the bus has been closed.
var ErrClosed = errors.New("bus: closed")

// Local is an in-process [Bus]. Emit delivers the message synchronously to
// every subscriber on the calling goroutine, in subscription order.
//
// Local is safe for concurrent use.
type Local struct {
	typed *handlers
	all   *handlers

	done      chan struct{}
	closeOnce sync.Once
}

// Compile-time interface assertion.
var _ Bus = (*Local)(nil)

// wildcard is the internal key under which OnAll subscribers are stored.
const wildcard = "*"

// NewLocal returns an empty in-process bus.
func NewLocal() *Local {
	return &Local{
		typed: newHandlers(),
		all:   newHandlers(),
		done:  make(chan struct{}),
	}
}

// On implements [Bus].
func (l *Local) On(msgType string, h Handler) func() {
	return l.typed.add(msgType, h)
}

// OnAll subscribes h to every message regardless of type. All-message
// subscribers run after the typed ones.
func (l *Local) OnAll(h Handler) func() {
	return l.all.add(wildcard, h)
}

// Emit implements [Bus]. It returns ctx.Err() if ctx is already done and
// [ErrClosed] after [Local.Close].
func (l *Local) Emit(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if msg.Data == nil {
		msg.Data = map[string]any{}
	}
	if msg.Context == nil {
		msg.Context = map[string]any{}
	}
	l.typed.dispatch(msg.Type, msg)
	l.all.dispatch(wildcard, msg)
	return nil
}

// Close stops delivery. Subsequent Emit calls return [ErrClosed].
func (l *Local) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

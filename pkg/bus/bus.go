package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler processes a single bus message.
type Handler func(Message)

// Bus is the publish/subscribe surface a skill needs from the host.
//
// Implementations must be safe for concurrent use.
type Bus interface {
	// On subscribes h to every message of msgType. The returned function
	// removes the subscription; calling it more than once is a no-op.
	On(msgType string, h Handler) (unsubscribe func())

	// Emit publishes msg. Local subscribers are invoked for messages that the
	// transport delivers back, which for every implementation in this package
	// includes the emitter's own messages.
	Emit(ctx context.Context, msg Message) error
}

// subscription is one registered handler.
type subscription struct {
	id uint64
	h  Handler
}

// handlers is the subscriber table shared by the Bus implementations.
type handlers struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

func newHandlers() *handlers {
	return &handlers{subs: make(map[string][]subscription)}
}

func (hs *handlers) add(msgType string, h Handler) func() {
	hs.mu.Lock()
	hs.nextID++
	id := hs.nextID
	hs.subs[msgType] = append(hs.subs[msgType], subscription{id: id, h: h})
	hs.mu.Unlock()

	var removeOnce sync.Once
	return func() {
		removeOnce.Do(func() { hs.remove(msgType, id) })
	}
}

func (hs *handlers) remove(msgType string, id uint64) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	subs := hs.subs[msgType]
	for i, s := range subs {
		if s.id == id {
			hs.subs[msgType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(hs.subs[msgType]) == 0 {
		delete(hs.subs, msgType)
	}
}

// dispatch invokes every handler subscribed under key with msg, in
// subscription order. Handlers run outside the lock, so they may subscribe,
// unsubscribe or emit.
func (hs *handlers) dispatch(key string, msg Message) {
	hs.mu.Lock()
	subs := hs.subs[key]
	run := make([]Handler, len(subs))
	for i, s := range subs {
		run[i] = s.h
	}
	hs.mu.Unlock()

	for _, h := range run {
		invoke(h, msg)
	}
}

// invoke runs h and converts a panic into a log line so that one faulty
// handler cannot take down the bus reader.
func invoke(h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: handler panicked", "type", msg.Type, "panic", r)
		}
	}()
	h(msg)
}

package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

type MessageBus struct {
	inbound chan Event
	closed  bool
	mu      sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound: make(chan Event, defaultBufferSize),
	}
}

// PublishInbound queues evt for the agent. It returns false when the bus is
// closed or ctx is cancelled before there is room in the buffer.
func (mb *MessageBus) PublishInbound(ctx context.Context, evt Event) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	select {
	case mb.inbound <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// ConsumeInbound returns the next inbound event and whether the read succeeded.
// The bool is false when the context is cancelled or the bus is closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (Event, bool) {
	select {
	case evt, ok := <-mb.inbound:
		return evt, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close stops accepting events. Events already queued can still be consumed.
// Publishers blocked on a full buffer keep Close waiting until their context
// ends, so publish with a cancellable context.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
}

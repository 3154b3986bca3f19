package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBus_PublishConsume(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()

	require.True(t, mb.PublishInbound(ctx, Event{Kind: EventInvite, RoomID: "!a:x"}))
	require.True(t, mb.PublishInbound(ctx, Event{Kind: EventMessage, RoomID: "!a:x", Body: "hi"}))

	first, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, EventInvite, first.Kind)

	second, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "hi", second.Body)
}

func TestMessageBus_ConsumeCancelled(t *testing.T) {
	mb := NewMessageBus()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := mb.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestMessageBus_Close(t *testing.T) {
	mb := NewMessageBus()
	ctx := context.Background()

	require.True(t, mb.PublishInbound(ctx, Event{Kind: EventMessage, RoomID: "!a:x"}))
	mb.Close()
	mb.Close()

	assert.False(t, mb.PublishInbound(ctx, Event{Kind: EventMessage}))

	_, ok := mb.ConsumeInbound(ctx)
	assert.True(t, ok, "queued event survives close")
	_, ok = mb.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestMessageBus_PublishFullBufferHonoursContext(t *testing.T) {
	mb := NewMessageBus()
	for i := 0; i < defaultBufferSize; i++ {
		require.True(t, mb.PublishInbound(context.Background(), Event{Kind: EventMessage}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, mb.PublishInbound(ctx, Event{Kind: EventMessage}))
}

func TestEvent_IsText(t *testing.T) {
	assert.True(t, Event{Kind: EventMessage, MsgType: MsgTypeText}.IsText())
	assert.False(t, Event{Kind: EventMessage, MsgType: "m.image"}.IsText())
	assert.False(t, Event{Kind: EventInvite, MsgType: MsgTypeText}.IsText())
	assert.Equal(t, "invite", EventInvite.String())
	assert.Equal(t, "unknown", EventKind(42).String())
}

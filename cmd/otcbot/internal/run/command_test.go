package run

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentelekomcloud/otcbot/pkg/bus"
	"github.com/opentelekomcloud/otcbot/pkg/invite"
	"github.com/opentelekomcloud/otcbot/pkg/router"
)

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("debug"))
	assert.False(t, cmd.HasSubCommands())
}

type fakeMembership struct {
	mu    sync.Mutex
	joins []string
}

func (f *fakeMembership) JoinRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, roomID)
	return nil
}

func (f *fakeMembership) LeaveRoom(context.Context, string) error { return nil }

type nopSink struct{}

func (nopSink) SendText(context.Context, string, string) error     { return nil }
func (nopSink) SendMarkdown(context.Context, string, string) error { return nil }
func (nopSink) SetTyping(context.Context, string, bool) error       { return nil }
func (nopSink) MarkRead(context.Context, string, string) error     { return nil }

type nopImporter struct{}

func (nopImporter) Execute(context.Context, string, string, string) error { return nil }

func TestNewHandlers_InviteJoins(t *testing.T) {
	m := &fakeMembership{}
	joiner := invite.NewJoiner("@otcbot:example.org", m, invite.Options{})
	handlers := NewHandlers(true, joiner, router.New(nopSink{}, nopImporter{}, router.Options{}))

	require.Contains(t, handlers, bus.EventInvite)
	require.Contains(t, handlers, bus.EventMessage)

	err := handlers[bus.EventInvite](context.Background(), bus.Event{
		Kind:   bus.EventInvite,
		RoomID: "!a:example.org",
		Target: "@otcbot:example.org",
	})
	require.NoError(t, err)
	joiner.Wait()

	assert.Equal(t, []string{"!a:example.org"}, m.joins)
}

func TestNewHandlers_InviteIgnoredWhenDisabled(t *testing.T) {
	m := &fakeMembership{}
	joiner := invite.NewJoiner("@otcbot:example.org", m, invite.Options{})
	handlers := NewHandlers(false, joiner, router.New(nopSink{}, nopImporter{}, router.Options{}))

	require.NoError(t, handlers[bus.EventInvite](context.Background(), bus.Event{
		Kind:   bus.EventInvite,
		RoomID: "!a:example.org",
		Target: "@otcbot:example.org",
	}))
	joiner.Wait()

	assert.Empty(t, m.joins)
}

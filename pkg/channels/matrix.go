// Package channels connects the bot to its chat transport.
package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/opentelekomcloud/otcbot/pkg/bus"
	"github.com/opentelekomcloud/otcbot/pkg/config"
	"github.com/opentelekomcloud/otcbot/pkg/logger"
)

// typingTimeout bounds how long a typing notice survives if it is never
// cleared, e.g. after a crash during a long import.
const typingTimeout = 10 * time.Minute

type MatrixChannel struct {
	client       *mautrix.Client
	matrixConfig config.MatrixConfig
	bus          *bus.MessageBus
	syncer       *mautrix.DefaultSyncer
	startTime    time.Time // events before this timestamp are ignored (initial sync flood guard)
	sendLimiter  *rate.Limiter
	running      atomic.Bool
}

func NewMatrixChannel(matrixCfg config.MatrixConfig, msgBus *bus.MessageBus) (*MatrixChannel, error) {
	var userID id.UserID
	if strings.HasPrefix(matrixCfg.Username, "@") {
		userID = id.UserID(matrixCfg.Username)
	}

	client, err := mautrix.NewClient(matrixCfg.Homeserver, userID, matrixCfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = logger.Zerolog("mautrix")

	if matrixCfg.DeviceID != "" {
		client.DeviceID = id.DeviceID(matrixCfg.DeviceID)
	}

	limit := rate.Inf
	burst := 1
	if matrixCfg.SendPerSecond > 0 {
		limit = rate.Limit(matrixCfg.SendPerSecond)
		burst = max(1, int(matrixCfg.SendPerSecond))
	}

	return &MatrixChannel{
		client:       client,
		matrixConfig: matrixCfg,
		bus:          msgBus,
		syncer:       client.Syncer.(*mautrix.DefaultSyncer),
		startTime:    time.Now(),
		sendLimiter:  rate.NewLimiter(limit, burst),
	}, nil
}

// SetSyncStore makes the client resume from the persisted sync token.
func (c *MatrixChannel) SetSyncStore(store mautrix.SyncStore) {
	c.client.Store = store
}

// UserID is the bot's own Matrix ID. It is known after Login.
func (c *MatrixChannel) UserID() string {
	return c.client.UserID.String()
}

// Login authenticates with the configured password, or validates the
// configured access token.
func (c *MatrixChannel) Login(ctx context.Context) error {
	if c.matrixConfig.AccessToken != "" {
		resp, err := c.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("matrix whoami: %w", err)
		}
		c.client.UserID = resp.UserID
		if c.client.DeviceID == "" {
			c.client.DeviceID = resp.DeviceID
		}
		logger.InfoCF("matrix", "Using access token", map[string]any{
			"user_id":   resp.UserID.String(),
			"device_id": c.client.DeviceID.String(),
		})
		return nil
	}

	resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: c.matrixConfig.Username,
		},
		Password:                 c.matrixConfig.Password,
		DeviceID:                 id.DeviceID(c.matrixConfig.DeviceID),
		InitialDeviceDisplayName: c.matrixConfig.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	logger.InfoCF("matrix", "Logged in", map[string]any{
		"user_id":   resp.UserID.String(),
		"device_id": resp.DeviceID.String(),
	})
	return nil
}

// Run syncs until ctx is cancelled. Room history of the first sync is
// skipped so the bot does not answer it; invites pending at startup are kept.
func (c *MatrixChannel) Run(ctx context.Context) error {
	logger.InfoC("matrix", "Starting Matrix sync")

	c.syncer.OnSync(c.skipHistory)
	c.syncer.OnEventType(event.EventMessage, c.handleMessage)
	c.syncer.OnEventType(event.StateMember, c.handleMemberEvent)

	c.running.Store(true)
	defer c.running.Store(false)

	err := c.client.SyncWithContext(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("matrix sync: %w", err)
	}

	logger.InfoC("matrix", "Matrix sync stopped")
	return nil
}

func (c *MatrixChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *MatrixChannel) skipHistory(ctx context.Context, resp *mautrix.RespSync, since string) bool {
	if since == "" {
		logger.DebugCF("matrix", "Skipping initial room history", map[string]any{
			"joined":  len(resp.Rooms.Join),
			"left":    len(resp.Rooms.Leave),
			"invited": len(resp.Rooms.Invite),
		})
		resp.Rooms.Join = nil
		resp.Rooms.Leave = nil
		return true
	}
	return c.client.DontProcessOldEvents(ctx, resp, since)
}

func (c *MatrixChannel) handleMemberEvent(ctx context.Context, evt *event.Event) {
	memberEvt := evt.Content.AsMember()
	if memberEvt.Membership != event.MembershipInvite {
		return
	}
	// Stripped invite state carries no timestamp.
	if evt.Timestamp != 0 && c.isHistorical(evt) {
		return
	}

	logger.DebugCF("matrix", "Received invite", map[string]any{
		"room_id": evt.RoomID.String(),
		"target":  evt.GetStateKey(),
		"sender":  evt.Sender.String(),
	})

	c.publish(ctx, bus.Event{
		Kind:      bus.EventInvite,
		RoomID:    evt.RoomID.String(),
		Target:    evt.GetStateKey(),
		Sender:    evt.Sender.String(),
		EventID:   evt.ID.String(),
		Timestamp: eventTime(evt),
	})
}

func (c *MatrixChannel) handleMessage(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == c.client.UserID {
		return
	}
	// Rooms the bot has left are still delivered in the leave section.
	if evt.Mautrix.EventSource&event.SourceLeave != 0 {
		return
	}
	if c.isHistorical(evt) {
		return
	}

	msgEvt := evt.Content.AsMessage()

	// Ignore edit events (m.replace relations)
	if msgEvt.RelatesTo != nil && msgEvt.RelatesTo.Type == event.RelReplace {
		return
	}

	logger.DebugCF("matrix", "Received message", map[string]any{
		"room_id": evt.RoomID.String(),
		"sender":  evt.Sender.String(),
		"type":    string(msgEvt.MsgType),
	})

	c.publish(ctx, bus.Event{
		Kind:      bus.EventMessage,
		RoomID:    evt.RoomID.String(),
		Sender:    evt.Sender.String(),
		EventID:   evt.ID.String(),
		MsgType:   string(msgEvt.MsgType),
		Body:      msgEvt.Body,
		Timestamp: eventTime(evt),
	})
}

// isHistorical reports whether evt predates this process (flood guard).
// Matrix timestamps are in milliseconds.
func (c *MatrixChannel) isHistorical(evt *event.Event) bool {
	if !time.UnixMilli(evt.Timestamp).Before(c.startTime) {
		return false
	}
	logger.DebugCF("matrix", "Ignoring historical event", map[string]any{
		"event_id": evt.ID.String(),
		"event_ts": evt.Timestamp,
		"start_ts": c.startTime.UnixMilli(),
	})
	return true
}

func (c *MatrixChannel) publish(ctx context.Context, evt bus.Event) {
	if !c.bus.PublishInbound(ctx, evt) {
		logger.WarnCF("matrix", "Dropped inbound event", map[string]any{
			"kind":    evt.Kind.String(),
			"room_id": evt.RoomID,
		})
	}
}

func eventTime(evt *event.Event) time.Time {
	if evt.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(evt.Timestamp)
}

// ─── Room actions ─────────────────────────────────────────────────────────────

func (c *MatrixChannel) SendText(ctx context.Context, roomID, text string) error {
	return c.send(ctx, roomID, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	})
}

// SendMarkdown renders markdown to Matrix HTML. Raw HTML in the input is
// escaped.
func (c *MatrixChannel) SendMarkdown(ctx context.Context, roomID, markdown string) error {
	content := format.RenderMarkdown(markdown, true, false)
	return c.send(ctx, roomID, &content)
}

func (c *MatrixChannel) send(ctx context.Context, roomID string, content *event.MessageEventContent) error {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("failed to send matrix message: %w", err)
	}
	logger.DebugCF("matrix", "Sent message to room", map[string]any{
		"room_id": roomID,
	})
	return nil
}

func (c *MatrixChannel) SetTyping(ctx context.Context, roomID string, typing bool) error {
	timeout := time.Duration(0)
	if typing {
		timeout = typingTimeout
	}
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("typing notice: %w", err)
	}
	return nil
}

// MarkRead sends a read receipt. Repeating it for the same event is
// harmless.
func (c *MatrixChannel) MarkRead(ctx context.Context, roomID, eventID string) error {
	if eventID == "" {
		return errors.New("mark read: empty event id")
	}
	if err := c.client.MarkRead(ctx, id.RoomID(roomID), id.EventID(eventID)); err != nil {
		return fmt.Errorf("read receipt: %w", err)
	}
	return nil
}

func (c *MatrixChannel) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.client.JoinRoomByID(ctx, id.RoomID(roomID))
	return err
}

func (c *MatrixChannel) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := c.client.LeaveRoom(ctx, id.RoomID(roomID))
	return err
}

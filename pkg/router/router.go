// Package router turns inbound room messages into bot commands and runs
// them.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentelekomcloud/otcbot/pkg/bus"
	"github.com/opentelekomcloud/otcbot/pkg/commands"
	"github.com/opentelekomcloud/otcbot/pkg/logger"
	"github.com/opentelekomcloud/otcbot/pkg/metrics"
	"github.com/opentelekomcloud/otcbot/pkg/ratelimit"
	"github.com/opentelekomcloud/otcbot/pkg/registry"
)

const (
	PartyText    = "🎉🎊🥳 let's PARTY!! 🥳🎊🎉"
	SlowDownText = "You are sending commands too quickly, please slow down."
)

// Sink is everything the bot can do in a room. Implementations must be
// safe for concurrent use; MarkRead must be idempotent.
type Sink interface {
	registry.Notifier
	MarkRead(ctx context.Context, roomID, eventID string) error
}

// Importer runs `registry import`.
type Importer interface {
	Execute(ctx context.Context, roomID, imageKey, tag string) error
}

type Options struct {
	// AllowFrom restricts who may issue commands. Empty allows everyone.
	AllowFrom []string
	Limiter   *ratelimit.Limiter
	Metrics   *metrics.Metrics
}

type Router struct {
	sink     Sink
	importer Importer
	allow    map[string]struct{}
	opts     Options
}

func New(sink Sink, importer Importer, opts Options) *Router {
	allow := make(map[string]struct{}, len(opts.AllowFrom))
	for _, id := range opts.AllowFrom {
		allow[id] = struct{}{}
	}
	return &Router{
		sink:     sink,
		importer: importer,
		allow:    allow,
		opts:     opts,
	}
}

// IsAllowed reports whether sender may issue commands.
func (r *Router) IsAllowed(sender string) bool {
	if len(r.allow) == 0 {
		return true
	}
	_, ok := r.allow[sender]
	return ok
}

// HandleMessage processes one inbound message. Non-text messages are
// ignored. Bodies starting with the command prefix are parsed and run.
// Every non-empty text message is marked read, recognised or not.
func (r *Router) HandleMessage(ctx context.Context, evt bus.Event) error {
	if !evt.IsText() {
		return nil
	}

	var cmdErr error
	if commands.HasPrefix(evt.Body) {
		cmdErr = r.handleCommand(ctx, evt)
	}

	if evt.Body == "" {
		return cmdErr
	}
	if err := r.sink.MarkRead(ctx, evt.RoomID, evt.EventID); err != nil {
		return errors.Join(cmdErr, fmt.Errorf("mark read: %w", err))
	}
	return cmdErr
}

func (r *Router) handleCommand(ctx context.Context, evt bus.Event) error {
	if !r.IsAllowed(evt.Sender) {
		logger.WarnCF("router", "Ignoring command from unauthorized user", map[string]any{
			"sender":  evt.Sender,
			"room_id": evt.RoomID,
		})
		return nil
	}

	cmd, err := commands.Parse(commands.Tokenize(evt.Body))
	if errors.Is(err, commands.ErrNotCommand) {
		return nil
	}

	if !r.opts.Limiter.Allow(evt.Sender) {
		logger.WarnCF("router", "Command rate limited", map[string]any{
			"sender":  evt.Sender,
			"room_id": evt.RoomID,
		})
		return r.sink.SendText(ctx, evt.RoomID, SlowDownText)
	}

	var help *commands.HelpError
	if errors.As(err, &help) {
		r.opts.Metrics.Command("help")
		logger.DebugCF("router", "Sending help", map[string]any{
			"room_id":  evt.RoomID,
			"explicit": help.Explicit,
			"reason":   help.Error(),
		})
		return r.sink.SendText(ctx, evt.RoomID, help.Text)
	}
	if err != nil {
		return err
	}

	r.opts.Metrics.Command(string(cmd.Kind()))
	logger.InfoCF("router", "Handling command", map[string]any{
		"command": string(cmd.Kind()),
		"sender":  evt.Sender,
		"room_id": evt.RoomID,
	})

	if err := cmd.Dispatch(ctx, &roomHandler{r: r, evt: evt}); err != nil {
		return fmt.Errorf("%s: %w", cmd.Kind(), err)
	}
	return nil
}

// roomHandler runs commands in the context of the message that carried
// them.
type roomHandler struct {
	r   *Router
	evt bus.Event
}

func (h *roomHandler) HandleGreet(ctx context.Context, _ commands.Greet) error {
	return h.r.sink.SendText(ctx, h.evt.RoomID, "Hey "+h.evt.Sender)
}

func (h *roomHandler) HandleParty(ctx context.Context, _ commands.Party) error {
	return h.r.sink.SendText(ctx, h.evt.RoomID, PartyText)
}

func (h *roomHandler) HandleRegistryImport(ctx context.Context, cmd commands.RegistryImport) error {
	return h.r.importer.Execute(ctx, h.evt.RoomID, cmd.Image, cmd.Tag)
}

// Package agent drains the message bus and hands each event to the handler
// registered for its kind. Events of one room are handled in arrival order;
// different rooms proceed independently.
package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentelekomcloud/otcbot/pkg/bus"
	"github.com/opentelekomcloud/otcbot/pkg/logger"
	"github.com/opentelekomcloud/otcbot/pkg/metrics"
)

const (
	defaultQueueSize   = 64
	defaultIdleTimeout = 5 * time.Minute
)

// HandlerFunc processes one event. Errors are logged and never stop the
// loop.
type HandlerFunc func(ctx context.Context, evt bus.Event) error

// Handlers is the dispatch table, keyed by event kind.
type Handlers map[bus.EventKind]HandlerFunc

type Options struct {
	// QueueSize bounds the backlog of a single room. Events arriving for a
	// room with a full backlog are dropped.
	QueueSize int
	// IdleTimeout stops a room worker that has had nothing to do.
	IdleTimeout time.Duration
	Metrics     *metrics.Metrics
}

type AgentLoop struct {
	bus      *bus.MessageBus
	handlers Handlers
	opts     Options
	running  atomic.Bool

	mu      sync.Mutex
	workers map[string]chan bus.Event
	wg      sync.WaitGroup
}

func NewAgentLoop(msgBus *bus.MessageBus, handlers Handlers, opts Options) *AgentLoop {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	return &AgentLoop{
		bus:      msgBus,
		handlers: handlers,
		opts:     opts,
		workers:  make(map[string]chan bus.Event),
	}
}

// Run consumes the bus until ctx is cancelled or the bus is closed, then
// lets every room worker finish its queue.
func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)
	defer al.running.Store(false)

	for {
		evt, ok := al.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		al.dispatch(ctx, evt)
	}

	al.mu.Lock()
	for room, queue := range al.workers {
		close(queue)
		delete(al.workers, room)
	}
	al.mu.Unlock()
	al.wg.Wait()

	logger.InfoC("agent", "Agent loop stopped")
	return nil
}

func (al *AgentLoop) IsRunning() bool {
	return al.running.Load()
}

func (al *AgentLoop) dispatch(ctx context.Context, evt bus.Event) {
	al.opts.Metrics.Event(evt.Kind.String())

	if _, ok := al.handlers[evt.Kind]; !ok {
		logger.WarnCF("agent", "No handler for event kind", map[string]any{
			"kind":    evt.Kind.String(),
			"room_id": evt.RoomID,
		})
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	queue, ok := al.workers[evt.RoomID]
	if !ok {
		queue = make(chan bus.Event, al.opts.QueueSize)
		al.workers[evt.RoomID] = queue
		al.wg.Add(1)
		go al.work(ctx, evt.RoomID, queue)
	}

	// Never wait on a busy room: intake is shared by all rooms.
	select {
	case queue <- evt:
	default:
		al.opts.Metrics.DroppedEvent(evt.Kind.String())
		logger.WarnCF("agent", "Room backlog full, dropping event", map[string]any{
			"kind":     evt.Kind.String(),
			"room_id":  evt.RoomID,
			"event_id": evt.EventID,
			"backlog":  len(queue),
		})
	}
}

// work handles the events of one room in order. It exits when its queue is
// closed or after IdleTimeout without events.
func (al *AgentLoop) work(ctx context.Context, roomID string, queue chan bus.Event) {
	defer al.wg.Done()

	idle := time.NewTimer(al.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case evt, ok := <-queue:
			if !ok {
				return
			}
			al.handle(ctx, evt)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(al.opts.IdleTimeout)

		case <-idle.C:
			al.mu.Lock()
			if len(queue) > 0 {
				al.mu.Unlock()
				idle.Reset(al.opts.IdleTimeout)
				continue
			}
			if al.workers[roomID] == queue {
				delete(al.workers, roomID)
			}
			al.mu.Unlock()
			return
		}
	}
}

func (al *AgentLoop) handle(ctx context.Context, evt bus.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("agent", "Handler panicked", map[string]any{
				"kind":    evt.Kind.String(),
				"room_id": evt.RoomID,
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			})
		}
	}()

	if err := al.handlers[evt.Kind](ctx, evt); err != nil {
		logger.ErrorCF("agent", "Failed to handle event", map[string]any{
			"kind":     evt.Kind.String(),
			"room_id":  evt.RoomID,
			"event_id": evt.EventID,
			"error":    err.Error(),
		})
	}
}

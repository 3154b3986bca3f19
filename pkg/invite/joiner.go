// Package invite accepts room invitations for the bot's own identity,
// retrying failed joins with exponential backoff.
package invite

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentelekomcloud/otcbot/pkg/logger"
	"github.com/opentelekomcloud/otcbot/pkg/metrics"
)

const (
	DefaultInitialDelay = 2 * time.Second
	DefaultMultiplier   = 2
	DefaultCeiling      = 3600 * time.Second
)

// State is the phase of one room's join sequence.
type State int

const (
	StateJoining State = iota
	StatePending
	StateJoined
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StatePending:
		return "pending"
	case StateJoined:
		return "joined"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempt follows s.
func (s State) Terminal() bool {
	return s == StateJoined || s == StateAbandoned
}

// Membership is the part of the transport the joiner needs.
type Membership interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Attempt is the retry state of one pending invitation.
type Attempt struct {
	RoomID string
	State  State
	// Delay is the wait that follows a failed attempt. While Pending it is
	// the wait in progress.
	Delay time.Duration
	// Next is the Delay of the attempt after the pending one. Zero unless
	// Pending.
	Next     time.Duration
	Attempts int
	LastErr  error
}

// Policy configures the backoff sequence.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   int
	Ceiling      time.Duration
}

// DefaultPolicy starts at 2s, doubles, and gives up past one hour.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		Ceiling:      DefaultCeiling,
	}
}

type Options struct {
	Policy Policy
	// LeaveOnAbandon rejects the invite once the sequence is abandoned.
	LeaveOnAbandon bool
	Sleep          SleepFunc
	Metrics        *metrics.Metrics
	// OnTransition, when set, observes every state change. Called from the
	// attempt's goroutine.
	OnTransition func(Attempt)
}

// Joiner runs one independent join sequence per invited room. Attempts live
// in a map keyed by room ID: added when the invitation is seen, removed when
// the room is joined or the sequence is abandoned.
type Joiner struct {
	self       string
	membership Membership
	opts       Options

	mu       sync.Mutex
	attempts map[string]*Attempt
	wg       sync.WaitGroup
}

func NewJoiner(self string, membership Membership, opts Options) *Joiner {
	if opts.Policy.InitialDelay <= 0 {
		opts.Policy.InitialDelay = DefaultInitialDelay
	}
	if opts.Policy.Multiplier < 1 {
		opts.Policy.Multiplier = DefaultMultiplier
	}
	if opts.Policy.Ceiling <= 0 {
		opts.Policy.Ceiling = DefaultCeiling
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithCtx
	}
	return &Joiner{
		self:       self,
		membership: membership,
		opts:       opts,
		attempts:   make(map[string]*Attempt),
	}
}

// HandleInvite starts a join sequence for roomID when target is the bot's
// own identity. It returns immediately; the sequence runs on its own
// goroutine. Invites for other users and repeated invites for a room that
// already has a running sequence are ignored. The result reports whether a
// sequence was started.
func (j *Joiner) HandleInvite(ctx context.Context, roomID, target string) bool {
	if target != j.self {
		return false
	}

	j.mu.Lock()
	if _, running := j.attempts[roomID]; running {
		j.mu.Unlock()
		logger.DebugCF("invite", "Join already in progress", map[string]any{
			"room_id": roomID,
		})
		return false
	}
	a := &Attempt{RoomID: roomID, State: StateJoining, Delay: j.opts.Policy.InitialDelay}
	j.attempts[roomID] = a
	j.mu.Unlock()

	logger.InfoCF("invite", "Autojoining room", map[string]any{
		"room_id": roomID,
	})

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx, roomID)
	}()
	return true
}

// run drives one room through Joining -> (Pending -> Joining)* -> terminal.
func (j *Joiner) run(ctx context.Context, roomID string) {
	defer j.remove(roomID)

	for {
		cur := j.update(roomID, func(a *Attempt) {
			a.State = StateJoining
			a.Attempts++
			if a.Next > 0 {
				a.Delay, a.Next = a.Next, 0
			}
		})

		err := j.membership.JoinRoom(ctx, roomID)
		if err == nil {
			j.opts.Metrics.JoinAttempt("joined")
			j.update(roomID, func(a *Attempt) {
				a.State = StateJoined
				a.LastErr = nil
			})
			logger.InfoCF("invite", "Successfully joined room", map[string]any{
				"room_id":  roomID,
				"attempts": cur.Attempts,
			})
			return
		}

		if ctx.Err() != nil {
			j.opts.Metrics.JoinAttempt("cancelled")
			logger.InfoCF("invite", "Join cancelled", map[string]any{
				"room_id": roomID,
			})
			return
		}

		delay := cur.Delay
		next := delay * time.Duration(j.opts.Policy.Multiplier)
		if next > j.opts.Policy.Ceiling {
			j.opts.Metrics.JoinAttempt("abandoned")
			j.update(roomID, func(a *Attempt) {
				a.State = StateAbandoned
				a.LastErr = err
			})
			logger.ErrorCF("invite", "Can't join room, giving up", map[string]any{
				"room_id":  roomID,
				"attempts": cur.Attempts,
				"error":    err.Error(),
			})
			j.reject(ctx, roomID)
			return
		}

		j.opts.Metrics.JoinAttempt("failed")
		j.update(roomID, func(a *Attempt) {
			a.State = StatePending
			a.Next = next
			a.LastErr = err
		})
		logger.WarnCF("invite", "Failed to join room, retrying", map[string]any{
			"room_id":  roomID,
			"attempt":  cur.Attempts,
			"error":    err.Error(),
			"retry_in": delay.String(),
		})

		if err := j.opts.Sleep(ctx, delay); err != nil {
			j.opts.Metrics.JoinAttempt("cancelled")
			logger.InfoCF("invite", "Join backoff cancelled", map[string]any{
				"room_id": roomID,
			})
			return
		}
	}
}

func (j *Joiner) reject(ctx context.Context, roomID string) {
	if !j.opts.LeaveOnAbandon {
		return
	}
	if err := j.membership.LeaveRoom(ctx, roomID); err != nil {
		logger.WarnCF("invite", "Failed to reject invite", map[string]any{
			"room_id": roomID,
			"error":   err.Error(),
		})
		return
	}
	logger.InfoCF("invite", "Rejected invite after giving up", map[string]any{
		"room_id": roomID,
	})
}

// update mutates the room's attempt under the lock and returns a copy of
// the result.
func (j *Joiner) update(roomID string, fn func(*Attempt)) Attempt {
	j.mu.Lock()
	a := j.attempts[roomID]
	fn(a)
	snapshot := *a
	j.mu.Unlock()

	if j.opts.OnTransition != nil {
		j.opts.OnTransition(snapshot)
	}
	return snapshot
}

func (j *Joiner) remove(roomID string) {
	j.mu.Lock()
	delete(j.attempts, roomID)
	j.mu.Unlock()
}

// Snapshot returns a copy of the live attempt for roomID.
func (j *Joiner) Snapshot(roomID string) (Attempt, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	a, ok := j.attempts[roomID]
	if !ok {
		return Attempt{}, false
	}
	return *a, true
}

// Pending returns the rooms with a live join sequence.
func (j *Joiner) Pending() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	rooms := make([]string, 0, len(j.attempts))
	for room := range j.attempts {
		rooms = append(rooms, room)
	}
	return rooms
}

// Wait blocks until every running sequence has finished.
func (j *Joiner) Wait() {
	j.wg.Wait()
}

var errSleepCancelled = errors.New("backoff wait cancelled")

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Join(errSleepCancelled, ctx.Err())
	}
}

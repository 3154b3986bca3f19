package invite

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentelekomcloud/otcbot/pkg/metrics"
)

const botID = "@otcbot:example.org"

var errJoin = errors.New("M_FORBIDDEN")

type fakeMembership struct {
	mu       sync.Mutex
	failures map[string]int // remaining failures per room, -1 fails forever
	joins    map[string]int
	leaves   []string
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{
		failures: make(map[string]int),
		joins:    make(map[string]int),
	}
}

func (f *fakeMembership) JoinRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[roomID]++
	switch n := f.failures[roomID]; {
	case n < 0:
		return errJoin
	case n > 0:
		f.failures[roomID] = n - 1
		return errJoin
	}
	return nil
}

func (f *fakeMembership) LeaveRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, roomID)
	return nil
}

func (f *fakeMembership) joinCount(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins[roomID]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *sleepRecorder) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestJoiner_JoinsOnFirstAttempt(t *testing.T) {
	m := newFakeMembership()
	rec := &sleepRecorder{}
	j := NewJoiner(botID, m, Options{Sleep: rec.sleep})

	assert.True(t, j.HandleInvite(context.Background(), "!a:example.org", botID))
	j.Wait()

	assert.Equal(t, 1, m.joinCount("!a:example.org"))
	assert.Empty(t, rec.all())
	assert.Empty(t, j.Pending())
}

func TestJoiner_IgnoresInvitesForOtherUsers(t *testing.T) {
	m := newFakeMembership()
	j := NewJoiner(botID, m, Options{Sleep: (&sleepRecorder{}).sleep})

	assert.False(t, j.HandleInvite(context.Background(), "!a:example.org", "@alice:example.org"))
	j.Wait()

	assert.Zero(t, m.joinCount("!a:example.org"))
	_, ok := j.Snapshot("!a:example.org")
	assert.False(t, ok)
}

func TestJoiner_RetriesWithDoublingDelay(t *testing.T) {
	m := newFakeMembership()
	m.failures["!a:example.org"] = 3
	rec := &sleepRecorder{}

	var (
		mu     sync.Mutex
		states []State
	)
	j := NewJoiner(botID, m, Options{
		Sleep: rec.sleep,
		OnTransition: func(a Attempt) {
			mu.Lock()
			states = append(states, a.State)
			mu.Unlock()
		},
	})

	j.HandleInvite(context.Background(), "!a:example.org", botID)
	j.Wait()

	assert.Equal(t, 4, m.joinCount("!a:example.org"))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, rec.all())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StateJoined, states[len(states)-1])
	assert.Contains(t, states, StatePending)
	assert.Empty(t, j.Pending())
}

func TestJoiner_PendingSnapshotCarriesNextDelay(t *testing.T) {
	m := newFakeMembership()
	m.failures["!a:example.org"] = 3

	var (
		mu      sync.Mutex
		pending [][2]time.Duration
	)
	j := NewJoiner(botID, m, Options{
		Sleep: (&sleepRecorder{}).sleep,
		OnTransition: func(a Attempt) {
			mu.Lock()
			defer mu.Unlock()
			if a.State == StatePending {
				pending = append(pending, [2]time.Duration{a.Delay, a.Next})
			} else {
				assert.Zero(t, a.Next, a.State.String())
			}
		},
	})

	j.HandleInvite(context.Background(), "!a:example.org", botID)
	j.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]time.Duration{
		{2 * time.Second, 4 * time.Second},
		{4 * time.Second, 8 * time.Second},
		{8 * time.Second, 16 * time.Second},
	}, pending)
}

func TestJoiner_AbandonsPastCeiling(t *testing.T) {
	m := newFakeMembership()
	m.failures["!a:example.org"] = -1
	rec := &sleepRecorder{}

	var last Attempt
	var mu sync.Mutex
	j := NewJoiner(botID, m, Options{
		Sleep: rec.sleep,
		OnTransition: func(a Attempt) {
			mu.Lock()
			last = a
			mu.Unlock()
		},
	})

	j.HandleInvite(context.Background(), "!a:example.org", botID)
	j.Wait()

	want := make([]time.Duration, 0, 10)
	for d := 2 * time.Second; d <= 1024*time.Second; d *= 2 {
		want = append(want, d)
	}
	assert.Equal(t, want, rec.all())
	assert.Equal(t, 11, m.joinCount("!a:example.org"))

	mu.Lock()
	assert.Equal(t, StateAbandoned, last.State)
	assert.ErrorIs(t, last.LastErr, errJoin)
	mu.Unlock()

	assert.Empty(t, j.Pending())
	assert.Empty(t, m.leaves)
}

func TestJoiner_LeaveOnAbandon(t *testing.T) {
	m := newFakeMembership()
	m.failures["!a:example.org"] = -1
	j := NewJoiner(botID, m, Options{
		Sleep:          (&sleepRecorder{}).sleep,
		LeaveOnAbandon: true,
		Policy:         Policy{InitialDelay: time.Second, Multiplier: 2, Ceiling: 4 * time.Second},
	})

	j.HandleInvite(context.Background(), "!a:example.org", botID)
	j.Wait()

	// 1s, 2s, then 8s would exceed the ceiling.
	assert.Equal(t, 3, m.joinCount("!a:example.org"))
	assert.Equal(t, []string{"!a:example.org"}, m.leaves)
}

func TestJoiner_DuplicateInviteIgnoredWhileRunning(t *testing.T) {
	m := newFakeMembership()
	m.failures["!a:example.org"] = 1

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	sleep := func(ctx context.Context, _ time.Duration) error {
		entered <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	j := NewJoiner(botID, m, Options{Sleep: sleep})
	ctx := context.Background()

	require.True(t, j.HandleInvite(ctx, "!a:example.org", botID))
	<-entered

	snap, ok := j.Snapshot("!a:example.org")
	require.True(t, ok)
	assert.Equal(t, StatePending, snap.State)
	assert.Equal(t, 1, snap.Attempts)
	assert.Equal(t, 2*time.Second, snap.Delay)
	assert.Equal(t, 4*time.Second, snap.Next)

	assert.False(t, j.HandleInvite(ctx, "!a:example.org", botID))

	close(release)
	j.Wait()
	assert.Equal(t, 2, m.joinCount("!a:example.org"))
}

func TestJoiner_RoomsAreIndependent(t *testing.T) {
	m := newFakeMembership()
	m.failures["!slow:example.org"] = 2
	j := NewJoiner(botID, m, Options{Sleep: (&sleepRecorder{}).sleep})
	ctx := context.Background()

	j.HandleInvite(ctx, "!slow:example.org", botID)
	j.HandleInvite(ctx, "!fast:example.org", botID)
	j.Wait()

	assert.Equal(t, 3, m.joinCount("!slow:example.org"))
	assert.Equal(t, 1, m.joinCount("!fast:example.org"))
	assert.Empty(t, j.Pending())
}

func TestJoiner_CancelDuringBackoff(t *testing.T) {
	m := newFakeMembership()
	m.failures["!a:example.org"] = -1

	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{}, 1)
	j := NewJoiner(botID, m, Options{
		Sleep: func(ctx context.Context, d time.Duration) error {
			entered <- struct{}{}
			return sleepWithCtx(ctx, d)
		},
	})

	j.HandleInvite(ctx, "!a:example.org", botID)
	<-entered
	cancel()
	j.Wait()

	assert.Equal(t, 1, m.joinCount("!a:example.org"))
	assert.Empty(t, j.Pending())
}

func TestJoiner_RecordsMetrics(t *testing.T) {
	m := newFakeMembership()
	m.failures["!a:example.org"] = 1
	reg := metrics.New()

	j := NewJoiner(botID, m, Options{Sleep: (&sleepRecorder{}).sleep, Metrics: reg})
	j.HandleInvite(context.Background(), "!a:example.org", botID)
	j.Wait()

	assert.Equal(t, 2, m.joinCount("!a:example.org"))

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `otcbot_join_attempts_total{result="failed"} 1`)
	assert.Contains(t, body, `otcbot_join_attempts_total{result="joined"} 1`)
}

func TestSleepWithCtx(t *testing.T) {
	assert.NoError(t, sleepWithCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepWithCtx(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "joining", StateJoining.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "joined", StateJoined.String())
	assert.Equal(t, "abandoned", StateAbandoned.String())
	assert.True(t, StateJoined.Terminal())
	assert.False(t, StatePending.Terminal())
}

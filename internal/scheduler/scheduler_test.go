package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/ccmaster/internal/hooks"
	"github.com/bazelment/ccmaster/internal/registry"
	"github.com/bazelment/ccmaster/internal/status"
)

// fakeInjector records every injected payload, optionally simulating an
// InjectorFailure for a configured number of calls.
type fakeInjector struct {
	mu       sync.Mutex
	calls    []string
	failNext int
}

func (f *fakeInjector) Inject(handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return assert.AnError
	}
	f.calls = append(f.calls, text)
	return nil
}

func (f *fakeInjector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newSession(reg *registry.Registry, id string, watch bool, maxTurns *int) {
	reg.Create(&registry.Session{
		ID:                 id,
		Status:             registry.Active,
		CurrentState:       registry.StateStarting,
		WatchMode:          watch,
		MaxTurns:           maxTurns,
		HasSeenFirstPrompt: false,
		CreatedAt:          time.Now(),
	})
}

func intPtr(v int) *int { return &v }

// TestAutoContinueBudget exercises scenario S1: with max_turns=2, the
// scheduler injects on the first two idle edges and skips (disabling
// watch) on the third.
func TestAutoContinueBudget(t *testing.T) {
	reg := registry.New("")
	newSession(reg, "A", true, intPtr(2))

	inj := &fakeInjector{}
	sched := New(reg, inj, "", nil)

	drive := func(state status.Event) {
		sched.handle(hooks.Event{SessionID: "A", Record: status.Record{State: state}})
	}

	drive(status.EventProcessing)
	drive(status.EventWorking)
	drive(status.EventIdle)
	assert.Equal(t, 1, inj.count())

	drive(status.EventProcessing)
	drive(status.EventIdle)
	assert.Equal(t, 2, inj.count())

	drive(status.EventProcessing)
	drive(status.EventIdle)
	assert.Equal(t, 2, inj.count(), "budget exhausted, no third injection")

	sess, err := reg.Get("A")
	require.NoError(t, err)
	assert.False(t, sess.WatchMode, "watch disabled once budget is exhausted")
}

// TestNoAutoContinueWithoutWatchOrFirstPrompt exercises testable property
// 2: an idle edge never triggers injection when watch_mode is false or
// the session has not yet seen its first prompt.
func TestNoAutoContinueWithoutWatchOrFirstPrompt(t *testing.T) {
	reg := registry.New("")
	newSession(reg, "unwatched", false, nil)
	newSession(reg, "never-prompted", true, nil)

	inj := &fakeInjector{}
	sched := New(reg, inj, "", nil)

	sched.handle(hooks.Event{SessionID: "unwatched", Record: status.Record{State: status.EventIdle}})
	sched.handle(hooks.Event{SessionID: "never-prompted", Record: status.Record{State: status.EventIdle}})

	assert.Equal(t, 0, inj.count())
}

func TestDirectMessageClearsInFlightAutoContinue(t *testing.T) {
	reg := registry.New("")
	newSession(reg, "A", true, nil)

	inj := &fakeInjector{}
	sched := New(reg, inj, "", nil)

	sched.handle(hooks.Event{SessionID: "A", Record: status.Record{State: status.EventProcessing}})
	sched.handle(hooks.Event{SessionID: "A", Record: status.Record{State: status.EventIdle}})
	assert.Equal(t, 1, inj.count())

	sess, err := reg.Get("A")
	require.NoError(t, err)
	assert.True(t, sess.PendingContinue)

	sched.NotifyDirectMessage("A")

	sess, err = reg.Get("A")
	require.NoError(t, err)
	assert.False(t, sess.PendingContinue)
}

func TestInjectorFailureClearsPendingForRetry(t *testing.T) {
	reg := registry.New("")
	newSession(reg, "A", true, nil)

	inj := &fakeInjector{failNext: 1}
	sched := New(reg, inj, "", nil)

	sched.handle(hooks.Event{SessionID: "A", Record: status.Record{State: status.EventProcessing}})
	sched.handle(hooks.Event{SessionID: "A", Record: status.Record{State: status.EventIdle}})

	sess, err := reg.Get("A")
	require.NoError(t, err)
	assert.False(t, sess.PendingContinue, "a failed injection must not leave pending_continue stuck")
	assert.Equal(t, 1, sess.AutoContinueCount, "the attempt still consumed a budget unit")
}

func TestRunConsumesEventsUntilContextCancelled(t *testing.T) {
	reg := registry.New("")
	newSession(reg, "A", true, nil)

	inj := &fakeInjector{}
	sched := New(reg, inj, "", nil)

	events := make(chan hooks.Event, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sched.Run(ctx, events)
		close(done)
	}()

	events <- hooks.Event{SessionID: "A", Record: status.Record{State: status.EventProcessing}}
	events <- hooks.Event{SessionID: "A", Record: status.Record{State: status.EventIdle}}

	require.Eventually(t, func() bool { return inj.count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

// Package scheduler implements the Auto-Continue Scheduler: a per-session
// consumer of Hook Ingest events that, on a transition to Idle under watch
// mode, injects a continuation prompt subject to a turn budget. Mutations
// to shared session fields are routed entirely through the Registry's
// single-writer Mutate call, keeping writer serialization in one place.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bazelment/ccmaster/internal/hooks"
	"github.com/bazelment/ccmaster/internal/launcher"
	"github.com/bazelment/ccmaster/internal/registry"
	"github.com/bazelment/ccmaster/internal/status"
)

// DefaultContinuePayload is the literal prompt injected on an auto-continue.
const DefaultContinuePayload = "continue"

// PendingContinueTimeout bounds how long pending_continue may stay set
// before the scheduler clears it itself if no hook event arrives.
const PendingContinueTimeout = 12 * time.Second

// Scheduler consumes hooks.Event and drives auto-continue.
type Scheduler struct {
	reg     *registry.Registry
	inj     launcher.Injector
	payload string
	log     *slog.Logger

	timerMu sync.Mutex
	timers  map[string]*time.Timer
}

// New builds a Scheduler. payload overrides the default continuation text
// when non-empty.
func New(reg *registry.Registry, inj launcher.Injector, payload string, log *slog.Logger) *Scheduler {
	if payload == "" {
		payload = DefaultContinuePayload
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		reg:     reg,
		inj:     inj,
		payload: payload,
		log:     log.With("component", "scheduler"),
		timers:  make(map[string]*time.Timer),
	}
}

// Run consumes events from ingest until ctx is cancelled or the events
// channel closes.
func (s *Scheduler) Run(ctx context.Context, events <-chan hooks.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Scheduler) handle(ev hooks.Event) {
	var newState registry.State
	switch ev.Record.State {
	case status.EventProcessing:
		newState = registry.StateProcessing
	case status.EventWorking:
		newState = registry.StateWorking
	case status.EventCompletedTool:
		// Intentionally ignored for state; tools often arrive in runs.
		return
	case status.EventIdle:
		newState = registry.StateIdle
	default:
		return
	}

	switch newState {
	case registry.StateProcessing:
		s.onProcessing(ev.SessionID)
	case registry.StateIdle:
		s.onIdle(ev.SessionID)
	}

	_ = s.reg.Mutate(ev.SessionID, func(sess *registry.Session) error {
		sess.CurrentState = newState
		if newState == registry.StateProcessing {
			sess.HasSeenFirstPrompt = true
		}
		if sess.Status == registry.Starting {
			sess.Status = registry.Active
		}
		return nil
	})
}

// onProcessing clears any pending auto-continue: a Processing transition is
// the scheduler's own continue prompt landing, or a direct message winning
// over it.
func (s *Scheduler) onProcessing(sessionID string) {
	s.clearTimer(sessionID)
	_ = s.reg.Mutate(sessionID, func(sess *registry.Session) error {
		sess.PendingContinue = false
		return nil
	})
}

// onIdle runs the four-step auto-continue algorithm from the component
// design on a transition to Idle.
func (s *Scheduler) onIdle(sessionID string) {
	sess, err := s.reg.Get(sessionID)
	if err != nil {
		return
	}

	// Step 1: preconditions.
	if !sess.WatchMode || !sess.HasSeenFirstPrompt || sess.PendingContinue {
		return
	}

	// Step 2: turn budget.
	if sess.MaxTurns != nil && sess.AutoContinueCount >= *sess.MaxTurns {
		_ = s.reg.Mutate(sessionID, func(s *registry.Session) error {
			s.WatchMode = false
			return nil
		})
		s.log.Info("auto-continue budget exhausted, disabling watch", "session", sessionID)
		return
	}

	// Step 3: mark pending, increment count, inject.
	if err := s.reg.Mutate(sessionID, func(s *registry.Session) error {
		s.PendingContinue = true
		s.AutoContinueCount++
		return nil
	}); err != nil {
		return
	}

	if err := s.inj.Inject(sess.TerminalHandle, s.payload); err != nil {
		s.log.Warn("injector failure, clearing pending_continue for retry", "session", sessionID, "err", err)
		// InjectorFailure: clear pending_continue so the next Idle edge
		// retries, without consuming another unit of the turn budget twice.
		_ = s.reg.Mutate(sessionID, func(s *registry.Session) error {
			s.PendingContinue = false
			return nil
		})
		return
	}

	// Step 4: bound how long pending_continue may remain set.
	s.armTimer(sessionID)
}

func (s *Scheduler) armTimer(sessionID string) {
	s.clearTimer(sessionID)
	s.timerMu.Lock()
	s.timers[sessionID] = time.AfterFunc(PendingContinueTimeout, func() {
		_ = s.reg.Mutate(sessionID, func(sess *registry.Session) error {
			sess.PendingContinue = false
			return nil
		})
	})
	s.timerMu.Unlock()
}

func (s *Scheduler) clearTimer(sessionID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if t, ok := s.timers[sessionID]; ok {
		t.Stop()
		delete(s.timers, sessionID)
	}
}

// NotifyDirectMessage implements the edge case where a direct
// send_message_to_session wins over an in-flight auto-continue: the
// Lifecycle Manager's SendDirectMessage invokes this right before delivering a direct
// message so the pending auto-continue slot is released rather than
// silently dropped.
func (s *Scheduler) NotifyDirectMessage(sessionID string) {
	s.clearTimer(sessionID)
	_ = s.reg.Mutate(sessionID, func(sess *registry.Session) error {
		sess.PendingContinue = false
		return nil
	})
}

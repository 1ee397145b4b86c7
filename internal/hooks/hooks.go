// Package hooks implements Hook Ingest: the component that turns raw
// StatusRecord writes from worker-side hook scripts into logical
// lifecycle events for the Auto-Continue Scheduler. It polls the Status
// Store on a fixed interval, keyed by each file's mtime so an
// out-of-order or duplicate write is never reported twice, and uses an
// fsnotify watch on the status directory to react faster than the poll
// interval would alone.
package hooks

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bazelment/ccmaster/internal/status"
)

// DefaultPollInterval is the polling cadence, chosen to sit comfortably
// between responsiveness and wasted wakeups for an idle session.
const DefaultPollInterval = 175 * time.Millisecond

// Event is a logical lifecycle event derived from a StatusRecord change,
// delivered to the Scheduler.
type Event struct {
	SessionID string
	Record    status.Record
	MTime     time.Time
}

// Ingest polls a Status Store and emits deduplicated Events.
type Ingest struct {
	store    *status.Store
	interval time.Duration
	log      *slog.Logger

	seen map[string]time.Time // session id -> last-emitted mtime

	out chan Event
}

// New builds an Ingest over store. If interval is zero, DefaultPollInterval
// is used.
func New(store *status.Store, interval time.Duration, log *slog.Logger) *Ingest {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingest{
		store:    store,
		interval: interval,
		log:      log.With("component", "hooks"),
		seen:     make(map[string]time.Time),
		out:      make(chan Event, 64),
	}
}

// Events returns the channel Ingest delivers deduplicated lifecycle events on.
func (ig *Ingest) Events() <-chan Event { return ig.out }

// Run polls until ctx is cancelled. It also watches the status directory
// with fsnotify to shorten the effective latency between a hook write and
// the corresponding poll tick; a watch failure is logged and ignored,
// since the ticker alone still keeps events flowing.
func (ig *Ingest) Run(ctx context.Context) {
	ticker := time.NewTicker(ig.interval)
	defer ticker.Stop()

	wake := make(chan struct{}, 1)
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if err := w.Add(ig.store.Dir()); err != nil {
			ig.log.Warn("watch status dir failed", "err", err)
		} else {
			go ig.watchLoop(ctx, w, wake)
		}
	} else {
		ig.log.Warn("fsnotify unavailable, falling back to poll-only", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			close(ig.out)
			return
		case <-ticker.C:
			ig.pollOnce()
		case <-wake:
			ig.pollOnce()
		}
	}
}

func (ig *Ingest) watchLoop(ctx context.Context, w *fsnotify.Watcher, wake chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			ig.log.Warn("fsnotify error", "err", err)
		}
	}
}

// pollOnce reads every status file and emits an Event for any session
// whose mtime advanced since the last emission.
func (ig *Ingest) pollOnce() {
	entries, err := readDirNames(ig.store.Dir())
	if err != nil {
		ig.log.Warn("read status dir failed", "err", err)
		return
	}
	for _, sessionID := range entries {
		rec, mtime, err := ig.store.Read(sessionID)
		if err != nil {
			continue // soft filesystem race, or no status yet
		}
		last, ok := ig.seen[sessionID]
		if ok && !mtime.After(last) {
			continue
		}
		ig.seen[sessionID] = mtime
		select {
		case ig.out <- Event{SessionID: sessionID, Record: rec, MTime: mtime}:
		default:
			ig.log.Warn("event channel full, dropping status event", "session", sessionID)
		}
	}
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".json"))
	}
	return out, nil
}

// Package registry implements the Session Registry: the authoritative
// in-memory map of sessions, identities, terminal handles, watch flags,
// and counters, mirrored best-effort to a snapshot file. All cross-tool
// fields are treated as one coherent consistency domain guarded by a
// single mutex.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bazelment/ccmaster/internal/ccerr"
)

// Status is the session's terminal-or-not lifecycle status.
type Status string

const (
	Starting       Status = "starting"
	Active         Status = "active"
	Ended          Status = "ended"
	Killed         Status = "killed"
	SelfTerminated Status = "self_terminated"
	Error          Status = "error"
)

// IsTerminal reports whether a Status can never transition further.
func (s Status) IsTerminal() bool {
	switch s {
	case Ended, Killed, SelfTerminated, Error:
		return true
	default:
		return false
	}
}

// State is the live lifecycle state derived from hook events.
type State string

const (
	StateStarting   State = "starting"
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateWorking    State = "working"
	StateUnknown    State = "unknown"
)

// CreatedBy distinguishes a human-initiated session from one an MCP/RPC
// caller spawned programmatically.
type CreatedBy string

const (
	ByUser CreatedBy = "user"
	ByMCP  CreatedBy = "mcp"
)

// Session is the full in-memory session record.
type Session struct {
	CreatedAt          time.Time   `json:"created_at"`
	EndedAt            *time.Time  `json:"ended_at,omitempty"`
	ID                 string      `json:"session_id"`
	WorkingDir         string      `json:"working_dir"`
	Status             Status      `json:"status"`
	CurrentState       State       `json:"current_state"`
	TerminalHandle     string      `json:"terminal_handle"`
	Identity           string      `json:"identity,omitempty"`
	CreatedBy          CreatedBy   `json:"created_by"`
	WatchMode          bool        `json:"watch_mode"`
	MaxTurns           *int        `json:"max_turns,omitempty"`
	AutoContinueCount  int         `json:"auto_continue_count"`
	HasSeenFirstPrompt bool        `json:"has_seen_first_prompt"`
	PendingContinue    bool        `json:"pending_continue"`
}

// clone returns a deep-enough copy safe to hand to callers outside the lock.
func (s *Session) clone() *Session {
	cp := *s
	if s.MaxTurns != nil {
		v := *s.MaxTurns
		cp.MaxTurns = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		cp.EndedAt = &v
	}
	return &cp
}

// Registry is the single-writer, multi-reader authoritative session map.
type Registry struct {
	sessions     map[string]*Session
	identities   map[string]string // identity -> session id
	snapshotPath string
	mu           sync.RWMutex
}

// New creates a Registry that mirrors its state to snapshotPath (the
// sessions.json file). snapshotPath may be empty to disable mirroring
// (used in tests).
func New(snapshotPath string) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		identities:   make(map[string]string),
		snapshotPath: snapshotPath,
	}
}

// Create inserts a new session record and returns its clone.
func (r *Registry) Create(sess *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
	r.snapshotLocked()
	return sess.clone()
}

// Get returns a clone of the session, or a NotFound error.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ccerr.NotFoundf("session %s not found", id)
	}
	return sess.clone(), nil
}

// Mutate applies fn to the session under the write lock and mirrors the
// snapshot afterward. fn must not retain the pointer beyond its call.
func (r *Registry) Mutate(id string, fn func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return ccerr.NotFoundf("session %s not found", id)
	}
	if err := fn(sess); err != nil {
		return err
	}
	r.snapshotLocked()
	return nil
}

// ActiveView returns clones of every Active session, for listing/broadcast.
func (r *Registry) ActiveView() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Status == Active {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// All returns clones of every session regardless of status.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetIdentity binds identity to session id, enforcing the bijection
// invariant: at most one Active session may hold a non-empty identity.
// Reassigning the same session to a new identity vacates its prior one.
func (r *Registry) SetIdentity(id, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ccerr.NotFoundf("session %s not found", id)
	}

	if holder, taken := r.identities[identity]; taken && holder != id {
		if other, ok := r.sessions[holder]; ok && other.Status == Active {
			return ccerr.InvalidStatef(
				fmt.Sprintf("identity %q already held by session %s", identity, holder),
				"identity already in use")
		}
	}

	if sess.Identity != "" {
		delete(r.identities, sess.Identity)
	}
	sess.Identity = identity
	r.identities[identity] = id
	r.snapshotLocked()
	return nil
}

// ResolveIdentity returns the session id bound to identity, or ok=false.
func (r *Registry) ResolveIdentity(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[identity]
	return id, ok
}

// Member is one identity->session binding for team listing.
type Member struct {
	SessionID string `json:"session_id"`
	Identity  string `json:"identity"`
	Active    bool   `json:"active"`
}

// ListMembers enumerates identity bindings, optionally including sessions
// that are no longer Active.
func (r *Registry) ListMembers(includeInactive bool) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Member
	for identity, id := range r.identities {
		sess, ok := r.sessions[id]
		if !ok {
			continue
		}
		if sess.Status != Active && !includeInactive {
			continue
		}
		out = append(out, Member{SessionID: id, Identity: identity, Active: sess.Status == Active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// snapshotLocked writes sessions.json best-effort; callers must hold mu.
func (r *Registry) snapshotLocked() {
	if r.snapshotPath == "" {
		return
	}
	data, err := json.MarshalIndent(r.sessions, "", "  ")
	if err != nil {
		return
	}
	tmp := r.snapshotPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.snapshotPath), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, r.snapshotPath)
}

// LoadSnapshot best-effort restores sessions and identity bindings from the
// snapshot file on startup. This is not full crash recovery; it only
// re-discovers identities so set_identity bijection keeps holding
// across a supervisor restart.
func (r *Registry) LoadSnapshot() error {
	if r.snapshotPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var sessions map[string]*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("registry: load snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = sessions
	r.identities = make(map[string]string)
	for id, sess := range sessions {
		if sess.Identity != "" {
			r.identities[sess.Identity] = id
		}
	}
	return nil
}

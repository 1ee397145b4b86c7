// Package jobqueue implements the Job Queue Store: a per-assignee
// directory of JobRecord files with a four-state lifecycle
// (Pending -> Doing -> Done, Pending|Doing -> Cancelled). Dependencies are
// advisory metadata only; the store never blocks scheduling on them.
package jobqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state.
type Status string

const (
	Pending   Status = "pending"
	Doing     Status = "doing"
	Done      Status = "done"
	Cancelled Status = "cancelled"
)

// Priority orders listing: p0 < p1 < p2.
type Priority string

const (
	P0 Priority = "p0"
	P1 Priority = "p1"
	P2 Priority = "p2"
)

func (p Priority) rank() int {
	switch p {
	case P0:
		return 0
	case P1:
		return 1
	case P2:
		return 2
	default:
		return 3
	}
}

// Record is a JobRecord as persisted under <jobs>/<assigned_to>/<id>.json.
type Record struct {
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	CreatedBy    string     `json:"created_by"`
	AssignedTo   string     `json:"assigned_to"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	Result       string     `json:"result,omitempty"`
	Artifacts    []string   `json:"artifacts,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
}

// DependencyStatus is the resolved status of one dependency id, reported
// by get_status; "not_found" if the id doesn't exist in any queue.
type DependencyStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Store manages the on-disk job queue directory tree.
type Store struct {
	root string
}

// New returns a Store rooted at root (the "job_queue" directory).
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("jobqueue: create root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) dir(assignedTo string) string { return filepath.Join(s.root, assignedTo) }
func (s *Store) path(assignedTo, id string) string {
	return filepath.Join(s.dir(assignedTo), id+".json")
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Create enqueues a new Pending job for assignedTo.
func (s *Store) Create(createdBy, assignedTo, title, description string, priority Priority, dependencies []string) (*Record, error) {
	rec := &Record{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Priority:     priority,
		Status:       Pending,
		CreatedBy:    createdBy,
		AssignedTo:   assignedTo,
		CreatedAt:    time.Now(),
		Dependencies: dependencies,
	}
	if err := writeAtomic(s.path(assignedTo, rec.ID), rec); err != nil {
		return nil, fmt.Errorf("jobqueue: create: %w", err)
	}
	return rec, nil
}

// findAny locates a job by id across every assignee's queue.
func (s *Store) findAny(id string) (*Record, string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", os.ErrNotExist
		}
		return nil, "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := s.path(e.Name(), id)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		return &rec, path, nil
	}
	return nil, "", os.ErrNotExist
}

// Get loads a job record by id, searching across all queues.
func (s *Store) Get(id string) (*Record, error) {
	rec, _, err := s.findAny(id)
	return rec, err
}

// Complete transitions a Doing (or Pending) job to Done with a result.
// Completion is caller-driven; the RPC layer is responsible for checking
// caller == assigned_to before calling this.
func (s *Store) Complete(id, result string, artifacts []string) (*Record, error) {
	rec, path, err := s.findAny(id)
	if err != nil {
		return nil, err
	}
	if rec.Status == Done || rec.Status == Cancelled {
		return nil, fmt.Errorf("jobqueue: job %s is terminal (%s)", id, rec.Status)
	}
	now := time.Now()
	rec.Status = Done
	rec.Result = result
	rec.Artifacts = artifacts
	rec.CompletedAt = &now
	if err := writeAtomic(path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkDoing transitions a Pending job to Doing. Callers invoke this when
// the assignee begins work; the store does not trigger it automatically.
func (s *Store) MarkDoing(id string) (*Record, error) {
	rec, path, err := s.findAny(id)
	if err != nil {
		return nil, err
	}
	if rec.Status != Pending {
		return nil, fmt.Errorf("jobqueue: job %s is not pending (%s)", id, rec.Status)
	}
	now := time.Now()
	rec.Status = Doing
	rec.StartedAt = &now
	if err := writeAtomic(path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Cancel transitions a non-terminal job to Cancelled.
func (s *Store) Cancel(id, cancelledBy, reason string) (*Record, error) {
	rec, path, err := s.findAny(id)
	if err != nil {
		return nil, err
	}
	if rec.Status == Done || rec.Status == Cancelled {
		return nil, fmt.Errorf("jobqueue: job %s is terminal (%s)", id, rec.Status)
	}
	now := time.Now()
	rec.Status = Cancelled
	rec.CancelledBy = cancelledBy
	rec.CancelReason = reason
	rec.CancelledAt = &now
	if err := writeAtomic(path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns jobs across one session's queue (or every queue if
// session is empty), sorted by priority then created_at ascending,
// optionally filtered by status and priority.
func (s *Store) List(session string, statusFilter []Status, priorityFilter Priority) ([]Record, error) {
	var dirs []string
	if session != "" {
		dirs = []string{session}
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			}
		}
	}

	var out []Record
	for _, d := range dirs {
		entries, err := os.ReadDir(s.dir(d))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.dir(d), e.Name()))
			if err != nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if len(statusFilter) > 0 && !statusIn(rec.Status, statusFilter) {
				continue
			}
			if priorityFilter != "" && rec.Priority != priorityFilter {
				continue
			}
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.rank() != out[j].Priority.rank() {
			return out[i].Priority.rank() < out[j].Priority.rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ResolveDependencies reports each dependency id's current status,
// searching across every queue; unresolved ids report "not_found".
func (s *Store) ResolveDependencies(ids []string) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(id)
		if err != nil {
			out = append(out, DependencyStatus{ID: id, Status: "not_found"})
			continue
		}
		out = append(out, DependencyStatus{ID: id, Status: string(rec.Status)})
	}
	return out
}

func statusIn(s Status, list []Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

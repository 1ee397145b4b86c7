package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/ccmaster/internal/ccerr"
	"github.com/bazelment/ccmaster/internal/jobqueue"
	"github.com/bazelment/ccmaster/internal/lifecycle"
	"github.com/bazelment/ccmaster/internal/mailbox"
	"github.com/bazelment/ccmaster/internal/registry"
	"github.com/bazelment/ccmaster/internal/scheduler"
)

// Deps bundles every component the consolidated tool surface dispatches
// into. It is assembled once by the supervisor and handed to RegisterTools.
type Deps struct {
	Registry  *registry.Registry
	Lifecycle *lifecycle.Manager
	Scheduler *scheduler.Scheduler
	Mail      *mailbox.Store
	Jobs      *jobqueue.Store
	LogsDir   string
	Log       *slog.Logger
}

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// RegisterTools builds the full consolidated tool registry: session,
// communicate, job, team, prompt, list_sessions, kill_self.
func RegisterTools(d *Deps) *ToolRegistry {
	reg := NewToolRegistry()
	registerSessionTool(reg, d)
	registerCommunicateTool(reg, d)
	registerJobTool(reg, d)
	registerTeamTool(reg, d)
	registerPromptTool(reg, d)
	registerListSessionsTool(reg, d)
	registerKillSelfTool(reg, d)
	return reg
}

// --- session ---------------------------------------------------------

// SessionParams is the single strongly-typed parameter object for every
// `session` action, discriminated by Action.
type SessionParams struct {
	Action             string            `json:"action" jsonschema:"required,description=create/kill/get_status/get_logs/watch/unwatch/interrupt/continue/spawn_temp/coordinate"`
	SessionID          string            `json:"session_id,omitempty" jsonschema:"description=target session id"`
	WorkingDir         string            `json:"working_dir,omitempty"`
	WatchMode          *bool             `json:"watch_mode,omitempty"`
	MaxTurns           *int              `json:"max_turns,omitempty"`
	Identity           string            `json:"identity,omitempty"`
	Message            string            `json:"message,omitempty"`
	Reason             string            `json:"reason,omitempty"`
	Lines              int               `json:"lines,omitempty"`
	Command            string            `json:"command,omitempty" jsonschema:"description=worker command line for create/spawn_temp; split on whitespace into argv"`
	TimeoutSeconds     int               `json:"timeout_seconds,omitempty"`
	TaskDescription    string            `json:"task_description,omitempty"`
	SessionAssignments map[string]string `json:"session_assignments,omitempty" jsonschema:"description=session id to templated prompt, for coordinate"`
}

func registerSessionTool(reg *ToolRegistry, d *Deps) {
	AddTool(reg, "session", "Manage worker sessions: create, kill, inspect, watch, interrupt, continue, spawn_temp, coordinate", func(ctx context.Context, p SessionParams) (string, error) {
		switch p.Action {
		case "create":
			return sessionCreate(d, p)
		case "kill":
			if err := d.Lifecycle.Kill(p.SessionID); err != nil {
				return errJSON(err), nil
			}
			return toJSON(map[string]any{"success": true, "session_id": p.SessionID}), nil
		case "get_status":
			return sessionGetStatus(d, p)
		case "get_logs":
			return sessionGetLogs(d, p)
		case "watch":
			return sessionWatch(d, p, true)
		case "unwatch":
			return sessionWatch(d, p, false)
		case "interrupt":
			if err := d.Lifecycle.Interrupt(p.SessionID, p.Reason); err != nil {
				return errJSON(err), nil
			}
			return toJSON(map[string]any{"success": true, "session_id": p.SessionID, "new_state": "idle"}), nil
		case "continue":
			return sessionContinue(d, p)
		case "spawn_temp":
			return sessionSpawnTemp(ctx, d, p)
		case "coordinate":
			return sessionCoordinate(d, p)
		default:
			return toJSON(map[string]any{"error": fmt.Sprintf("unknown session action %q", p.Action)}), nil
		}
	})
}

func sessionCreate(d *Deps, p SessionParams) (string, error) {
	watch := true
	if p.WatchMode != nil {
		watch = *p.WatchMode
	}
	id := uuid.NewString()
	argv := []string{"claude"}
	if p.Command != "" {
		argv = strings.Fields(p.Command)
	}
	sess, err := d.Lifecycle.Create(id, sessionCreateParams(p, argv, watch, registry.ByMCP))
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "session_id": sess.ID, "status": sess.Status}), nil
}

func sessionCreateParams(p SessionParams, argv []string, watch bool, createdBy registry.CreatedBy) lifecycle.CreateParams {
	return lifecycle.CreateParams{
		WorkingDir: p.WorkingDir,
		WatchMode:  watch,
		MaxTurns:   p.MaxTurns,
		Identity:   p.Identity,
		Argv:       argv,
		CreatedBy:  createdBy,
		Env:        []string{},
	}
}

func sessionGetStatus(d *Deps, p SessionParams) (string, error) {
	sess, err := d.Registry.Get(p.SessionID)
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{
		"session_id":          sess.ID,
		"status":              sess.Status,
		"current_state":       sess.CurrentState,
		"working_dir":         sess.WorkingDir,
		"created_at":          sess.CreatedAt,
		"ended_at":            sess.EndedAt,
		"watch_mode":          sess.WatchMode,
		"auto_continue_count": sess.AutoContinueCount,
		"max_turns":           sess.MaxTurns,
	}), nil
}

func sessionGetLogs(d *Deps, p SessionParams) (string, error) {
	lines := p.Lines
	if lines <= 0 {
		lines = 100
	}
	path := filepath.Join(d.LogsDir, p.SessionID+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		return toJSON(map[string]any{"error": fmt.Sprintf("log file for session %s not found", p.SessionID)}), nil
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	recent := all
	if len(all) > lines {
		recent = all[len(all)-lines:]
	}
	return toJSON(map[string]any{
		"success":         true,
		"session_id":      p.SessionID,
		"log_lines":       recent,
		"total_lines":     len(all),
		"requested_lines": lines,
	}), nil
}

func sessionWatch(d *Deps, p SessionParams, enable bool) (string, error) {
	sess, err := d.Registry.Get(p.SessionID)
	if err != nil {
		return errJSON(err), nil
	}
	if sess.Status != registry.Active {
		return toJSON(map[string]any{"error": fmt.Sprintf("session %s is not active", p.SessionID)}), nil
	}
	err = d.Registry.Mutate(p.SessionID, func(s *registry.Session) error {
		s.WatchMode = enable
		if enable && p.MaxTurns != nil {
			s.MaxTurns = p.MaxTurns
			s.AutoContinueCount = 0
		}
		if !enable {
			s.MaxTurns = nil
			s.PendingContinue = false
		}
		return nil
	})
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "session_id": p.SessionID, "watch_mode": enable}), nil
}

func sessionContinue(d *Deps, p SessionParams) (string, error) {
	sess, err := d.Registry.Get(p.SessionID)
	if err != nil {
		return errJSON(err), nil
	}
	if sess.CurrentState != registry.StateIdle {
		return toJSON(map[string]any{"error": fmt.Sprintf("session %s is %s, cannot continue", p.SessionID, sess.CurrentState)}), nil
	}
	if sess.PendingContinue {
		return toJSON(map[string]any{"warning": fmt.Sprintf("session %s already has a pending continue", p.SessionID)}), nil
	}
	msg := p.Message
	if msg == "" {
		msg = scheduler.DefaultContinuePayload
	}
	if err := d.Lifecycle.SendDirectMessage(p.SessionID, msg); err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "session_id": p.SessionID, "message_sent": msg}), nil
}

// sessionSpawnTemp composes create(watch_mode=false, max_turns=1) -> wait
// for Active -> send_message -> poll until Idle or timeout -> collect
// logs -> kill.
func sessionSpawnTemp(ctx context.Context, d *Deps, p SessionParams) (string, error) {
	watch := false
	maxTurns := 1
	id := uuid.NewString()
	argv := []string{"claude"}
	if p.Command != "" {
		argv = strings.Fields(p.Command)
	}
	_, err := d.Lifecycle.Create(id, lifecycle.CreateParams{
		WorkingDir: p.WorkingDir,
		WatchMode:  watch,
		MaxTurns:   &maxTurns,
		Argv:       argv,
		CreatedBy:  registry.ByMCP,
	})
	if err != nil {
		return errJSON(err), nil
	}

	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)

	if !waitForStatus(d, id, registry.Active, deadline) {
		return toJSON(map[string]any{"error": "spawn_temp: session never became active", "session_id": id}), nil
	}

	if p.Message != "" {
		if err := d.Lifecycle.SendDirectMessage(id, p.Message); err != nil {
			return errJSON(err), nil
		}
	}

	timedOut := !waitForState(d, id, registry.StateIdle, deadline)

	logsText, _ := sessionGetLogs(d, SessionParams{SessionID: id, Lines: 200})

	if err := d.Lifecycle.Kill(id); err != nil {
		d.Log.Warn("spawn_temp: kill failed", "session", id, "err", err)
	}

	return toJSON(map[string]any{
		"success":    true,
		"session_id": id,
		"timed_out":  timedOut,
		"logs":       json.RawMessage(logsText),
	}), nil
}

func waitForStatus(d *Deps, id string, want registry.Status, deadline time.Time) bool {
	for time.Now().Before(deadline) {
		if sess, err := d.Registry.Get(id); err == nil && sess.Status == want {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func waitForState(d *Deps, id string, want registry.State, deadline time.Time) bool {
	for time.Now().Before(deadline) {
		if sess, err := d.Registry.Get(id); err == nil && sess.CurrentState == want {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// sessionCoordinate is a fan-out of templated per-recipient prompts keyed
// by session id; it does not wait for completion.
func sessionCoordinate(d *Deps, p SessionParams) (string, error) {
	results := map[string]string{}
	for sessionID, prompt := range p.SessionAssignments {
		if err := d.Lifecycle.SendDirectMessage(sessionID, prompt); err != nil {
			results[sessionID] = "error: " + err.Error()
			continue
		}
		results[sessionID] = "sent"
	}
	return toJSON(map[string]any{"success": true, "task": p.TaskDescription, "results": results}), nil
}

func errJSON(err error) string {
	hint := ""
	if e, ok := err.(*ccerr.Error); ok {
		hint = e.Hint
	}
	return toJSON(map[string]any{"error": err.Error(), "hint": hint})
}

// --- list_sessions / kill_self ----------------------------------------

func registerListSessionsTool(reg *ToolRegistry, d *Deps) {
	AddTool(reg, "list_sessions", "List all sessions known to the supervisor", func(ctx context.Context, p struct {
		IncludeEnded bool `json:"include_ended,omitempty"`
	}) (string, error) {
		all := d.Registry.All()
		out := make([]map[string]any, 0, len(all))
		activeCount := 0
		for _, s := range all {
			if !p.IncludeEnded && s.Status.IsTerminal() {
				continue
			}
			if s.Status == registry.Active {
				activeCount++
			}
			out = append(out, map[string]any{
				"session_id":  s.ID,
				"identity":    s.Identity,
				"working_dir": s.WorkingDir,
				"status":      s.Status,
				"created_at":  s.CreatedAt,
				"ended_at":    s.EndedAt,
				"is_active":   s.Status == registry.Active,
			})
		}
		return toJSON(map[string]any{"sessions": out, "total_count": len(out), "active_count": activeCount}), nil
	})
}

func registerKillSelfTool(reg *ToolRegistry, d *Deps) {
	AddTool(reg, "kill_self", "Terminate the calling session", func(ctx context.Context, p struct {
		Reason       string `json:"reason" jsonschema:"required"`
		FinalMessage string `json:"final_message,omitempty"`
	}) (string, error) {
		sessionID := Caller(ctx)
		if sessionID == "" {
			return toJSON(map[string]any{"error": "kill_self: no caller session id in request context"}), nil
		}
		if err := d.Lifecycle.SelfTerminate(sessionID, p.Reason, p.FinalMessage); err != nil {
			return errJSON(err), nil
		}
		return toJSON(map[string]any{"success": true, "session_id": sessionID}), nil
	})
}

// --- prompt ------------------------------------------------------------

func registerPromptTool(reg *ToolRegistry, d *Deps) {
	AddTool(reg, "prompt", "Display a message in the supervisor console", func(ctx context.Context, p struct {
		Message string `json:"message" jsonschema:"required"`
	}) (string, error) {
		for _, line := range strings.Split(strings.TrimSpace(p.Message), "\n") {
			if cleaned := strings.TrimSpace(line); cleaned != "" {
				d.Log.Info(cleaned, "source", "mcp_prompt")
			}
		}
		return toJSON(map[string]any{
			"success":     true,
			"message":     "Prompt displayed in supervisor console",
			"timestamp":   time.Now().Format(time.RFC3339),
			"prompt_text": p.Message,
		}), nil
	})
}

package rpc

import (
	"context"
	"fmt"

	"github.com/bazelment/ccmaster/internal/jobqueue"
)

// JobParams is the single strongly-typed parameter object for every `job`
// action, discriminated by Action.
type JobParams struct {
	Action       string   `json:"action" jsonschema:"required,description=send_to_session/send_to_member/list/cancel/get_status/complete"`
	SessionID    string   `json:"session_id,omitempty"`
	Member       string   `json:"member,omitempty"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Priority     string   `json:"priority,omitempty" jsonschema:"description=p0/p1/p2"`
	Dependencies []string `json:"dependencies,omitempty"`
	JobID        string   `json:"job_id,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Result       string   `json:"result,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
	StatusFilter []string `json:"status_filter,omitempty"`
}

func registerJobTool(reg *ToolRegistry, d *Deps) {
	AddTool(reg, "job", "Assign and track work items in per-session job queues", func(ctx context.Context, p JobParams) (string, error) {
		switch p.Action {
		case "send_to_session":
			return jobSendToSession(ctx, d, p)
		case "send_to_member":
			return jobSendToMember(ctx, d, p)
		case "list":
			return jobList(ctx, d, p)
		case "cancel":
			return jobCancel(ctx, d, p)
		case "get_status":
			return jobGetStatus(d, p)
		case "complete":
			return jobComplete(ctx, d, p)
		default:
			return toJSON(map[string]any{"error": fmt.Sprintf("unknown job action %q", p.Action)}), nil
		}
	})
}

func jobPriority(p string) jobqueue.Priority {
	if p == "" {
		return jobqueue.P1
	}
	return jobqueue.Priority(p)
}

func jobSendToSession(ctx context.Context, d *Deps, p JobParams) (string, error) {
	caller := Caller(ctx)
	rec, err := d.Jobs.Create(caller, p.SessionID, p.Title, p.Description, jobPriority(p.Priority), p.Dependencies)
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "job": rec}), nil
}

func jobSendToMember(ctx context.Context, d *Deps, p JobParams) (string, error) {
	sessionID, ok := d.Registry.ResolveIdentity(p.Member)
	if !ok {
		return toJSON(map[string]any{"error": fmt.Sprintf("team member %q not found", p.Member)}), nil
	}
	p.SessionID = sessionID
	return jobSendToSession(ctx, d, p)
}

func jobList(ctx context.Context, d *Deps, p JobParams) (string, error) {
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = Caller(ctx)
	}
	var statuses []jobqueue.Status
	for _, s := range p.StatusFilter {
		statuses = append(statuses, jobqueue.Status(s))
	}
	records, err := d.Jobs.List(sessionID, statuses, jobqueue.Priority(p.Priority))
	if err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "jobs": records, "count": len(records)}), nil
}

func jobCancel(ctx context.Context, d *Deps, p JobParams) (string, error) {
	caller := Caller(ctx)
	rec, err := d.Jobs.Cancel(p.JobID, caller, p.Reason)
	if err != nil {
		return toJSON(map[string]any{"error": err.Error()}), nil
	}
	return toJSON(map[string]any{"success": true, "job": rec}), nil
}

func jobGetStatus(d *Deps, p JobParams) (string, error) {
	rec, err := d.Jobs.Get(p.JobID)
	if err != nil {
		return toJSON(map[string]any{"error": fmt.Sprintf("job %s not found", p.JobID)}), nil
	}
	deps := d.Jobs.ResolveDependencies(rec.Dependencies)
	return toJSON(map[string]any{"success": true, "job": rec, "dependencies": deps}), nil
}

// jobComplete requires caller == assigned_to: only the assignee may
// move its own job to Done.
func jobComplete(ctx context.Context, d *Deps, p JobParams) (string, error) {
	caller := Caller(ctx)
	existing, err := d.Jobs.Get(p.JobID)
	if err != nil {
		return toJSON(map[string]any{"error": fmt.Sprintf("job %s not found", p.JobID)}), nil
	}
	if existing.AssignedTo != caller {
		return toJSON(map[string]any{"error": fmt.Sprintf("job %s is assigned to %s, not %s", p.JobID, existing.AssignedTo, caller), "hint": "only the assignee may complete a job"}), nil
	}
	rec, err := d.Jobs.Complete(p.JobID, p.Result, p.Artifacts)
	if err != nil {
		return toJSON(map[string]any{"error": err.Error()}), nil
	}
	return toJSON(map[string]any{"success": true, "job": rec}), nil
}

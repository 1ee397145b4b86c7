package rpc

import (
	"context"
	"fmt"
	"sort"

	"github.com/bazelment/ccmaster/internal/registry"
)

// TeamParams is the single strongly-typed parameter object for every
// `team` action, discriminated by Action.
type TeamParams struct {
	Action          string `json:"action" jsonschema:"required,description=set_identity/list_members"`
	SessionID       string `json:"session_id,omitempty"`
	Identity        string `json:"identity,omitempty"`
	IncludeInactive bool   `json:"include_inactive,omitempty"`
}

func registerTeamTool(reg *ToolRegistry, d *Deps) {
	AddTool(reg, "team", "Bind identities to sessions and list team membership", func(ctx context.Context, p TeamParams) (string, error) {
		switch p.Action {
		case "set_identity":
			return teamSetIdentity(ctx, d, p)
		case "list_members":
			return teamListMembers(d, p)
		default:
			return toJSON(map[string]any{"error": fmt.Sprintf("unknown team action %q", p.Action)}), nil
		}
	})
}

func teamSetIdentity(ctx context.Context, d *Deps, p TeamParams) (string, error) {
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = Caller(ctx)
	}
	if err := d.Registry.SetIdentity(sessionID, p.Identity); err != nil {
		return errJSON(err), nil
	}
	return toJSON(map[string]any{"success": true, "session_id": sessionID, "identity": p.Identity}), nil
}

func teamListMembers(d *Deps, p TeamParams) (string, error) {
	members := d.Registry.ListMembers(p.IncludeInactive)
	out := make([]map[string]any, 0, len(members))
	activeCount := 0
	for _, m := range members {
		sess, err := d.Registry.Get(m.SessionID)
		if err != nil {
			continue
		}
		if m.Active {
			activeCount++
		}
		entry := map[string]any{
			"identity":    m.Identity,
			"session_id":  m.SessionID,
			"status":      sess.Status,
			"working_dir": sess.WorkingDir,
			"created_at":  sess.CreatedAt,
			"is_active":   m.Active,
		}
		if m.Active {
			entry["watch_mode"] = sess.WatchMode
			entry["auto_continue_count"] = sess.AutoContinueCount
			entry["current_state"] = sess.CurrentState
		} else {
			entry["current_state"] = registry.StateUnknown
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["identity"].(string) < out[j]["identity"].(string) })

	return toJSON(map[string]any{
		"team_members": out,
		"active_count": activeCount,
		"total_count":  len(out),
	}), nil
}

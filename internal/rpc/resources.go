package rpc

import (
	"encoding/json"
	"time"

	"github.com/bazelment/ccmaster/internal/registry"
)

func (disp *Dispatcher) resourceDefinitions() []Resource {
	return []Resource{
		{
			URI:         "ccmaster://sessions",
			Name:        "Active Sessions",
			Description: "Full session registry, including ended sessions",
			MimeType:    "application/json",
		},
		{
			URI:         "ccmaster://status",
			Name:        "System Status",
			Description: "Supervisor status summary including uptime and session counts",
			MimeType:    "application/json",
		},
	}
}

func (disp *Dispatcher) handleResourcesRead(req *Request) *Response {
	var params ResourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, "invalid params: "+err.Error())
	}

	switch params.URI {
	case "ccmaster://sessions":
		all := disp.d.Registry.All()
		return resultResponse(req.ID, ResourcesReadResult{Contents: []ResourceContent{{
			URI:      params.URI,
			MimeType: "application/json",
			Text:     toJSON(all),
		}}})
	case "ccmaster://status":
		all := disp.d.Registry.All()
		activeCount := 0
		for _, s := range all {
			if s.Status == registry.Active {
				activeCount++
			}
		}
		status := map[string]any{
			"active_sessions": activeCount,
			"total_sessions":  len(all),
			"uptime_seconds":  time.Since(disp.startedAt).Seconds(),
		}
		return resultResponse(req.ID, ResourcesReadResult{Contents: []ResourceContent{{
			URI:      params.URI,
			MimeType: "application/json",
			Text:     toJSON(status),
		}}})
	default:
		return errorResponse(req.ID, ErrCodeInvalidParams, "unknown resource uri: "+params.URI)
	}
}

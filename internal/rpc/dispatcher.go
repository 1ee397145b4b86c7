package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bazelment/ccmaster/internal/ccerr"
)

// Dispatcher serves the consolidated tool surface as JSON-RPC 2.0 over a
// single loopback HTTP endpoint, answering tools/call and friends rather
// than issuing requests.
type Dispatcher struct {
	tools     *ToolRegistry
	startedAt time.Time
	log       *slog.Logger
	d         *Deps
}

// NewDispatcher builds a Dispatcher over the consolidated tool registry.
func NewDispatcher(d *Deps, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		tools:     RegisterTools(d),
		startedAt: time.Now(),
		log:       log.With("component", "rpc"),
		d:         d,
	}
}

// Handler returns the single http.HandlerFunc to mount at the RPC endpoint.
// Every response carries a permissive CORS header since the surface is
// loopback-only and unauthenticated by design; a preflight OPTIONS
// request is answered with no body.
func (disp *Dispatcher) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-CCMaster-Session-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
		if err != nil {
			writeResponse(w, errorResponse(nil, ErrCodeParseError, "failed to read request body"))
			return
		}

		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			writeResponse(w, errorResponse(nil, ErrCodeParseError, "parse error: "+err.Error()))
			return
		}
		if req.JSONRPC != "2.0" || req.Method == "" {
			writeResponse(w, errorResponse(req.ID, ErrCodeInvalidRequest, "invalid request"))
			return
		}

		ctx := r.Context()
		if caller := r.Header.Get("X-CCMaster-Session-ID"); caller != "" {
			ctx = WithCaller(ctx, caller)
		}

		writeResponse(w, disp.dispatch(ctx, &req))
	}
}

func (disp *Dispatcher) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: "2024-11-05",
			Capabilities: ServerCapabilities{
				Tools:     &ToolsCapability{},
				Resources: &ResourcesCapability{},
			},
			ServerInfo: ServerInfo{Name: "ccmaster", Version: "1.0.0"},
		})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: disp.tools.Definitions()})
	case "tools/call":
		return disp.handleToolsCall(ctx, req)
	case "resources/list":
		return resultResponse(req.ID, ResourcesListResult{Resources: disp.resourceDefinitions()})
	case "resources/read":
		return disp.handleResourcesRead(req)
	default:
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (disp *Dispatcher) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, "invalid params: "+err.Error())
	}

	result, found, err := disp.tools.Call(ctx, params.Name, params.Arguments)
	if !found {
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("tool not found: %s", params.Name))
	}
	if err != nil {
		code := ErrCodeInternalError
		if ccerr.KindOf(err) == ccerr.Protocol {
			code = ErrCodeInvalidParams
		}
		return errorResponse(req.ID, code, "tool execution error: "+err.Error())
	}
	return resultResponse(req.ID, result)
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		w.WriteHeader(http.StatusOK) // JSON-RPC errors travel in the body, not the HTTP status
	}
	_ = json.NewEncoder(w).Encode(resp)
}

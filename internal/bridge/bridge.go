// Package bridge implements the RPC Bridge: a stdio process that
// forwards line-delimited JSON-RPC requests from a worker's MCP client to
// the supervisor's HTTP dispatcher, and writes the line-delimited
// responses back to stdout. It is the worker-facing half of the RPC
// Tool Dispatcher; the worker never talks HTTP directly.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Bridge forwards stdin/stdout JSON-RPC traffic to an HTTP endpoint.
type Bridge struct {
	endpoint  string
	sessionID string
	client    *http.Client
}

// New builds a Bridge that forwards to endpoint (e.g. http://127.0.0.1:8080/rpc)
// tagging every forwarded request with sessionID so the dispatcher can
// attribute caller-scoped tools (kill_self, check_mail, job list) correctly.
func New(endpoint, sessionID string) *Bridge {
	return &Bridge{
		endpoint:  endpoint,
		sessionID: sessionID,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Run reads one JSON-RPC request per line from in, forwards it, and
// writes the JSON-RPC response as one line to out, until in is exhausted
// or ctx is cancelled. On startup it probes tools/list; an unreachable
// endpoint is surfaced as a JSON-RPC error response on out, not a process
// exit, since the supervisor may still be starting up when the worker's
// MCP client first connects.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := b.probe(ctx); err != nil {
		resp := transportError(0, fmt.Errorf("startup probe failed: %w", err))
		data, mErr := json.Marshal(resp)
		if mErr == nil {
			_, _ = out.Write(append(data, '\n'))
		}
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		resp := b.forward(ctx, line)
		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("bridge: marshal response: %w", err)
		}
		if _, err := out.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("bridge: write response: %w", err)
		}
	}
	return scanner.Err()
}

type rpcErrorEnvelope struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Error   *rpcErrorBody  `json:"error,omitempty"`
	Result  any            `json:"result,omitempty"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// forward posts a raw JSON-RPC request line to the endpoint and returns
// the decoded response, turning any transport-level failure into a
// JSON-RPC error response rather than exiting the bridge process.
func (b *Bridge) forward(ctx context.Context, line []byte) *rpcErrorEnvelope {
	id := extractID(line)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(line))
	if err != nil {
		return transportError(id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.sessionID != "" {
		req.Header.Set("X-CCMaster-Session-ID", b.sessionID)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return transportError(id, err)
	}
	defer resp.Body.Close()

	var envelope rpcErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return transportError(id, err)
	}
	return &envelope
}

func (b *Bridge) probe(ctx context.Context) error {
	line, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "tools/list", "id": 0})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(line))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, b.endpoint)
	}
	return nil
}

func transportError(id any, err error) *rpcErrorEnvelope {
	return &rpcErrorEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcErrorBody{Code: -32603, Message: "bridge transport error: " + err.Error()},
	}
}

func extractID(line []byte) any {
	var probe struct {
		ID any `json:"id"`
	}
	_ = json.Unmarshal(line, &probe)
	return probe.ID
}

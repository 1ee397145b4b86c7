package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRPC(t *testing.T, srv *httptest.Server, req Request) *Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func TestDispatcherToolsListAndCall(t *testing.T) {
	d := newTestDeps(t)
	disp := NewDispatcher(d, nil)
	srv := httptest.NewServer(disp.Handler())
	defer srv.Close()

	listResp := doRPC(t, srv, Request{JSONRPC: "2.0", Method: "tools/list", ID: 1})
	require.Nil(t, listResp.Error)
	raw, err := json.Marshal(listResp.Result)
	require.NoError(t, err)
	var listResult ToolsListResult
	require.NoError(t, json.Unmarshal(raw, &listResult))
	names := make([]string, 0, len(listResult.Tools))
	for _, tool := range listResult.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "session")
	assert.Contains(t, names, "communicate")
	assert.Contains(t, names, "team")
	assert.Contains(t, names, "job")

	activateSession(d, "s1", "")
	params, _ := json.Marshal(ToolsCallParams{
		Name:      "list_sessions",
		Arguments: json.RawMessage(`{"include_ended": true}`),
	})
	callResp := doRPC(t, srv, Request{JSONRPC: "2.0", Method: "tools/call", ID: 2, Params: params})
	require.Nil(t, callResp.Error)
}

func TestDispatcherUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := newTestDeps(t)
	disp := NewDispatcher(d, nil)
	srv := httptest.NewServer(disp.Handler())
	defer srv.Close()

	resp := doRPC(t, srv, Request{JSONRPC: "2.0", Method: "nonexistent", ID: 3})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestDispatcherInvalidRequestRejected(t *testing.T) {
	d := newTestDeps(t)
	disp := NewDispatcher(d, nil)
	srv := httptest.NewServer(disp.Handler())
	defer srv.Close()

	resp := doRPC(t, srv, Request{JSONRPC: "1.0", Method: "tools/list", ID: 4})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestDispatcherCORSPreflight(t *testing.T) {
	d := newTestDeps(t)
	disp := NewDispatcher(d, nil)
	srv := httptest.NewServer(disp.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDispatcherToolNotFound(t *testing.T) {
	d := newTestDeps(t)
	disp := NewDispatcher(d, nil)
	srv := httptest.NewServer(disp.Handler())
	defer srv.Close()

	params, _ := json.Marshal(ToolsCallParams{Name: "does_not_exist", Arguments: nil})
	resp := doRPC(t, srv, Request{JSONRPC: "2.0", Method: "tools/call", ID: 5, Params: params})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobToolSendListCompleteThroughDispatch(t *testing.T) {
	d := newTestDeps(t)
	reg := RegisterTools(d)
	ctx := WithCaller(context.Background(), "caller")

	result, found, err := reg.Call(ctx, "job", mustJSON(t, JobParams{
		Action:     "send_to_session",
		SessionID:  "worker-1",
		Title:      "fix the flaky test",
		Priority:   "p0",
	}))
	require.True(t, found)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var sendOut map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &sendOut))
	job := sendOut["job"].(map[string]any)
	jobID := job["id"].(string)

	result, _, err = reg.Call(ctx, "job", mustJSON(t, JobParams{Action: "list", SessionID: "worker-1"}))
	require.NoError(t, err)
	var listOut map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &listOut))
	assert.EqualValues(t, 1, listOut["count"])

	assigneeCtx := WithCaller(context.Background(), "worker-1")
	result, _, err = reg.Call(assigneeCtx, "job", mustJSON(t, JobParams{Action: "complete", JobID: jobID, Result: "fixed"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, _, err = reg.Call(assigneeCtx, "job", mustJSON(t, JobParams{Action: "complete", JobID: jobID, Result: "again"}))
	require.NoError(t, err)
	var errOut map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &errOut))
	assert.Contains(t, errOut, "error", "completing an already-terminal job must be reported as an error")

	result, _, err = reg.Call(ctx, "job", mustJSON(t, JobParams{Action: "send_to_session", SessionID: "worker-2", Title: "other task"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &sendOut))
	job = sendOut["job"].(map[string]any)
	otherJobID := job["id"].(string)

	result, _, err = reg.Call(ctx, "job", mustJSON(t, JobParams{Action: "complete", JobID: otherJobID, Result: "stolen"}))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &errOut))
	assert.Contains(t, errOut, "error", "completing another session's job must be rejected")
}

func TestSessionToolGetStatusUnknownSession(t *testing.T) {
	d := newTestDeps(t)
	reg := RegisterTools(d)

	result, found, err := reg.Call(context.Background(), "session", mustJSON(t, SessionParams{
		Action:    "get_status",
		SessionID: "does-not-exist",
	}))
	require.True(t, found)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &out))
	assert.Contains(t, out, "error")
}

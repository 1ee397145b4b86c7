package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

// TestListOrdersByPriorityThenCreatedAt exercises scenario S6: jobs
// enqueued p1,p0,p2,p1 come back sorted p0 < p1 < p1 < p2, ties broken by
// creation order.
func TestListOrdersByPriorityThenCreatedAt(t *testing.T) {
	store := newTestStore(t)

	a, err := store.Create("caller", "x", "a", "", P1, nil)
	require.NoError(t, err)
	b, err := store.Create("caller", "x", "b", "", P0, nil)
	require.NoError(t, err)
	c, err := store.Create("caller", "x", "c", "", P2, nil)
	require.NoError(t, err)
	d, err := store.Create("caller", "x", "d", "", P1, nil)
	require.NoError(t, err)

	records, err := store.List("x", nil, "")
	require.NoError(t, err)
	require.Len(t, records, 4)
	gotOrder := []string{records[0].Title, records[1].Title, records[2].Title, records[3].Title}
	assert.Equal(t, []string{"b", "a", "d", "c"}, gotOrder)

	_, err = store.Complete(b.ID, "done", nil)
	require.NoError(t, err)

	done, err := store.List("x", []Status{Done}, "")
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "b", done[0].Title)

	_, err = store.Cancel(b.ID, "caller", "too late")
	require.Error(t, err)

	_, err = store.Cancel(a.ID, "caller", "not needed")
	require.NoError(t, err)

	_ = d
	_ = c
}

func TestCompleteRequiresNonTerminalJob(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Create("caller", "x", "job", "", P1, nil)
	require.NoError(t, err)

	_, err = store.Complete(rec.ID, "ok", nil)
	require.NoError(t, err)

	_, err = store.Complete(rec.ID, "ok again", nil)
	require.Error(t, err)
}

func TestCancelOnlyLegalFromNonTerminalStates(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Create("caller", "x", "job", "", P1, nil)
	require.NoError(t, err)

	_, err = store.Cancel(rec.ID, "caller", "changed mind")
	require.NoError(t, err)

	_, err = store.Cancel(rec.ID, "caller", "again")
	require.Error(t, err)
}

func TestMarkDoingRequiresPending(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Create("caller", "x", "job", "", P1, nil)
	require.NoError(t, err)

	_, err = store.MarkDoing(rec.ID)
	require.NoError(t, err)

	_, err = store.MarkDoing(rec.ID)
	require.Error(t, err)
}

// TestResolveDependenciesAcrossQueues exercises get_status's dependency
// resolution: it searches every assignee's queue, not just the
// caller's, and reports not_found for an unknown id.
func TestResolveDependenciesAcrossQueues(t *testing.T) {
	store := newTestStore(t)

	dep, err := store.Create("caller", "other-session", "dep", "", P1, nil)
	require.NoError(t, err)

	resolved := store.ResolveDependencies([]string{dep.ID, "unknown-id"})
	require.Len(t, resolved, 2)
	assert.Equal(t, string(Pending), resolved[0].Status)
	assert.Equal(t, "not_found", resolved[1].Status)
}

func TestGetFindsJobAcrossAnyAssignee(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Create("caller", "assignee-a", "job", "", P1, nil)
	require.NoError(t, err)

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "assignee-a", got.AssignedTo)
}

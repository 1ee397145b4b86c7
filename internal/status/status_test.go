package status

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("s1", Record{State: EventProcessing, LastTool: "", Prompt: "hello"}))

	rec, mtime, err := store.Read("s1")
	require.NoError(t, err)
	assert.Equal(t, EventProcessing, rec.State)
	assert.Equal(t, "hello", rec.Prompt)
	assert.False(t, mtime.IsZero())
}

func TestWriteUsesRenameNotInPlaceEdit(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("s1", Record{State: EventWorking}))
	// No leftover .tmp file after a successful write.
	_, err = os.Stat(filepath.Join(store.Dir(), "s1.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadMissingSessionIsSoftError(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Read("never-written")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestLastWriterWins(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("s1", Record{State: EventWorking}))
	require.NoError(t, store.Write("s1", Record{State: EventIdle}))

	rec, _, err := store.Read("s1")
	require.NoError(t, err)
	assert.Equal(t, EventIdle, rec.State)
}

func TestRemoveIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("s1", Record{State: EventIdle}))
	require.NoError(t, store.Remove("s1"))
	require.NoError(t, store.Remove("s1")) // missing file is not an error

	_, _, err = store.Read("s1")
	require.Error(t, err)
}

package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/ccmaster/internal/status"
)

func TestIngestEmitsEventOnStatusWrite(t *testing.T) {
	store, err := status.New(t.TempDir())
	require.NoError(t, err)

	ingest := New(store, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ingest.Run(ctx)

	require.NoError(t, store.Write("s1", status.Record{State: status.EventProcessing}))

	select {
	case ev := <-ingest.Events():
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, status.EventProcessing, ev.Record.State)
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe event within timeout")
	}
}

func TestIngestDoesNotReemitUnchangedFile(t *testing.T) {
	store, err := status.New(t.TempDir())
	require.NoError(t, err)

	ingest := New(store, 15*time.Millisecond, nil)
	require.NoError(t, store.Write("s1", status.Record{State: status.EventIdle}))

	ingest.pollOnce()
	select {
	case <-ingest.Events():
	default:
		t.Fatal("expected first poll to emit")
	}

	ingest.pollOnce()
	select {
	case ev := <-ingest.Events():
		t.Fatalf("unexpected re-emission: %+v", ev)
	case <-time.After(100 * time.Millisecond):
		// expected: no second event for an unchanged mtime
	}
}

func TestIngestClosesChannelOnContextCancel(t *testing.T) {
	store, err := status.New(t.TempDir())
	require.NoError(t, err)

	ingest := New(store, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go ingest.Run(ctx)
	cancel()

	select {
	case _, ok := <-ingest.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
}

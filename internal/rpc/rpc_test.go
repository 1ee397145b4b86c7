package rpc

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bazelment/ccmaster/internal/jobqueue"
	"github.com/bazelment/ccmaster/internal/lifecycle"
	"github.com/bazelment/ccmaster/internal/mailbox"
	"github.com/bazelment/ccmaster/internal/registry"
	"github.com/bazelment/ccmaster/internal/status"
)

type fakeLauncher struct{ n int }

func (f *fakeLauncher) Launch(sessionID, workingDir string, argv, env []string) (string, error) {
	f.n++
	return "handle-" + sessionID, nil
}
func (f *fakeLauncher) Kill(handle string) error { return nil }

type fakeInjector struct{ sent []string }

func (f *fakeInjector) Inject(handle, text string) error {
	f.sent = append(f.sent, handle+":"+text)
	return nil
}

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	reg := registry.New("")
	st, err := status.New(t.TempDir())
	require.NoError(t, err)
	mail, err := mailbox.New(t.TempDir())
	require.NoError(t, err)
	jobs, err := jobqueue.New(t.TempDir())
	require.NoError(t, err)
	lm := lifecycle.New(reg, st, &fakeLauncher{}, &fakeInjector{}, nil, nil, "", "")

	return &Deps{
		Registry:  reg,
		Lifecycle: lm,
		Mail:      mail,
		Jobs:      jobs,
		LogsDir:   t.TempDir(),
		Log:       slog.Default(),
	}
}

// activateSession creates a session directly in the registry in an Active,
// Idle state, bypassing Lifecycle.Create's launcher dependency, for tests
// that only care about dispatch over an already-running worker.
func activateSession(d *Deps, id, identity string) {
	d.Registry.Create(&registry.Session{
		ID:           id,
		Status:       registry.Active,
		CurrentState: registry.StateIdle,
		Identity:     identity,
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOnlyOverriddenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: 127.0.0.1:9999\npoll_interval: 500ms\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, Default().ContinuePayload, cfg.ContinuePayload)
	assert.Equal(t, Default().DefaultArgv, cfg.DefaultArgv)
}

func TestDerivedPathsNestUnderStateDir(t *testing.T) {
	cfg := Config{StateDir: "/tmp/ccmaster-state", LogsDir: "/tmp/ccmaster-logs"}
	assert.Equal(t, "/tmp/ccmaster-state/status", cfg.StatusDir())
	assert.Equal(t, "/tmp/ccmaster-state/mailbox", cfg.MailDir())
	assert.Equal(t, "/tmp/ccmaster-state/job_queue", cfg.JobsDir())
	assert.Equal(t, "/tmp/ccmaster-state/sessions.json", cfg.SnapshotPath())
	assert.Equal(t, "/tmp/ccmaster-logs/s1.log", cfg.SessionLogPath("s1"))
	assert.Equal(t, "/tmp/ccmaster-logs/s1_prompts.log", cfg.PromptsLogPath("s1"))
}

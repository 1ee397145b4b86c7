// Package config loads the supervisor's YAML configuration file, the way
// medivac and fixer load their tracker/session-dir settings: a handful of
// typed fields with built-in defaults, overridden by whatever fields the
// file sets. No command-line flag overrides an individual field.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full on-disk shape of ~/.ccmaster/config.yaml.
type Config struct {
	// ListenAddr is the loopback address the RPC Dispatcher binds to.
	ListenAddr string `yaml:"listen_addr"`
	// StateDir holds the status directory, mailbox root, job queue root,
	// and registry snapshot file.
	StateDir string `yaml:"state_dir"`
	// LogsDir holds one append-only log file per session, read by the
	// get_session_logs tool.
	LogsDir string `yaml:"logs_dir"`
	// PollInterval is the Hook Ingest fallback poll period.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ContinuePayload is the text injected by the Auto-Continue Scheduler.
	ContinuePayload string `yaml:"continue_payload"`
	// DefaultArgv is loaded and merged like the other fields, but nothing
	// reads it: session.create and spawn_temp run "claude" when the call
	// omits a command, whatever this field holds.
	DefaultArgv []string `yaml:"default_argv"`
}

// Default returns the built-in configuration, used as-is when no config
// file is present.
func Default() Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".ccmaster")
	return Config{
		ListenAddr:      "127.0.0.1:8737",
		StateDir:        root,
		LogsDir:         filepath.Join(root, "logs"),
		PollInterval:    175 * time.Millisecond,
		ContinuePayload: "continue",
		DefaultArgv:     []string{"claude"},
	}
}

// DefaultPath returns ~/.ccmaster/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ccmaster", "config.yaml")
}

// Load reads path, merging its fields over Default(). A missing file is
// not an error: it means "use the built-in defaults".
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var onDisk Config
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeOver(&cfg, onDisk)
	return cfg, nil
}

// mergeOver copies every non-zero field of override onto base.
func mergeOver(base *Config, override Config) {
	if override.ListenAddr != "" {
		base.ListenAddr = override.ListenAddr
	}
	if override.StateDir != "" {
		base.StateDir = override.StateDir
	}
	if override.LogsDir != "" {
		base.LogsDir = override.LogsDir
	}
	if override.PollInterval != 0 {
		base.PollInterval = override.PollInterval
	}
	if override.ContinuePayload != "" {
		base.ContinuePayload = override.ContinuePayload
	}
	if len(override.DefaultArgv) > 0 {
		base.DefaultArgv = override.DefaultArgv
	}
}

// StatusDir returns the on-disk Status Store directory under StateDir.
func (c Config) StatusDir() string { return filepath.Join(c.StateDir, "status") }

// MailDir returns the on-disk Mailbox root under StateDir.
func (c Config) MailDir() string { return filepath.Join(c.StateDir, "mailbox") }

// JobsDir returns the on-disk Job Queue root under StateDir.
func (c Config) JobsDir() string { return filepath.Join(c.StateDir, "job_queue") }

// SnapshotPath returns the Registry's snapshot file path under StateDir.
func (c Config) SnapshotPath() string { return filepath.Join(c.StateDir, "sessions.json") }

// HookErrorsLogPath returns the diagnostics file hook invocations append
// to on internal error. Hooks must be noisy only to their own log file,
// never to stdout/stderr visible to the worker.
func (c Config) HookErrorsLogPath() string { return filepath.Join(c.StateDir, "hook_errors.log") }

// PromptDebugLogPath returns the raw-payload debug log the user_prompt_submit
// hook appends every invocation's full JSON payload to, mirroring the
// original Python hook's Path.home()/'.ccmaster'/'user_prompt_debug.log'.
func (c Config) PromptDebugLogPath() string {
	return filepath.Join(c.StateDir, "user_prompt_debug.log")
}

// PromptsLogPath returns the JSONL log of one session's submitted user
// prompts, distinct from its general event log.
func (c Config) PromptsLogPath(sessionID string) string {
	return filepath.Join(c.LogsDir, sessionID+"_prompts.log")
}

// SessionLogPath returns the append-only general event log for sessionID.
func (c Config) SessionLogPath(sessionID string) string {
	return filepath.Join(c.LogsDir, sessionID+".log")
}

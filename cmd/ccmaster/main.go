// Command ccmaster supervises long-running interactive coding-assistant
// worker sessions: it launches them in a pty, watches their Claude Code
// hook output, auto-continues sessions in watch mode, and exposes mail,
// job-queue, and team-coordination tools over a loopback JSON-RPC endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bazelment/ccmaster/internal/bridge"
	"github.com/bazelment/ccmaster/internal/config"
	"github.com/bazelment/ccmaster/internal/status"
	"github.com/bazelment/ccmaster/internal/supervisor"
)

var (
	configPath string
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:   "ccmaster",
	Short: "Supervisor for long-running interactive coding-assistant sessions",
	Long: `ccmaster launches and watches worker terminals running an
interactive coding assistant, auto-continuing them under a turn budget
and exposing session control, mail, and job-queue tools to every
worker over a single JSON-RPC endpoint.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: ~/.ccmaster/config.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v, -vv)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(bridgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// verbosityLevel maps the -v count to a slog.Level.
func verbosityLevel() slog.Level {
	switch {
	case verbosity >= 2:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: verbosityLevel()}))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor: hook ingest, auto-continue scheduler, and RPC dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log := newLogger()

		sup, err := supervisor.New(cfg, log)
		if err != nil {
			return fmt.Errorf("ccmaster: %w", err)
		}

		ctx, cancel := setupSignalContext()
		defer cancel()
		return sup.Run(ctx)
	},
}

// setupSignalContext returns a context cancelled on the first SIGINT/SIGTERM.
// A second signal forces an immediate exit.
func setupSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived signal %v, shutting down\n", sig)
		cancel()
		sig = <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived second signal %v, forcing exit\n", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}

var hookCmd = &cobra.Command{
	Use:   "hook <event-type> <session-id>",
	Short: "Invoked by the worker's hook configuration on each lifecycle event",
	Long: `hook is the tiny standalone binary registered as the Claude Code
hook command for user_prompt_submit, pre_tool_use, post_tool_use, and
stop. It reads the hook's JSON payload from stdin, writes a status
record for the Hook Ingest poller, and prints a single JSON line
granting the action before exiting 0.

Per the worker-interference contract, this command never exits nonzero
and never writes anything but the single JSON acknowledgment to stdout:
any internal failure is appended to hook_errors.log instead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, sessionID := args[0], args[1]

		cfg, err := config.Load(configPath)
		if err != nil {
			// Even config load failure must not surface to the worker.
			appendHookError(config.Default(), eventType, sessionID, err)
			return emitAck(eventType)
		}

		var payload map[string]any
		raw, _ := io.ReadAll(os.Stdin)
		_ = json.Unmarshal(raw, &payload)

		if err := runHook(cfg, eventType, sessionID, payload); err != nil {
			appendHookError(cfg, eventType, sessionID, err)
		}

		return emitAck(eventType)
	},
}

// emitAck prints the single JSON line the hook contract requires and
// always returns nil so cobra exits 0 regardless of what runHook saw.
func emitAck(eventType string) error {
	allow := map[string]any{"status": "ok"}
	if eventType == "stop" {
		allow = map[string]any{"allow": true}
	}
	_ = json.NewEncoder(os.Stdout).Encode(allow)
	return nil
}

// appendHookError is the only place a hook invocation is allowed to be
// noisy: hook_errors.log, never stdout/stderr the worker can see.
func appendHookError(cfg config.Config, eventType, sessionID string, cause error) {
	path := cfg.HookErrorsLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s event=%s session=%s err=%v\n", time.Now().Format(time.RFC3339Nano), eventType, sessionID, cause)
}

// runHook translates one hook invocation into a status.Record write,
// matching each Python hook script's update_status call one for one.
func runHook(cfg config.Config, eventType, sessionID string, payload map[string]any) error {
	store, err := status.New(cfg.StatusDir())
	if err != nil {
		return err
	}
	switch eventType {
	case "user_prompt_submit":
		appendPromptDebugLog(cfg, sessionID, payload)
		prompt, _ := payload["prompt"].(string)
		if err := appendPromptLog(cfg, sessionID, prompt); err != nil {
			return err
		}
		return store.Write(sessionID, status.Record{State: status.EventProcessing, CurrentAction: "Processing user prompt", Prompt: prompt})
	case "pre_tool_use":
		tool, _ := payload["tool_name"].(string)
		if tool == "" {
			tool = "unknown"
		}
		return store.Write(sessionID, status.Record{State: status.EventWorking, LastTool: tool, CurrentAction: "Using " + tool})
	case "post_tool_use":
		// Idle detection is the stop hook's job; the completed_tool record
		// is ignored for state by the Scheduler.
		if err := appendToolLog(cfg, sessionID, payload); err != nil {
			return err
		}
		return store.Write(sessionID, status.Record{State: status.EventCompletedTool, CurrentAction: "Tool completed"})
	case "stop":
		return store.Write(sessionID, status.Record{State: status.EventIdle, CurrentAction: "Response complete"})
	default:
		return fmt.Errorf("ccmaster hook: unknown event type %q", eventType)
	}
}

// appendPromptDebugLog mirrors the original user_prompt_submit.py hook's
// full-payload debug dump to ~/.ccmaster/user_prompt_debug.log.
func appendPromptDebugLog(cfg config.Config, sessionID string, payload map[string]any) {
	path := cfg.PromptDebugLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	full, _ := json.MarshalIndent(payload, "", "  ")
	fmt.Fprintf(f, "\n--- UserPromptSubmit Hook ---\nSession: %s\nData keys: %v\nFull data: %s\n", sessionID, keys, full)
}

func appendPromptLog(cfg config.Config, sessionID, prompt string) error {
	return appendLogLine(cfg.PromptsLogPath(sessionID), map[string]any{"timestamp": time.Now().Format(time.RFC3339Nano), "prompt": prompt})
}

func appendToolLog(cfg config.Config, sessionID string, payload map[string]any) error {
	tool, _ := payload["tool"].(map[string]any)
	name, _ := tool["name"].(string)
	if name == "" {
		name = "unknown"
	}
	return appendLogLine(cfg.SessionLogPath(sessionID), map[string]any{"timestamp": time.Now().Format(time.RFC3339Nano), "tool": name})
}

func appendLogLine(path string, entry map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

var (
	bridgeEndpoint  string
	bridgeSessionID string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Forward stdio JSON-RPC traffic from a worker's MCP client to the supervisor",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bridgeSessionID == "" {
			bridgeSessionID = os.Getenv("CCMASTER_SESSION_ID")
		}
		b := bridge.New(bridgeEndpoint, bridgeSessionID)
		ctx, cancel := setupSignalContext()
		defer cancel()
		return b.Run(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeEndpoint, "endpoint", "http://127.0.0.1:8737/rpc", "Supervisor RPC endpoint")
	bridgeCmd.Flags().StringVar(&bridgeSessionID, "session-id", "", "Caller session id (default: $CCMASTER_SESSION_ID)")
}

// Package hookconfig writes the per-worker configuration files the
// Session Lifecycle Manager must produce before launching a worker: a
// settings file registering the four lifecycle hooks, and a
// project-level MCP/RPC configuration pointing the worker at the
// supervisor's loopback endpoint via the Bridge. Both writers merge
// into any existing file rather than overwriting it.
package hookconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// hookEntry is one "hooks" array entry in Claude Code's settings schema.
type hookEntry struct {
	Hooks []hookCommand `json:"hooks"`
}

type hookCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type settingsFile struct {
	Hooks map[string][]hookEntry `json:"hooks"`
}

// MCPServerConfig is one server entry in a project's .mcp.json, in the
// stdio-transport shape Claude CLI expects.
type MCPServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type mcpConfigFile struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// Write emits <workingDir>/.claude/settings.local.json (the four hooks,
// each invoking `ccmasterBinary hook <event> <sessionID>`) and
// <workingDir>/.mcp.json (a single "ccmaster" stdio server entry running
// `ccmasterBinary bridge --endpoint <rpcEndpoint> --session-id <sessionID>`),
// both merged over any pre-existing content rather than clobbering it.
func Write(workingDir, ccmasterBinary, sessionID, rpcEndpoint string) error {
	if err := writeSettings(workingDir, ccmasterBinary, sessionID); err != nil {
		return fmt.Errorf("hookconfig: settings: %w", err)
	}
	if err := writeMCPConfig(workingDir, ccmasterBinary, sessionID, rpcEndpoint); err != nil {
		return fmt.Errorf("hookconfig: mcp config: %w", err)
	}
	return nil
}

func writeSettings(workingDir, ccmasterBinary, sessionID string) error {
	claudeDir := filepath.Join(workingDir, ".claude")
	path := filepath.Join(claudeDir, "settings.local.json")

	settings := settingsFile{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &settings)
	}
	if settings.Hooks == nil {
		settings.Hooks = map[string][]hookEntry{}
	}

	cmd := func(event string) string {
		return fmt.Sprintf("%s hook %s %s", ccmasterBinary, event, sessionID)
	}
	settings.Hooks["UserPromptSubmit"] = []hookEntry{{Hooks: []hookCommand{{Type: "command", Command: cmd("user_prompt_submit"), Timeout: 5}}}}
	settings.Hooks["PreToolUse"] = []hookEntry{{Hooks: []hookCommand{{Type: "command", Command: cmd("pre_tool_use"), Timeout: 5}}}}
	settings.Hooks["PostToolUse"] = []hookEntry{{Hooks: []hookCommand{{Type: "command", Command: cmd("post_tool_use"), Timeout: 5}}}}
	settings.Hooks["Stop"] = []hookEntry{{Hooks: []hookCommand{{Type: "command", Command: cmd("stop"), Timeout: 5}}}}

	return writeJSON(claudeDir, path, settings)
}

func writeMCPConfig(workingDir, ccmasterBinary, sessionID, rpcEndpoint string) error {
	path := filepath.Join(workingDir, ".mcp.json")

	cfg := mcpConfigFile{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]MCPServerConfig{}
	}

	cfg.MCPServers["ccmaster"] = MCPServerConfig{
		Command: ccmasterBinary,
		Args:    []string{"bridge", "--endpoint", rpcEndpoint, "--session-id", sessionID},
		Env:     map[string]string{"CCMASTER_SESSION_ID": sessionID},
	}

	return writeJSON(workingDir, path, cfg)
}

func writeJSON(dir, path string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

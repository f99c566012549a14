package claudecode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
)

// Claude Code hook names - these become subcommands under
// `sentinel hooks claude-code`.
const (
	HookNameSessionStart = "session-start"
	HookNamePreToolUse   = "pre-tool-use"
)

// ClaudeSettingsFileName is the settings file used by Claude Code.
const ClaudeSettingsFileName = "settings.json"

// HookNames returns the hook verbs Claude Code supports.
// These become subcommands: sentinel hooks claude-code <verb>
func (c *ClaudeCodeAgent) HookNames() []string {
	return []string{
		HookNameSessionStart,
		HookNamePreToolUse,
	}
}

// sentinelHookPrefixes are command prefixes that identify Sentinel hooks.
var sentinelHookPrefixes = []string{
	"sentinel ",
	"go run ${CLAUDE_PROJECT_DIR}/cmd/sentinel/main.go ",
}

func hookCommand(localDev bool, verb string) string {
	if localDev {
		return "go run ${CLAUDE_PROJECT_DIR}/cmd/sentinel/main.go hooks claude-code " + verb
	}
	return "sentinel hooks claude-code " + verb
}

// InstallHooks installs Sentinel hooks in .claude/settings.json.
// The PreToolUse hook is registered with an empty matcher so every tool
// invocation passes through the approval gate.
// Returns the number of hooks installed.
func (c *ClaudeCodeAgent) InstallHooks(localDev bool) (int, error) {
	settingsPath, err := settingsPath()
	if err != nil {
		return 0, err
	}

	// Read existing settings, preserving fields we do not manage.
	var settings ClaudeSettings
	var rawSettings map[string]json.RawMessage

	existingData, readErr := os.ReadFile(settingsPath) //nolint:gosec // path is constructed from repo root + fixed path
	if readErr == nil {
		if err := json.Unmarshal(existingData, &rawSettings); err != nil {
			return 0, fmt.Errorf("failed to parse existing settings.json: %w", err)
		}
		if hooksRaw, ok := rawSettings["hooks"]; ok {
			if err := json.Unmarshal(hooksRaw, &settings.Hooks); err != nil {
				return 0, fmt.Errorf("failed to parse hooks in settings.json: %w", err)
			}
		}
	} else {
		rawSettings = make(map[string]json.RawMessage)
	}

	sessionStartCmd := hookCommand(localDev, HookNameSessionStart)
	preToolUseCmd := hookCommand(localDev, HookNamePreToolUse)

	count := 0
	if !hookCommandExists(settings.Hooks.SessionStart, sessionStartCmd) {
		settings.Hooks.SessionStart = addHookToMatcher(settings.Hooks.SessionStart, "", sessionStartCmd)
		count++
	}
	if !hookCommandExists(settings.Hooks.PreToolUse, preToolUseCmd) {
		settings.Hooks.PreToolUse = addHookToMatcher(settings.Hooks.PreToolUse, "", preToolUseCmd)
		count++
	}

	if count == 0 {
		return 0, nil // Already installed
	}

	hooksJSON, err := json.Marshal(settings.Hooks)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksJSON

	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create .claude directory: %w", err)
	}

	output, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, output, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write settings.json: %w", err)
	}

	return count, nil
}

// UninstallHooks removes Sentinel hooks from Claude Code settings,
// leaving other hooks in place.
func (c *ClaudeCodeAgent) UninstallHooks() error {
	settingsPath, err := settingsPath()
	if err != nil {
		return err
	}

	var settings ClaudeSettings
	var rawSettings map[string]json.RawMessage

	existingData, err := os.ReadFile(settingsPath) //nolint:gosec // path is constructed from repo root + fixed path
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Nothing to uninstall
		}
		return fmt.Errorf("failed to read settings.json: %w", err)
	}
	if err := json.Unmarshal(existingData, &rawSettings); err != nil {
		return fmt.Errorf("failed to parse settings.json: %w", err)
	}
	if hooksRaw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, &settings.Hooks); err != nil {
			return fmt.Errorf("failed to parse hooks in settings.json: %w", err)
		}
	}

	settings.Hooks.SessionStart = removeSentinelHooks(settings.Hooks.SessionStart)
	settings.Hooks.PreToolUse = removeSentinelHooks(settings.Hooks.PreToolUse)
	settings.Hooks.Stop = removeSentinelHooks(settings.Hooks.Stop)

	hooksJSON, err := json.Marshal(settings.Hooks)
	if err != nil {
		return fmt.Errorf("failed to marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksJSON

	output, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, output, 0o600); err != nil {
		return fmt.Errorf("failed to write settings.json: %w", err)
	}

	return nil
}

// AreHooksInstalled checks if Sentinel hooks are installed.
func (c *ClaudeCodeAgent) AreHooksInstalled() bool {
	settingsPath, err := settingsPath()
	if err != nil {
		return false
	}
	data, err := os.ReadFile(settingsPath) //nolint:gosec // path is constructed from repo root + fixed path
	if err != nil {
		return false
	}

	var settings ClaudeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return false
	}

	return hookCommandExists(settings.Hooks.PreToolUse, hookCommand(false, HookNamePreToolUse)) ||
		hookCommandExists(settings.Hooks.PreToolUse, hookCommand(true, HookNamePreToolUse))
}

// settingsPath locates .claude/settings.json relative to the repo root,
// falling back to the working directory outside a git repo.
func settingsPath() (string, error) {
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		repoRoot, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	return filepath.Join(repoRoot, ".claude", ClaudeSettingsFileName), nil
}

// Helper functions for hook management

func hookCommandExists(matchers []ClaudeHookMatcher, command string) bool {
	for _, matcher := range matchers {
		for _, hook := range matcher.Hooks {
			if hook.Command == command {
				return true
			}
		}
	}
	return false
}

func addHookToMatcher(matchers []ClaudeHookMatcher, matcherName, command string) []ClaudeHookMatcher {
	entry := ClaudeHookEntry{
		Type:    "command",
		Command: command,
	}

	for i, matcher := range matchers {
		if matcher.Matcher == matcherName {
			matchers[i].Hooks = append(matchers[i].Hooks, entry)
			return matchers
		}
	}

	return append(matchers, ClaudeHookMatcher{
		Matcher: matcherName,
		Hooks:   []ClaudeHookEntry{entry},
	})
}

// isSentinelHook checks if a command was installed by Sentinel.
func isSentinelHook(command string) bool {
	for _, prefix := range sentinelHookPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}

// removeSentinelHooks strips Sentinel hooks from a list of matchers,
// dropping matchers that end up empty.
func removeSentinelHooks(matchers []ClaudeHookMatcher) []ClaudeHookMatcher {
	result := make([]ClaudeHookMatcher, 0, len(matchers))
	for _, matcher := range matchers {
		filtered := make([]ClaudeHookEntry, 0, len(matcher.Hooks))
		for _, hook := range matcher.Hooks {
			if !isSentinelHook(hook.Command) {
				filtered = append(filtered, hook)
			}
		}
		if len(filtered) > 0 {
			matcher.Hooks = filtered
			result = append(result, matcher)
		}
	}
	return result
}

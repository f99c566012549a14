// Package claudecode implements the Agent interface for Claude Code.
package claudecode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
)

// Ensure ClaudeCodeAgent implements Agent
var _ agent.Agent = (*ClaudeCodeAgent)(nil)

//nolint:gochecknoinits // Agent self-registration is the intended pattern
func init() {
	agent.Register(agent.AgentNameClaudeCode, NewClaudeCodeAgent)
}

// ClaudeCodeAgent implements the Agent interface for Claude Code.
//
//nolint:revive // ClaudeCodeAgent is clearer than Agent in this context
type ClaudeCodeAgent struct{}

// NewClaudeCodeAgent creates a new Claude Code agent instance.
//
//nolint:ireturn // Registry factory returns the interface
func NewClaudeCodeAgent() agent.Agent {
	return &ClaudeCodeAgent{}
}

// Name returns the agent identifier.
func (c *ClaudeCodeAgent) Name() string {
	return agent.AgentNameClaudeCode
}

// Description returns a human-readable description.
func (c *ClaudeCodeAgent) Description() string {
	return "Claude Code - Anthropic's CLI coding assistant"
}

// DetectPresence checks if Claude Code is configured in the repository.
func (c *ClaudeCodeAgent) DetectPresence() (bool, error) {
	// Repo root, not CWD: the CLI may run from a subdirectory.
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		repoRoot = "."
	}

	if _, err := os.Stat(filepath.Join(repoRoot, ".claude")); err == nil {
		return true, nil
	}
	return false, nil
}

// ParseHookInput parses Claude Code hook input from stdin.
func (c *ClaudeCodeAgent) ParseHookInput(hookType agent.HookType, reader io.Reader) (*agent.HookInput, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	input := &agent.HookInput{HookType: hookType}

	switch hookType {
	case agent.HookSessionStart, agent.HookStop:
		var raw sessionInfoRaw
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse session info: %w", err)
		}
		input.SessionID = raw.SessionID
		input.TranscriptPath = raw.TranscriptPath
		input.Cwd = raw.Cwd

	case agent.HookPreToolUse:
		var raw preToolUseRaw
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse pre-tool input: %w", err)
		}
		input.SessionID = raw.SessionID
		input.TranscriptPath = raw.TranscriptPath
		input.Cwd = raw.Cwd
		input.ToolName = raw.ToolName
		input.ToolUseID = raw.ToolUseID
		input.ToolInput = raw.ToolInput
	}

	return input, nil
}

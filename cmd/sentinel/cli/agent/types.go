package agent

import "encoding/json"

// HookType represents agent lifecycle events.
type HookType string

const (
	HookSessionStart HookType = "session_start"
	HookPreToolUse   HookType = "pre_tool_use"
	HookStop         HookType = "stop"
)

// HookInput contains normalized data from hook callbacks. Field mapping
// from the agent's native schema happens in the agent implementations.
type HookInput struct {
	HookType HookType

	// SessionID identifies one continuous host agent process instance.
	SessionID string

	// TranscriptPath is the agent's append-only transcript file.
	TranscriptPath string

	// Cwd is the working directory the agent runs in.
	Cwd string

	// Tool fields (PreToolUse only).
	ToolName  string
	ToolUseID string
	ToolInput json.RawMessage
}

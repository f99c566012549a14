package claudecode

import "encoding/json"

// ClaudeSettings represents the .claude/settings.json structure
type ClaudeSettings struct {
	Hooks ClaudeHooks `json:"hooks"`
}

// ClaudeHooks contains the hook configurations
type ClaudeHooks struct {
	SessionStart []ClaudeHookMatcher `json:"SessionStart,omitempty"`
	PreToolUse   []ClaudeHookMatcher `json:"PreToolUse,omitempty"`
	Stop         []ClaudeHookMatcher `json:"Stop,omitempty"`
}

// ClaudeHookMatcher matches hooks to specific tool patterns
type ClaudeHookMatcher struct {
	Matcher string            `json:"matcher"`
	Hooks   []ClaudeHookEntry `json:"hooks"`
}

// ClaudeHookEntry represents a single hook command
type ClaudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// sessionInfoRaw is the JSON structure from SessionStart/Stop hooks
type sessionInfoRaw struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Cwd            string `json:"cwd"`
}

// preToolUseRaw is the JSON structure from PreToolUse hooks
type preToolUseRaw struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path"`
	Cwd            string          `json:"cwd"`
	ToolName       string          `json:"tool_name"`
	ToolUseID      string          `json:"tool_use_id"`
	ToolInput      json.RawMessage `json:"tool_input"`
}

package approval

import "encoding/json"

// Behavior is the server's verdict on a requested action.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
)

// DecisionRequest is the body of POST {server}/request. Constructed fresh
// per hook invocation; never persisted.
type DecisionRequest struct {
	// DeviceID identifies the machine the agent runs on.
	DeviceID string `json:"device_id"`

	// RelayID is the correlation ID for one logical agent conversation,
	// stable across hook invocations until the conversation is resumed
	// under a new ID.
	RelayID string `json:"relay_id"`

	// Project is the repository the agent is working in. Optional.
	Project string `json:"project,omitempty"`

	// ToolName is the agent tool about to run (e.g. "Bash", "Edit").
	ToolName string `json:"tool_name"`

	// ToolInput is the tool's input payload, passed through opaquely.
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// Agent tags which coding agent produced the request (e.g. "claude-code").
	Agent string `json:"agent"`
}

// Decision is the body of the server's response to POST {server}/request.
type Decision struct {
	// Behavior is the verdict: allow or deny.
	Behavior Behavior `json:"behavior"`

	// Message is the reviewer's explanation. Shown to the agent on deny.
	Message string `json:"message,omitempty"`

	// UpdatedInput replaces the tool input on allow. Absent means the
	// original input is accepted unmodified.
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`

	// Interrupt asks the host to abort the agent's current turn rather
	// than merely skip the one action.
	Interrupt bool `json:"interrupt,omitempty"`

	// Error is set when the server rejects the request outright.
	// A non-empty Error is always treated as deny.
	Error string `json:"error,omitempty"`
}

// enrollRequest is the body of POST {server}/session/enroll.
// The server's field name for the relay ID is session_id.
type enrollRequest struct {
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`
}

// enrollResponse is the server's answer to an enrollment request.
type enrollResponse struct {
	Approved bool `json:"approved"`
}

// TranscriptEvent is the body of POST {server}/transcript: one transcript
// record forwarded by the streamer worker.
type TranscriptEvent struct {
	DeviceID  string          `json:"device_id"`
	SessionID string          `json:"session_id"`
	Project   string          `json:"project,omitempty"`
	RelayID   string          `json:"relay_id"`
	Data      json.RawMessage `json:"data"`
}

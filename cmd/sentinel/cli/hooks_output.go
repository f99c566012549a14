package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/approval"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
)

// Claude Code PreToolUse permission decisions.
const (
	permissionAllow = "allow"
	permissionDeny  = "deny"
)

// denyExitCode is the exit code Claude Code interprets as a blocking error
// in exit-code mode; stderr carries the reason back to the model.
const denyExitCode = 2

// claudeHookSpecificOutput is the PreToolUse-specific part of the hook
// response JSON.
type claudeHookSpecificOutput struct {
	HookEventName            string          `json:"hookEventName"`
	PermissionDecision       string          `json:"permissionDecision"`
	PermissionDecisionReason string          `json:"permissionDecisionReason,omitempty"`
	UpdatedInput             json.RawMessage `json:"updatedInput,omitempty"`
}

// claudePreToolUseResponse is the full hook response for PreToolUse.
// Continue=false aborts the agent's current turn entirely.
type claudePreToolUseResponse struct {
	HookSpecificOutput claudeHookSpecificOutput `json:"hookSpecificOutput"`
	Continue           *bool                    `json:"continue,omitempty"`
	StopReason         string                   `json:"stopReason,omitempty"`
}

// writePreToolUseOutcome renders the outcome for Claude Code. The default is
// the structured hook JSON on stdout; exit-code mode reports deny through
// exit code 2 with the reason on stderr.
func writePreToolUseOutcome(outcome approval.Outcome, exitCodeMode bool) error {
	if exitCodeMode {
		if outcome.Allowed {
			return nil
		}
		fmt.Fprintln(os.Stderr, outcome.Message)
		logging.Close()
		os.Exit(denyExitCode)
	}

	resp := claudePreToolUseResponse{
		HookSpecificOutput: claudeHookSpecificOutput{
			HookEventName:            "PreToolUse",
			PermissionDecision:       permissionDeny,
			PermissionDecisionReason: outcome.Message,
		},
	}
	if outcome.Allowed {
		resp.HookSpecificOutput.PermissionDecision = permissionAllow
		resp.HookSpecificOutput.UpdatedInput = outcome.UpdatedInput
	}
	if outcome.Interrupt {
		cont := false
		resp.Continue = &cont
		resp.StopReason = outcome.Message
	}

	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode hook response: %w", err)
	}
	return nil
}

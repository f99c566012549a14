package approval

import (
	"encoding/json"
	"fmt"
)

// Outcome is the host-agnostic result of one decision request. Host-specific
// encoders (Claude Code hook JSON, exit codes) render it without further
// decisions of their own.
type Outcome struct {
	// Allowed is true only for an explicit allow verdict.
	Allowed bool

	// Message is the human-readable explanation. Always set on deny.
	Message string

	// UpdatedInput carries the reviewer-modified tool input, verbatim.
	// Only meaningful when Allowed is true; nil means inputs unchanged.
	UpdatedInput json.RawMessage

	// Interrupt asks the host to abort the agent's current turn.
	// Always true for transport failures (fail-closed and stop the agent
	// rather than let it proceed silently).
	Interrupt bool
}

// Render maps a decision (or the error that prevented one) onto the
// caller-visible outcome. The mapping is total: every Decision and every
// transport failure produces exactly one well-formed Outcome.
func Render(decision *Decision, err error) Outcome {
	if err != nil {
		// Transport failures fail closed: deny and stop the agent's turn.
		return Outcome{
			Allowed:   false,
			Message:   fmt.Sprintf("%v; denying", err),
			Interrupt: true,
		}
	}

	if decision == nil {
		// Defensive: a nil decision without an error never happens through
		// Client.Decide, but the mapping stays total.
		return Outcome{
			Allowed:   false,
			Message:   "no decision received from approval server; denying",
			Interrupt: true,
		}
	}

	if decision.Error != "" {
		return Outcome{
			Allowed:   false,
			Message:   decision.Error,
			Interrupt: decision.Interrupt,
		}
	}

	switch decision.Behavior {
	case BehaviorAllow:
		return Outcome{
			Allowed:      true,
			Message:      decision.Message,
			UpdatedInput: decision.UpdatedInput,
		}
	case BehaviorDeny:
		msg := decision.Message
		if msg == "" {
			msg = "denied by approval server"
		}
		return Outcome{
			Allowed:   false,
			Message:   msg,
			Interrupt: decision.Interrupt,
		}
	default:
		// Unknown behaviors fail closed.
		return Outcome{
			Allowed:   false,
			Message:   fmt.Sprintf("unknown behavior %q from approval server; denying", decision.Behavior),
			Interrupt: decision.Interrupt,
		}
	}
}

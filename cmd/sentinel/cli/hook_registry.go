package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent/claudecode"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"

	"github.com/spf13/cobra"
)

// HookHandlerFunc handles a specific hook event. The command is passed so
// handlers can read verb-specific flags.
type HookHandlerFunc func(cmd *cobra.Command) error

// hookRegistry maps (agentName, hookName) to handler functions.
// This lets agents define their hook vocabulary while keeping handler
// logic in the CLI package (avoiding circular dependencies).
var hookRegistry = map[string]map[string]HookHandlerFunc{}

// RegisterHookHandler registers a handler for an agent's hook.
func RegisterHookHandler(agentName, hookName string, handler HookHandlerFunc) {
	if hookRegistry[agentName] == nil {
		hookRegistry[agentName] = make(map[string]HookHandlerFunc)
	}
	hookRegistry[agentName][hookName] = handler
}

// GetHookHandler returns the handler for an agent's hook, or nil if not found.
func GetHookHandler(agentName, hookName string) HookHandlerFunc {
	if handlers, ok := hookRegistry[agentName]; ok {
		return handlers[hookName]
	}
	return nil
}

// init registers Claude Code hook handlers.
//
//nolint:gochecknoinits // Hook handler registration at startup is the intended pattern
func init() {
	RegisterHookHandler(agent.AgentNameClaudeCode, claudecode.HookNameSessionStart, handleClaudeCodeSessionStart)
	RegisterHookHandler(agent.AgentNameClaudeCode, claudecode.HookNamePreToolUse, handleClaudeCodePreToolUse)
}

// currentHookAgentName stores the agent name for the currently executing hook.
// Set by newAgentHookVerbCmd before calling the handler.
var currentHookAgentName string

// GetCurrentHookAgent returns the agent for the currently executing hook,
// based on the hook command structure (e.g., "sentinel hooks claude-code ...").
//
//nolint:ireturn // Registry lookup returns the interface
func GetCurrentHookAgent() (agent.Agent, error) {
	if currentHookAgentName == "" {
		return nil, errors.New("not in a hook context: agent name not set")
	}

	ag, err := agent.Get(currentHookAgentName)
	if err != nil {
		return nil, fmt.Errorf("getting hook agent %q: %w", currentHookAgentName, err)
	}
	return ag, nil
}

// newAgentHooksCmd creates a hooks subcommand for an agent.
// It dynamically creates subcommands for each hook the agent supports,
// plus the hidden detached stream worker command.
func newAgentHooksCmd(ag agent.Agent) *cobra.Command {
	cmd := &cobra.Command{
		Use:    ag.Name(),
		Short:  ag.Description() + " hook handlers",
		Hidden: true,
	}

	for _, hookName := range ag.HookNames() {
		cmd.AddCommand(newAgentHookVerbCmd(ag.Name(), hookName))
	}
	cmd.AddCommand(newStreamWorkerCmd(ag.Name()))

	return cmd
}

// newAgentHookVerbCmd creates a command for a specific hook verb with
// structured logging around the handler.
func newAgentHookVerbCmd(agentName, hookName string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   hookName,
		Short: "Called on " + hookName,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()

			ctx := logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), agentName)

			logging.Debug(ctx, "hook invoked", slog.String("hook", hookName))

			handler := GetHookHandler(agentName, hookName)
			if handler == nil {
				logging.Error(ctx, "no handler registered", slog.String("hook", hookName))
				return fmt.Errorf("no handler registered for %s/%s", agentName, hookName)
			}

			currentHookAgentName = agentName
			defer func() { currentHookAgentName = "" }()

			hookErr := handler(cmd)

			logging.Debug(ctx, "hook completed",
				slog.String("hook", hookName),
				slog.Duration("duration", time.Since(start)),
				slog.Bool("success", hookErr == nil),
			)

			return hookErr
		},
	}

	if hookName == claudecode.HookNamePreToolUse {
		cmd.Flags().Bool("exit-code", false, "Report the decision via exit code (2 = deny) instead of hook JSON")
	}

	return cmd
}

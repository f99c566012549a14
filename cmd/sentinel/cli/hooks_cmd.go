package cli

import (
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent"
	// Import agents to ensure they are registered before we iterate
	_ "github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent/claudecode"

	"github.com/spf13/cobra"
)

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hooks",
		Short:  "Hook handlers",
		Long:   "Commands called by agent hooks. These are internal and not for direct user use.",
		Hidden: true, // Internal command, not for direct user use
	}

	// Dynamically add agent hook subcommands
	for _, agentName := range agent.List() {
		ag, err := agent.Get(agentName)
		if err != nil {
			continue
		}
		cmd.AddCommand(newAgentHooksCmd(ag))
	}

	return cmd
}

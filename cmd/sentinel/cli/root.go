package cli

import (
	"fmt"
	"runtime"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/settings"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/telemetry"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/versioncheck"
	"github.com/spf13/cobra"
)

const gettingStarted = `

Getting Started:
  Run 'sentinel enable' to install the approval hooks for your coding
  agent. Every sensitive action the agent takes is then held until the
  approval server responds.

`

const accessibilityHelp = `
Environment Variables:
  ACCESSIBLE    Set to any value (e.g., ACCESSIBLE=1) to enable accessibility
                mode. This uses simpler text prompts instead of interactive
                TUI elements, which works better with screen readers.
`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Sentinel CLI",
		Long:  "A local mediation point between coding agents and a remote approval server" + gettingStarted + accessibilityHelp,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		// Hide completion command from help but keep it functional
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			// Load telemetry preference from settings (nil defaults to disabled)
			var telemetryEnabled *bool
			enabled := false
			if cfg, err := settings.Load(); err == nil {
				telemetryEnabled = cfg.Telemetry
				enabled = cfg.Enabled
			}

			telemetry.TrackCommandDetached(cmd, telemetryAgentName(cmd), enabled, Version, telemetryEnabled)
			versioncheck.CheckAndNotify(cmd, Version)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newEnableCmd())
	cmd.AddCommand(newDisableCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHooksCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSendAnalyticsCmd())

	return cmd
}

// telemetryAgentName derives the agent tag for usage events: an explicit
// --agent flag wins, then the first agent detected in the repository.
// Empty means the telemetry layer records its "auto" default.
func telemetryAgentName(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("agent"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	for _, name := range agent.List() {
		ag, err := agent.Get(name)
		if err != nil {
			continue
		}
		if present, err := ag.DetectPresence(); err == nil && present {
			return name
		}
	}
	return ""
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("Sentinel CLI %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// newSendAnalyticsCmd creates the hidden command run by the detached
// telemetry subprocess.
func newSendAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:    telemetry.SendCommandName,
		Short:  "Send a telemetry event (internal)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			telemetry.SendEvent(args[0])
		},
	}
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/enrollment"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/settings"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/streamer"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newEnableCmd() *cobra.Command {
	var localDev bool
	var useLocalSettings bool
	var useProjectSettings bool
	var agentName string
	var serverFlag string

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable Sentinel",
		Long:  "Enable Sentinel: install agent hooks and configure the approval server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateSetupFlags(useLocalSettings, useProjectSettings); err != nil {
				return err
			}
			// Non-interactive mode if both --agent and --server are provided
			if agentName != "" && serverFlag != "" {
				return runEnable(cmd.OutOrStdout(), agentName, serverFlag, localDev, useLocalSettings, useProjectSettings)
			}
			return runEnableInteractive(cmd.OutOrStdout(), agentName, serverFlag, localDev, useLocalSettings, useProjectSettings)
		},
	}

	cmd.Flags().BoolVar(&localDev, "local-dev", false, "Use go run instead of the sentinel binary for hooks")
	cmd.Flags().MarkHidden("local-dev") //nolint:errcheck,gosec // flag is defined above
	cmd.Flags().BoolVar(&useLocalSettings, "local", false, "Write settings to settings.local.json instead of settings.json")
	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Write settings to settings.json even if it already exists")
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent to install hooks for (e.g., claude-code)")
	cmd.Flags().StringVar(&serverFlag, "server", "", "Approval server base URL (e.g., https://approvals.example.com)")
	//nolint:errcheck,gosec // completion is optional, flag is defined above
	cmd.RegisterFlagCompletionFunc("agent", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return agent.List(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func newDisableCmd() *cobra.Command {
	var useProjectSettings bool
	var removeHooks bool

	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable Sentinel",
		Long:  "Disable Sentinel. Hooks stay installed but allow everything locally; use --remove-hooks to uninstall them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDisable(cmd.OutOrStdout(), useProjectSettings, removeHooks)
		},
	}

	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Update settings.json instead of settings.local.json")
	cmd.Flags().BoolVar(&removeHooks, "remove-hooks", false, "Also remove Sentinel hooks from agent configurations")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Sentinel status",
		Long:  "Show whether Sentinel is currently enabled, which agents have hooks installed, and the recorded session enrollments and transcript streamers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

// runEnableInteractive prompts for anything the flags left out, then enables.
func runEnableInteractive(w io.Writer, agentName, server string, localDev, useLocalSettings, useProjectSettings bool) error {
	if agentName == "" {
		names := agent.List()
		if len(names) == 1 {
			agentName = names[0]
		} else {
			options := make([]huh.Option[string], 0, len(names))
			for _, name := range names {
				ag, err := agent.Get(name)
				if err != nil {
					continue
				}
				options = append(options, huh.NewOption(name+"  "+ag.Description(), name))
			}
			form := NewAccessibleForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Which coding agent should Sentinel mediate?").
						Options(options...).
						Value(&agentName),
				),
			)
			if err := form.Run(); err != nil {
				return fmt.Errorf("selection cancelled: %w", err)
			}
		}
	}

	if server == "" {
		// Pre-fill from existing settings so re-running enable keeps the server.
		if cfg, err := settings.Load(); err == nil {
			server = cfg.Server
		}
		form := NewAccessibleForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Approval server base URL").
					Placeholder("https://approvals.example.com").
					Validate(validateServerURL).
					Value(&server),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("input cancelled: %w", err)
		}
	}

	return runEnable(w, agentName, server, localDev, useLocalSettings, useProjectSettings)
}

// runEnable installs hooks and persists settings (non-interactive core).
func runEnable(w io.Writer, agentName, server string, localDev, useLocalSettings, useProjectSettings bool) error {
	if err := validateServerURL(server); err != nil {
		return err
	}

	ag, err := agent.Get(agentName)
	if err != nil {
		return err
	}

	count, err := ag.InstallHooks(localDev)
	if err != nil {
		return fmt.Errorf("failed to install %s hooks: %w", agentName, err)
	}
	if count > 0 {
		fmt.Fprintf(w, "✓ %s hooks installed\n", ag.Description())
	} else {
		fmt.Fprintf(w, "✓ %s hooks verified\n", ag.Description())
	}

	// Load existing settings to preserve other options
	cfg, err := settings.Load()
	if err != nil {
		cfg = &settings.SentinelSettings{}
	}
	cfg.Server = server
	cfg.LocalDev = localDev
	cfg.Enabled = true

	shouldUseLocal, showNotification := determineSettingsTarget(useLocalSettings, useProjectSettings)
	if showNotification {
		fmt.Fprintln(w, "Info: Project settings exist. Saving to settings.local.json instead.")
		fmt.Fprintln(w, "  Use --project to update the project settings file.")
	}

	if shouldUseLocal {
		if err := settings.SaveLocal(cfg); err != nil {
			return fmt.Errorf("failed to save local settings: %w", err)
		}
		fmt.Fprintln(w, "✓ Local settings saved (.sentinel/settings.local.json)")
	} else {
		if err := settings.Save(cfg); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Fprintln(w, "✓ Project settings saved (.sentinel/settings.json)")
	}

	fmt.Fprintf(w, "\n✓ Sentinel enabled for %s\n", agentName)
	return nil
}

func runDisable(w io.Writer, useProjectSettings, removeHooks bool) error {
	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	cfg.Enabled = false

	if useProjectSettings {
		if err := settings.Save(cfg); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	} else {
		// Write to the local override if it exists, project settings otherwise.
		localSettingsAbs, pathErr := paths.AbsPath(paths.SettingsLocalFileName)
		if pathErr != nil {
			localSettingsAbs = paths.SettingsLocalFileName
		}
		if _, statErr := os.Stat(localSettingsAbs); statErr == nil {
			if err := settings.SaveLocal(cfg); err != nil {
				return fmt.Errorf("failed to save local settings: %w", err)
			}
		} else {
			if err := settings.Save(cfg); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}
		}
	}

	if removeHooks {
		for _, name := range agent.List() {
			ag, err := agent.Get(name)
			if err != nil {
				continue
			}
			if !ag.AreHooksInstalled() {
				continue
			}
			if err := ag.UninstallHooks(); err != nil {
				fmt.Fprintf(w, "Warning: failed to remove %s hooks: %v\n", name, err)
				continue
			}
			fmt.Fprintf(w, "✓ %s hooks removed\n", name)
		}
	}

	fmt.Fprintln(w, "Sentinel is now disabled.")
	return nil
}

func runStatus(w io.Writer) error {
	if _, repoErr := paths.RepoRoot(); repoErr != nil {
		fmt.Fprintln(w, "✕ not a git repository")
		return nil //nolint:nilerr // Not being in a git repo is a valid status, not an error
	}

	settingsPath, err := paths.AbsPath(paths.SettingsFileName)
	if err != nil {
		settingsPath = paths.SettingsFileName
	}

	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		localSettingsPath, pathErr := paths.AbsPath(paths.SettingsLocalFileName)
		if pathErr != nil {
			localSettingsPath = paths.SettingsLocalFileName
		}
		if _, localErr := os.Stat(localSettingsPath); os.IsNotExist(localErr) {
			fmt.Fprintln(w, "○ not set up (run `sentinel enable` to get started)")
			return nil
		}
	}

	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to check status: %w", err)
	}

	if cfg.Enabled {
		fmt.Fprintf(w, "● enabled (server: %s)\n", cfg.Server)
	} else {
		fmt.Fprintln(w, "○ disabled")
	}

	for _, name := range agent.List() {
		ag, err := agent.Get(name)
		if err != nil {
			continue
		}
		if ag.AreHooksInstalled() {
			fmt.Fprintf(w, "  %s: hooks installed\n", name)
		} else {
			fmt.Fprintf(w, "  %s: hooks not installed\n", name)
		}
	}

	printEnrollments(w)
	printStreams(w)
	return nil
}

// printEnrollments lists the relay IDs with confirmed enrollment markers.
// State directory problems are not status errors; the section is just omitted.
func printEnrollments(w io.Writer) {
	dir, err := paths.EnrollmentsDir()
	if err != nil {
		return
	}
	ids, err := enrollment.NewRegistry(dir, nil).List()
	if err != nil || len(ids) == 0 {
		return
	}
	fmt.Fprintf(w, "  enrolled sessions: %s\n", strings.Join(ids, ", "))
}

// printStreams lists the recorded streamer workers and probes each for
// liveness.
func printStreams(w io.Writer) {
	dir, err := paths.StreamsDir()
	if err != nil {
		return
	}
	handles, err := streamer.NewManager(dir).List()
	if err != nil {
		return
	}
	for _, h := range handles {
		state := "dead"
		if h.Alive() {
			state = "live"
		}
		fmt.Fprintf(w, "  stream %s (relay %s): %s worker, pid %d\n", h.SessionID, h.RelayID, state, h.PID)
	}
}

// validateSetupFlags checks that --local and --project flags are not both specified.
func validateSetupFlags(useLocal, useProject bool) error {
	if useLocal && useProject {
		return errors.New("cannot specify both --project and --local")
	}
	return nil
}

// validateServerURL requires an absolute http(s) URL.
func validateServerURL(s string) error {
	if s == "" {
		return errors.New("server URL is required")
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("server URL must start with http:// or https://")
	}
	if u.Host == "" {
		return errors.New("server URL must include a host")
	}
	return nil
}

// determineSettingsTarget decides whether to write to settings.local.json based on:
// - Whether settings.json already exists
// - The --local and --project flags
// Returns (useLocal, showNotification).
func determineSettingsTarget(useLocal, useProject bool) (bool, bool) {
	if useLocal {
		return true, false
	}
	if useProject {
		return false, false
	}

	settingsPath, err := paths.AbsPath(paths.SettingsFileName)
	if err != nil {
		settingsPath = paths.SettingsFileName
	}
	if _, err := os.Stat(settingsPath); err == nil {
		// Settings file exists - auto-redirect to local with notification
		return true, true
	}

	return false, false
}

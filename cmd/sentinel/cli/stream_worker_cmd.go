package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/streamer"

	"github.com/spf13/cobra"
)

// newStreamWorkerCmd creates the hidden command the detached transcript
// worker runs under. Everything arrives via flags so the worker stays
// independent of the repository the spawning hook ran in.
func newStreamWorkerCmd(agentName string) *cobra.Command {
	var sessionID string
	var relayID string
	var transcriptPath string
	var deviceID string
	var project string
	var server string
	var idleTimeout time.Duration

	cmd := &cobra.Command{
		Use:    streamer.WorkerCommandName(),
		Short:  "Stream the " + agentName + " session transcript (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := logging.Init(sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
			}
			defer logging.Close()

			ctx = logging.WithRelay(logging.WithComponent(ctx, "streamer"), relayID)

			handleDir, err := paths.StreamsDir()
			if err != nil {
				return fmt.Errorf("resolving streams directory: %w", err)
			}

			return streamer.RunWorker(ctx, streamer.WorkerConfig{
				SessionID:      sessionID,
				RelayID:        relayID,
				TranscriptPath: transcriptPath,
				DeviceID:       deviceID,
				Project:        project,
				Server:         server,
				IdleTimeout:    idleTimeout,
			}, handleDir)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "Host agent session ID")
	cmd.Flags().StringVar(&relayID, "relay-id", "", "Conversation correlation ID")
	cmd.Flags().StringVar(&transcriptPath, "transcript", "", "Path to the transcript file to tail")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "Device identifier")
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&server, "server", "", "Approval server base URL")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "Stop after this long without new transcript lines")

	for _, name := range []string{"session-id", "relay-id", "transcript", "device-id", "server"} {
		_ = cmd.MarkFlagRequired(name) //nolint:errcheck // flags are defined above
	}

	return cmd
}

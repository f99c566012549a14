// hooks_claudecode_handlers.go contains the Claude Code hook handler
// implementations. These are called by the hook registry in hook_registry.go.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/agent/claudecode"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/approval"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/deviceid"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/enrollment"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/settings"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/streamer"

	"github.com/spf13/cobra"
)

// handleClaudeCodePreToolUse is the synchronous approval gate. It parses the
// PreToolUse hook input, requests a decision from the approval server, and
// renders the outcome for Claude Code. Every failure on this path denies.
func handleClaudeCodePreToolUse(cmd *cobra.Command) error {
	exitCodeMode, _ := cmd.Flags().GetBool("exit-code") //nolint:errcheck // flag is defined for this verb

	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	input, err := ag.ParseHookInput(agent.HookPreToolUse, os.Stdin)
	if err != nil {
		// No parseable input means no identifiable action; deny.
		return writePreToolUseOutcome(approval.Outcome{
			Allowed:   false,
			Message:   fmt.Sprintf("failed to parse hook input: %v; denying", err),
			Interrupt: true,
		}, exitCodeMode)
	}

	cfg, err := settings.Load()
	if err != nil {
		return writePreToolUseOutcome(approval.Outcome{
			Allowed:   false,
			Message:   fmt.Sprintf("failed to load settings: %v; denying", err),
			Interrupt: true,
		}, exitCodeMode)
	}
	if !cfg.Enabled {
		// Disabled: allow locally without contacting the server. No output
		// means the host applies its own default permission flow.
		return nil
	}

	ctx := initHookLogging(input.SessionID, cfg, ag.Name())
	defer logging.Close()

	logging.Info(ctx, "pre-tool-use",
		slog.String("hook", claudecode.HookNamePreToolUse),
		slog.String("tool_name", input.ToolName),
		slog.String("transcript_path", input.TranscriptPath),
	)

	if cfg.Server == "" {
		return writePreToolUseOutcome(approval.Outcome{
			Allowed: false,
			Message: "no approval server configured; run `sentinel enable`",
		}, exitCodeMode)
	}

	deviceID, err := deviceid.Resolve(cfg.DeviceID)
	if err != nil {
		return writePreToolUseOutcome(approval.Outcome{
			Allowed:   false,
			Message:   fmt.Sprintf("failed to resolve device ID: %v; denying", err),
			Interrupt: true,
		}, exitCodeMode)
	}

	relayID := resolveRelayID(input)
	ctx = logging.WithRelay(ctx, relayID)

	client, registry, err := buildApprovalClient(cfg, ag.Name())
	if err != nil {
		return writePreToolUseOutcome(approval.Outcome{
			Allowed:   false,
			Message:   fmt.Sprintf("%v; denying", err),
			Interrupt: true,
		}, exitCodeMode)
	}

	// Enroll eagerly when no durable marker exists. Failures are logged, not
	// fatal: the decision request's retry-on-401 path is the authority.
	if _, err := registry.EnsureEnrolled(ctx, relayID, deviceID); err != nil {
		logging.Warn(ctx, "enrollment attempt failed", "error", err.Error())
	}

	// Fire-and-forget: streamer problems never affect the decision.
	startTranscriptStreamer(ctx, cfg, ag.Name(), input, deviceID, relayID)

	decision, derr := client.Decide(ctx, &approval.DecisionRequest{
		DeviceID:  deviceID,
		RelayID:   relayID,
		Project:   projectName(cfg),
		ToolName:  input.ToolName,
		ToolInput: input.ToolInput,
	})

	outcome := approval.Render(decision, derr)

	logging.Info(ctx, "decision rendered",
		slog.String("tool_name", input.ToolName),
		slog.Bool("allowed", outcome.Allowed),
		slog.Bool("interrupt", outcome.Interrupt),
	)

	return writePreToolUseOutcome(outcome, exitCodeMode)
}

// handleClaudeCodeSessionStart enrolls the session and starts the transcript
// streamer. Unlike pre-tool-use, failures here are advisory: the approval
// gate re-establishes anything missing on the first sensitive action.
func handleClaudeCodeSessionStart(_ *cobra.Command) error {
	ag, err := GetCurrentHookAgent()
	if err != nil {
		return fmt.Errorf("failed to get agent: %w", err)
	}

	input, err := ag.ParseHookInput(agent.HookSessionStart, os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to parse hook input: %w", err)
	}

	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !cfg.Enabled {
		return nil
	}

	ctx := initHookLogging(input.SessionID, cfg, ag.Name())
	defer logging.Close()

	logging.Info(ctx, "session-start",
		slog.String("hook", claudecode.HookNameSessionStart),
		slog.String("transcript_path", input.TranscriptPath),
	)

	if cfg.Server == "" {
		// Not configured yet; stay silent rather than nag on every session.
		return nil
	}

	deviceID, err := deviceid.Resolve(cfg.DeviceID)
	if err != nil {
		logging.Warn(ctx, "failed to resolve device ID", "error", err.Error())
		return nil
	}

	relayID := resolveRelayID(input)
	ctx = logging.WithRelay(ctx, relayID)

	_, registry, err := buildApprovalClient(cfg, ag.Name())
	if err != nil {
		logging.Warn(ctx, "failed to build approval client", "error", err.Error())
		return nil
	}

	approved, err := registry.EnsureEnrolled(ctx, relayID, deviceID)
	if err != nil {
		logging.Warn(ctx, "session enrollment failed", "error", err.Error())
	}

	startTranscriptStreamer(ctx, cfg, ag.Name(), input, deviceID, relayID)

	message := "Sentinel is mediating this session: sensitive actions require remote approval."
	if err == nil && !approved {
		message = "Sentinel could not enroll this session; sensitive actions will be denied until enrollment succeeds."
	}
	return outputHookResponse(message)
}

// initHookLogging sets up the per-session log file and returns the base
// logging context. Logging failures fall back to stderr inside the package.
func initHookLogging(sessionID string, cfg *settings.SentinelSettings, agentName string) context.Context {
	logging.SetLogLevelGetter(func() string { return cfg.LogLevel })
	if sessionID != "" {
		if err := logging.Init(sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
		}
	}
	return logging.WithAgent(logging.WithComponent(context.Background(), "hooks"), agentName)
}

// resolveRelayID returns the conversation correlation ID: the explicit
// SENTINEL_RELAY_ID override when present, the hook session ID otherwise.
func resolveRelayID(input *agent.HookInput) string {
	if relay := os.Getenv(settings.RelayIDEnvVar); relay != "" {
		return relay
	}
	return input.SessionID
}

// buildApprovalClient wires the client and the enrollment registry together.
func buildApprovalClient(cfg *settings.SentinelSettings, agentName string) (*approval.Client, *enrollment.Registry, error) {
	timeout := time.Duration(cfg.DecisionTimeoutSeconds) * time.Second
	client := approval.NewClient(cfg.Server, agentName, timeout)

	enrollDir, err := paths.EnrollmentsDir()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving enrollment directory: %w", err)
	}
	registry := enrollment.NewRegistry(enrollDir, client)
	client.SetEnroller(registry)

	return client, registry, nil
}

// projectName returns the configured project override or the repo-derived name.
func projectName(cfg *settings.SentinelSettings) string {
	if cfg.Project != "" {
		return cfg.Project
	}
	return paths.ProjectName()
}

// startTranscriptStreamer ensures a streamer worker runs for this session.
// Best-effort by contract: errors are logged and never propagated.
func startTranscriptStreamer(ctx context.Context, cfg *settings.SentinelSettings, agentName string, input *agent.HookInput, deviceID, relayID string) {
	streamsDir, err := paths.StreamsDir()
	if err != nil {
		logging.Warn(ctx, "failed to resolve streams directory", "error", err.Error())
		return
	}

	mgr := streamer.NewManager(streamsDir)
	err = mgr.EnsureRunning(ctx, streamer.Options{
		SessionID:      input.SessionID,
		RelayID:        relayID,
		TranscriptPath: input.TranscriptPath,
		DeviceID:       deviceID,
		Project:        projectName(cfg),
		Server:         cfg.Server,
		AgentName:      agentName,
		IdleTimeout:    time.Duration(cfg.StreamIdleTimeoutMinutes) * time.Minute,
	})
	if err != nil {
		logging.Warn(ctx, "failed to ensure streamer worker", "error", err.Error())
	}
}

// hookResponse is the generic JSON response for informational hooks.
type hookResponse struct {
	SystemMessage string `json:"systemMessage,omitempty"`
}

// outputHookResponse outputs a JSON response to stdout.
func outputHookResponse(message string) error {
	resp := hookResponse{SystemMessage: message}
	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode hook response: %w", err)
	}
	return nil
}

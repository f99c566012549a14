// Package telemetry sends anonymous, opt-in usage analytics. Events are
// delivered by a short-lived detached subprocess so the CLI never blocks on
// the network during exit.
package telemetry

import (
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// PostHogAPIKey is set at build time for production
	PostHogAPIKey = "phc_development_key"
	// PostHogEndpoint is set at build time for production
	PostHogEndpoint = "https://eu.i.posthog.com"
)

// OptOutEnvVar disables telemetry regardless of settings.
const OptOutEnvVar = "SENTINEL_TELEMETRY_OPTOUT"

// SendCommandName is the hidden subcommand the detached sender runs under.
const SendCommandName = "__send_analytics"

// EventPayload represents the data passed to the detached subprocess.
// APIKey and endpoint are intentionally excluded to avoid exposing them in
// process listings (ps/top); SendEvent reads them from package-level vars.
type EventPayload struct {
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
}

// silentLogger suppresses PostHog log output - expected for CLI best-effort telemetry
type silentLogger struct{}

func (silentLogger) Logf(_ string, _ ...interface{})   {}
func (silentLogger) Debugf(_ string, _ ...interface{}) {}
func (silentLogger) Warnf(_ string, _ ...interface{})  {}
func (silentLogger) Errorf(_ string, _ ...interface{}) {}

// BuildEventPayload constructs the event payload for tracking.
// Exported for testing. Returns nil if the payload cannot be built.
func BuildEventPayload(cmd *cobra.Command, agent string, sentinelEnabled bool, version string) *EventPayload {
	if cmd == nil {
		return nil
	}

	machineID, err := machineid.ProtectedID("sentinel-cli")
	if err != nil {
		return nil
	}

	// Collect flag names (not values) for privacy
	var flags []string
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		flags = append(flags, flag.Name)
	})

	selectedAgent := agent
	if selectedAgent == "" {
		selectedAgent = "auto"
	}

	properties := map[string]any{
		"command":           cmd.CommandPath(),
		"agent":             selectedAgent,
		"isSentinelEnabled": sentinelEnabled,
		"cli_version":       version,
		"os":                runtime.GOOS,
		"arch":              runtime.GOARCH,
	}

	if len(flags) > 0 {
		properties["flags"] = strings.Join(flags, ",")
	}

	return &EventPayload{
		Event:      "cli_command_executed",
		DistinctID: machineID,
		Properties: properties,
		Timestamp:  time.Now(),
	}
}

// TrackCommandDetached tracks a command execution by spawning a detached
// subprocess. Telemetry is opt-in: a nil or false preference means no event.
// This returns immediately without blocking the CLI.
func TrackCommandDetached(cmd *cobra.Command, agent string, sentinelEnabled bool, version string, telemetryEnabled *bool) {
	if os.Getenv(OptOutEnvVar) != "" {
		return
	}
	if telemetryEnabled == nil || !*telemetryEnabled {
		return
	}

	if cmd == nil || cmd.Hidden {
		return
	}

	payload := BuildEventPayload(cmd, agent, sentinelEnabled, version)
	if payload == nil {
		return
	}

	if payloadJSON, err := json.Marshal(payload); err == nil {
		spawnDetachedAnalytics(string(payloadJSON))
	}
}

// SendEvent processes an event payload in the detached subprocess.
// This is called by the hidden __send_analytics command.
func SendEvent(payloadJSON string) {
	var payload EventPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return
	}

	// No need for fast timeouts here since we are already detached.
	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:     PostHogEndpoint,
		Logger:       silentLogger{},
		DisableGeoIP: posthog.Ptr(true),
	})
	if err != nil {
		return
	}
	defer func() {
		_ = client.Close()
	}()

	props := posthog.NewProperties()
	for k, v := range payload.Properties {
		props.Set(k, v)
	}

	//nolint:errcheck // Best effort telemetry - don't block on result
	_ = client.Enqueue(posthog.Capture{
		DistinctId: payload.DistinctID,
		Event:      payload.Event,
		Properties: props,
		Timestamp:  payload.Timestamp,
	})
}

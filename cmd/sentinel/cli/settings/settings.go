// Package settings provides configuration loading for Sentinel.
// This package is separate from cli so leaf packages can import it
// without creating an import cycle.
package settings

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
)

// Environment variable overrides. The env var always wins over the
// settings file so hook invocations can be redirected without edits.
const (
	ServerEnvVar   = "SENTINEL_SERVER"
	DeviceIDEnvVar = "SENTINEL_DEVICE_ID"
	RelayIDEnvVar  = "SENTINEL_RELAY_ID"
	LogLevelEnvVar = "SENTINEL_LOG_LEVEL"
)

// SentinelSettings represents the .sentinel/settings.json configuration.
type SentinelSettings struct {
	// Server is the base URL of the remote approval server.
	Server string `json:"server"`

	// Enabled indicates whether Sentinel is active. When false, hooks
	// allow everything locally and never contact the server. Defaults to true.
	Enabled bool `json:"enabled"`

	// DeviceID overrides the machine-derived device identifier.
	DeviceID string `json:"device_id,omitempty"`

	// Project overrides the repository-derived project name.
	Project string `json:"project,omitempty"`

	// LocalDev indicates whether installed hooks run "go run" instead of
	// the sentinel binary. Used for development.
	LocalDev bool `json:"local_dev,omitempty"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by SENTINEL_LOG_LEVEL. Defaults to "info".
	LogLevel string `json:"log_level,omitempty"`

	// DecisionTimeoutSeconds bounds the synchronous decision request.
	// The action blocks the agent while a human responds remotely, so the
	// default is generous: 300 seconds. Zero means the default.
	DecisionTimeoutSeconds int `json:"decision_timeout_seconds,omitempty"`

	// StreamIdleTimeoutMinutes bounds the streamer worker's lifetime with
	// no new transcript lines. Zero means the default of 30 minutes.
	StreamIdleTimeoutMinutes int `json:"stream_idle_timeout_minutes,omitempty"`

	// Telemetry controls anonymous usage analytics.
	// nil = not asked yet, true = opted in, false = opted out.
	Telemetry *bool `json:"telemetry,omitempty"`
}

// Load loads settings from .sentinel/settings.json, then applies overrides
// from .sentinel/settings.local.json if it exists, then environment
// variables. Returns default settings if neither file exists.
// Works correctly from any subdirectory within the repository.
func Load() (*SentinelSettings, error) {
	settingsFileAbs, err := paths.AbsPath(paths.SettingsFileName)
	if err != nil {
		settingsFileAbs = paths.SettingsFileName
	}
	localSettingsFileAbs, err := paths.AbsPath(paths.SettingsLocalFileName)
	if err != nil {
		localSettingsFileAbs = paths.SettingsLocalFileName
	}

	settings, err := loadFromFile(settingsFileAbs)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(localSettingsFileAbs) //nolint:gosec // path is from AbsPath or constant
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
	} else {
		if err := mergeJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	applyEnvOverrides(settings)

	return settings, nil
}

// loadFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func loadFromFile(filePath string) (*SentinelSettings, error) {
	settings := &SentinelSettings{
		Enabled: true,
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}

	return settings, nil
}

// mergeJSON merges local-override JSON into existing settings.
// Only fields present in the JSON override existing values.
func mergeJSON(settings *SentinelSettings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if serverRaw, ok := raw["server"]; ok {
		var s string
		if err := json.Unmarshal(serverRaw, &s); err != nil {
			return fmt.Errorf("parsing server field: %w", err)
		}
		if s != "" {
			settings.Server = s
		}
	}

	if enabledRaw, ok := raw["enabled"]; ok {
		var e bool
		if err := json.Unmarshal(enabledRaw, &e); err != nil {
			return fmt.Errorf("parsing enabled field: %w", err)
		}
		settings.Enabled = e
	}

	if deviceRaw, ok := raw["device_id"]; ok {
		var d string
		if err := json.Unmarshal(deviceRaw, &d); err != nil {
			return fmt.Errorf("parsing device_id field: %w", err)
		}
		if d != "" {
			settings.DeviceID = d
		}
	}

	if projectRaw, ok := raw["project"]; ok {
		var p string
		if err := json.Unmarshal(projectRaw, &p); err != nil {
			return fmt.Errorf("parsing project field: %w", err)
		}
		if p != "" {
			settings.Project = p
		}
	}

	if localDevRaw, ok := raw["local_dev"]; ok {
		var ld bool
		if err := json.Unmarshal(localDevRaw, &ld); err != nil {
			return fmt.Errorf("parsing local_dev field: %w", err)
		}
		settings.LocalDev = ld
	}

	if logLevelRaw, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(logLevelRaw, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			settings.LogLevel = ll
		}
	}

	if timeoutRaw, ok := raw["decision_timeout_seconds"]; ok {
		var t int
		if err := json.Unmarshal(timeoutRaw, &t); err != nil {
			return fmt.Errorf("parsing decision_timeout_seconds field: %w", err)
		}
		if t > 0 {
			settings.DecisionTimeoutSeconds = t
		}
	}

	if idleRaw, ok := raw["stream_idle_timeout_minutes"]; ok {
		var m int
		if err := json.Unmarshal(idleRaw, &m); err != nil {
			return fmt.Errorf("parsing stream_idle_timeout_minutes field: %w", err)
		}
		if m > 0 {
			settings.StreamIdleTimeoutMinutes = m
		}
	}

	if telemetryRaw, ok := raw["telemetry"]; ok {
		var t bool
		if err := json.Unmarshal(telemetryRaw, &t); err != nil {
			return fmt.Errorf("parsing telemetry field: %w", err)
		}
		settings.Telemetry = &t
	}

	return nil
}

func applyEnvOverrides(settings *SentinelSettings) {
	if server := os.Getenv(ServerEnvVar); server != "" {
		settings.Server = server
	}
	if device := os.Getenv(DeviceIDEnvVar); device != "" {
		settings.DeviceID = device
	}
}

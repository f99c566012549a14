// Package validation provides input validation for the Sentinel CLI.
// This package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
// Used to validate IDs that end up in file paths.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSessionID validates that a session ID doesn't contain path separators.
// Session IDs key streamer handle files, so this prevents path traversal.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	return nil
}

// ValidateRelayID validates that a relay ID contains only safe characters for paths.
// Relay IDs key enrollment marker files. They are UUIDs for Claude Code sessions,
// but other agents may use different formats, so anything path-safe is accepted.
func ValidateRelayID(id string) error {
	if id == "" {
		return errors.New("relay ID cannot be empty")
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid relay ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateDeviceID validates a device identifier. Empty is allowed because
// callers fall back to the machine ID when no override is configured.
func ValidateDeviceID(id string) error {
	if id == "" {
		return nil
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid device ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

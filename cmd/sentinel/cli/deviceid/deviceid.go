// Package deviceid resolves the stable device identifier sent with every
// enrollment, decision, and transcript request.
package deviceid

import (
	"fmt"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/validation"

	"github.com/denisbrodbeck/machineid"
)

// appID keys the HMAC used by machineid.ProtectedID so the raw hardware ID
// never leaves the machine.
const appID = "sentinel-cli"

// Resolve returns the device ID. A non-empty override (from settings or the
// SENTINEL_DEVICE_ID environment variable) wins after validation; otherwise
// the hashed machine ID is used.
func Resolve(override string) (string, error) {
	if override != "" {
		if err := validation.ValidateDeviceID(override); err != nil {
			return "", err
		}
		return override, nil
	}
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return "", fmt.Errorf("resolving machine ID: %w", err)
	}
	return id, nil
}

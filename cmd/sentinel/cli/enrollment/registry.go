// Package enrollment tracks, per relay ID, whether session enrollment with
// the approval server has completed. Enrollment outlives any single hook
// invocation, so confirmed enrollments are persisted as marker files under
// the state directory.
package enrollment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/jsonutil"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/validation"
)

// Wire is the subset of the approval client the registry needs. Kept as an
// interface so tests can enroll against a fake server without HTTP.
type Wire interface {
	Enroll(ctx context.Context, deviceID, relayID string) (bool, error)
}

// marker is the durable record of a confirmed enrollment.
// Stored as <dir>/<relay-id>.json.
type marker struct {
	RelayID    string    `json:"relay_id"`
	DeviceID   string    `json:"device_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Registry provides idempotent session enrollment.
type Registry struct {
	dir  string
	wire Wire
}

// NewRegistry creates a registry storing markers under dir.
func NewRegistry(dir string, wire Wire) *Registry {
	return &Registry{dir: dir, wire: wire}
}

// EnsureEnrolled enrolls the relay ID if no durable marker exists.
// Idempotent: once a relay ID is confirmed enrolled, later calls return
// success without a network round trip. On approved=false the marker is
// not written, so future calls retry.
func (r *Registry) EnsureEnrolled(ctx context.Context, relayID, deviceID string) (bool, error) {
	if err := validation.ValidateRelayID(relayID); err != nil {
		return false, fmt.Errorf("invalid relay ID: %w", err)
	}

	if r.isEnrolled(relayID) {
		return true, nil
	}

	approved, err := r.wire.Enroll(ctx, deviceID, relayID)
	if err != nil {
		return false, fmt.Errorf("enrolling session: %w", err)
	}
	if !approved {
		return false, nil
	}

	if err := r.writeMarker(relayID, deviceID); err != nil {
		// The server approved; a marker write failure only costs an extra
		// round trip next invocation.
		return true, nil //nolint:nilerr // enrollment itself succeeded
	}
	return true, nil
}

// Invalidate discards the cached enrollment state for the relay ID.
// Called when the server reports unauthorized despite a local marker.
func (r *Registry) Invalidate(relayID string) error {
	if err := validation.ValidateRelayID(relayID); err != nil {
		return fmt.Errorf("invalid relay ID: %w", err)
	}

	if err := os.Remove(r.markerPath(relayID)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing enrollment marker: %w", err)
	}
	return nil
}

// List returns the relay IDs with confirmed enrollment markers.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading enrollment directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}

// isEnrolled reports whether a valid marker exists for the relay ID.
func (r *Registry) isEnrolled(relayID string) bool {
	data, err := os.ReadFile(r.markerPath(relayID)) //nolint:gosec // relayID validated by callers
	if err != nil {
		return false
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		// Corrupted marker: treat as not enrolled so the next call retries.
		return false
	}
	return m.RelayID == relayID
}

// writeMarker persists the enrollment marker atomically.
func (r *Registry) writeMarker(relayID, deviceID string) error {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return fmt.Errorf("creating enrollment directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(marker{
		RelayID:    relayID,
		DeviceID:   deviceID,
		EnrolledAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling enrollment marker: %w", err)
	}

	path := r.markerPath(relayID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing enrollment marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming enrollment marker: %w", err)
	}
	return nil
}

func (r *Registry) markerPath(relayID string) string {
	return filepath.Join(r.dir, relayID+".json")
}

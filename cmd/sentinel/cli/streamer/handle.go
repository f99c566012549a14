// Package streamer supervises the per-session transcript streaming worker:
// a detached long-lived process that tails the agent's transcript file and
// forwards new records to the approval server. Each hook invocation is a
// fresh process with no shared memory, so worker ownership is coordinated
// through handle files and an exclusive-create lock under the state
// directory.
package streamer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/jsonutil"
)

// Handle is the durable record of a live streamer worker.
// Stored as <streams dir>/<session-id>.json. At most one live handle may
// exist per session ID; its relay ID always equals the relay ID of the most
// recent hook invocation that started or adopted it.
type Handle struct {
	SessionID      string    `json:"session_id"`
	RelayID        string    `json:"relay_id"`
	PID            int       `json:"pid"`
	TranscriptPath string    `json:"transcript_path"`
	StartedAt      time.Time `json:"started_at"`
}

// Alive probes the recorded worker process. Signal 0 checks existence
// without delivering anything.
func (h *Handle) Alive() bool {
	if h == nil || h.PID <= 0 {
		return false
	}
	return processAlive(h.PID)
}

// Terminate sends SIGTERM to the worker. The worker's deferred cleanup
// removes its own handle; ESRCH (already gone) is not an error.
func (h *Handle) Terminate() error {
	if h == nil || h.PID <= 0 {
		return nil
	}
	if err := syscall.Kill(h.PID, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("terminating worker %d: %w", h.PID, err)
	}
	return nil
}

// processAlive reports whether a process with the given PID exists.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	// EPERM means the process exists but belongs to another user.
	return err == nil || err == syscall.EPERM
}

// loadHandle reads the handle file for a session. Returns (nil, nil) when
// no handle exists.
func loadHandle(dir, sessionID string) (*Handle, error) {
	data, err := os.ReadFile(handlePath(dir, sessionID)) //nolint:gosec // sessionID validated by callers
	if os.IsNotExist(err) {
		return nil, nil //nolint:nilnil // nil,nil indicates no handle (expected case)
	}
	if err != nil {
		return nil, fmt.Errorf("reading streamer handle: %w", err)
	}

	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		// Corrupted handle: treat as absent so the caller starts fresh.
		return nil, nil //nolint:nilnil // see above
	}
	return &h, nil
}

// saveHandle persists the handle atomically.
func saveHandle(dir string, h *Handle) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating streams directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling streamer handle: %w", err)
	}

	path := handlePath(dir, h.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing streamer handle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming streamer handle: %w", err)
	}
	return nil
}

// removeHandle deletes the handle file. Missing files are not an error.
func removeHandle(dir, sessionID string) error {
	if err := os.Remove(handlePath(dir, sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing streamer handle: %w", err)
	}
	return nil
}

// removeHandleIfOwned deletes the handle file only when it still records
// the given PID. A newer invocation may have replaced the handle with a
// fresh worker's; that handle must survive this worker's cleanup.
func removeHandleIfOwned(dir, sessionID string, pid int) error {
	h, err := loadHandle(dir, sessionID)
	if err != nil {
		return err
	}
	if h == nil || h.PID != pid {
		return nil
	}
	return removeHandle(dir, sessionID)
}

func handlePath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".json")
}

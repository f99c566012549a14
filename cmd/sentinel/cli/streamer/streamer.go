package streamer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/validation"
)

// lockStaleAfter bounds how long a start lock can block other invocations.
// EnsureRunning holds the lock only for the check-and-spawn critical
// section, so anything older belongs to a crashed invocation.
const lockStaleAfter = 30 * time.Second

// Options describes the streaming target for one hook invocation.
type Options struct {
	// SessionID keys the singleton worker (one continuous host agent
	// process instance).
	SessionID string

	// RelayID is the conversation correlation ID. A change (conversation
	// resumed under a new ID) supersedes the running worker.
	RelayID string

	// TranscriptPath is the agent's append-only JSONL transcript.
	TranscriptPath string

	DeviceID string
	Project  string

	// Server is the approval server base URL, passed to the worker so it
	// stays independent of the repository the hook ran in.
	Server string

	// AgentName selects the hook subcommand tree the worker runs under
	// (e.g. "claude-code").
	AgentName string

	// IdleTimeout is forwarded to the worker. Zero means the worker default.
	IdleTimeout time.Duration
}

// spawnFunc starts a detached worker and returns its PID.
// Replaceable in tests.
type spawnFunc func(opts Options) (int, error)

// Manager owns the per-session worker handles under dir.
type Manager struct {
	dir   string
	spawn spawnFunc
}

// NewManager creates a manager storing handles under dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, spawn: spawnDetachedWorker}
}

// newManagerWithSpawn creates a manager with a custom spawn function (tests).
func newManagerWithSpawn(dir string, spawn spawnFunc) *Manager {
	return &Manager{dir: dir, spawn: spawn}
}

// EnsureRunning guarantees exactly one live worker streams the session's
// transcript under the requested relay ID. Fire-and-forget: it never blocks
// beyond the time needed to check or replace the worker, and its errors
// must never affect the concurrent decision path.
//
//  1. Missing transcript or empty session ID: no-op.
//  2. Live worker with matching relay ID: adopt in place.
//  3. Live worker with a different relay ID: terminate it, start fresh.
//  4. No live worker: clean up any orphaned handle, start fresh.
//
// A lock file created with O_CREATE|O_EXCL serializes the check-and-spawn
// section against concurrent invocations for the same session.
func (m *Manager) EnsureRunning(ctx context.Context, opts Options) error {
	if opts.SessionID == "" {
		return nil
	}
	if err := validation.ValidateSessionID(opts.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	if opts.TranscriptPath == "" {
		return nil
	}
	if _, err := os.Stat(opts.TranscriptPath); err != nil {
		// Transcript not there (yet): nothing to stream.
		return nil //nolint:nilerr // absent source is an expected no-op
	}

	unlock, err := m.acquireStartLock(opts.SessionID)
	if err != nil {
		// Another invocation is mid-start for this session; it will leave
		// a live worker behind, so there is nothing for us to do.
		logging.Debug(ctx, "streamer start lock contended", "session_id", opts.SessionID)
		return nil
	}
	defer unlock()

	handle, err := loadHandle(m.dir, opts.SessionID)
	if err != nil {
		return err
	}

	if handle.Alive() {
		if handle.RelayID == opts.RelayID {
			// Adopt in place.
			return nil
		}
		// Conversation resumed under a new correlation ID: the old worker
		// streams under a stale relay ID and must go.
		logging.Info(ctx, "superseding streamer worker",
			"session_id", opts.SessionID,
			"old_relay_id", handle.RelayID,
			"new_relay_id", opts.RelayID,
		)
		if err := handle.Terminate(); err != nil {
			logging.Warn(ctx, "failed to terminate stale worker", "error", err.Error())
		}
	}

	// Either no worker, a dead one, or one we just terminated. Remove the
	// orphaned handle before starting fresh.
	if err := removeHandle(m.dir, opts.SessionID); err != nil {
		logging.Warn(ctx, "failed to remove orphaned handle", "error", err.Error())
	}

	pid, err := m.spawn(opts)
	if err != nil {
		return fmt.Errorf("starting streamer worker: %w", err)
	}

	if err := saveHandle(m.dir, &Handle{
		SessionID:      opts.SessionID,
		RelayID:        opts.RelayID,
		PID:            pid,
		TranscriptPath: opts.TranscriptPath,
		StartedAt:      time.Now(),
	}); err != nil {
		return err
	}

	logging.Info(ctx, "streamer worker started",
		"session_id", opts.SessionID,
		"relay_id", opts.RelayID,
		"pid", pid,
	)
	return nil
}

// List returns all recorded handles, live or not.
func (m *Manager) List() ([]*Handle, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading streams directory: %w", err)
	}

	var handles []*Handle
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		h, err := loadHandle(m.dir, strings.TrimSuffix(name, ".json"))
		if err != nil || h == nil {
			continue
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// acquireStartLock takes the per-session start lock with an exclusive
// create. Stale locks (crashed invocation, or a dead owner) are broken.
func (m *Manager) acquireStartLock(sessionID string) (func(), error) {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating streams directory: %w", err)
	}

	lockPath := filepath.Join(m.dir, sessionID+".lock")

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // sessionID validated by caller
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating start lock: %w", err)
		}

		if !m.breakStaleLock(lockPath) {
			return nil, fmt.Errorf("start lock held for session %s", sessionID)
		}
	}
	return nil, fmt.Errorf("start lock held for session %s", sessionID)
}

// breakStaleLock removes the lock if its owner is dead or it has outlived
// lockStaleAfter. Returns true when the lock was removed.
func (m *Manager) breakStaleLock(lockPath string) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		// Lock vanished between create attempt and stat; retry the create.
		return os.IsNotExist(err)
	}

	stale := time.Since(info.ModTime()) > lockStaleAfter
	if !stale {
		data, readErr := os.ReadFile(lockPath) //nolint:gosec // path constructed from validated session ID
		if readErr == nil {
			if pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil {
				stale = !processAlive(pid)
			}
		}
	}
	if !stale {
		return false
	}
	return os.Remove(lockPath) == nil || !fileExists(lockPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// spawnDetachedWorker starts the hidden __stream subcommand as a detached
// process (own session via Setsid) so it survives the short-lived hook
// invocation that spawned it.
func spawnDetachedWorker(opts Options) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locating executable: %w", err)
	}

	args := []string{
		"hooks", opts.AgentName, workerCommandName,
		"--session-id", opts.SessionID,
		"--relay-id", opts.RelayID,
		"--transcript", opts.TranscriptPath,
		"--device-id", opts.DeviceID,
		"--server", opts.Server,
	}
	if opts.Project != "" {
		args = append(args, "--project", opts.Project)
	}
	if opts.IdleTimeout > 0 {
		args = append(args, "--idle-timeout", opts.IdleTimeout.String())
	}

	cmd := exec.Command(exe, args...) //nolint:gosec // args built from validated hook input
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawning worker: %w", err)
	}
	pid := cmd.Process.Pid

	// Release the child so it is not reaped through this process.
	_ = cmd.Process.Release()

	return pid, nil
}

// workerCommandName is the hidden subcommand the detached worker runs under.
const workerCommandName = "__stream"

// WorkerCommandName exposes the hidden subcommand name to the CLI wiring.
func WorkerCommandName() string { return workerCommandName }

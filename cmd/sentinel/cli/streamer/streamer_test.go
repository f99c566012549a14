package streamer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"
)

// spawnDeadProcess returns the PID of a child that has already exited and
// been reaped, so the PID is guaranteed not to name a live process.
func spawnDeadProcess(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("running child: %v", err)
	}
	return cmd.Process.Pid
}

// spawnSleepingProcess returns the PID of a live child and registers cleanup.
func spawnSleepingProcess(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting child: %v", err)
	}
	// Reap the child as soon as it exits so a terminated worker does not
	// linger as a zombie, which kill(pid, 0) would still report as alive.
	go func() { _, _ = cmd.Process.Wait() }()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return cmd.Process.Pid
}

// recordingSpawn counts spawn calls and hands out fake PIDs.
type recordingSpawn struct {
	calls int
	opts  []Options
	pid   int
	err   error
}

func (r *recordingSpawn) spawn(opts Options) (int, error) {
	r.calls++
	r.opts = append(r.opts, opts)
	return r.pid, r.err
}

func writeTranscript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(path, []byte(`{"role":"user"}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testOptions(transcript string) Options {
	return Options{
		SessionID:      "session-1",
		RelayID:        "relay-1",
		TranscriptPath: transcript,
		DeviceID:       "device-1",
		Server:         "http://localhost:1",
		AgentName:      "claude-code",
	}
}

func TestEnsureRunningStartsWorker(t *testing.T) {
	dir := t.TempDir()
	spawn := &recordingSpawn{pid: spawnSleepingProcess(t)}
	m := newManagerWithSpawn(dir, spawn.spawn)

	opts := testOptions(writeTranscript(t))
	if err := m.EnsureRunning(context.Background(), opts); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}

	if spawn.calls != 1 {
		t.Fatalf("spawn calls = %d, want 1", spawn.calls)
	}
	h, err := loadHandle(dir, "session-1")
	if err != nil || h == nil {
		t.Fatalf("loadHandle() = %v, %v, want handle", h, err)
	}
	if h.PID != spawn.pid || h.RelayID != "relay-1" {
		t.Errorf("handle = %+v, want pid %d relay relay-1", h, spawn.pid)
	}

	// The lock is released once the worker is up.
	if _, err := os.Stat(filepath.Join(dir, "session-1.lock")); !os.IsNotExist(err) {
		t.Errorf("start lock still present, stat err = %v", err)
	}
}

func TestEnsureRunningEmptySessionIsNoOp(t *testing.T) {
	spawn := &recordingSpawn{pid: 1234}
	m := newManagerWithSpawn(t.TempDir(), spawn.spawn)

	opts := testOptions(writeTranscript(t))
	opts.SessionID = ""
	if err := m.EnsureRunning(context.Background(), opts); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if spawn.calls != 0 {
		t.Errorf("spawn calls = %d, want 0", spawn.calls)
	}
}

func TestEnsureRunningMissingTranscriptIsNoOp(t *testing.T) {
	spawn := &recordingSpawn{pid: 1234}
	m := newManagerWithSpawn(t.TempDir(), spawn.spawn)

	opts := testOptions(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err := m.EnsureRunning(context.Background(), opts); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if spawn.calls != 0 {
		t.Errorf("spawn calls = %d, want 0", spawn.calls)
	}
}

func TestEnsureRunningRejectsUnsafeSessionID(t *testing.T) {
	m := newManagerWithSpawn(t.TempDir(), (&recordingSpawn{}).spawn)

	opts := testOptions(writeTranscript(t))
	opts.SessionID = "../escape"
	if err := m.EnsureRunning(context.Background(), opts); err == nil {
		t.Fatal("EnsureRunning() error = nil, want error for path-unsafe session ID")
	}
}

func TestEnsureRunningAdoptsLiveWorker(t *testing.T) {
	dir := t.TempDir()
	livePID := spawnSleepingProcess(t)
	if err := saveHandle(dir, &Handle{SessionID: "session-1", RelayID: "relay-1", PID: livePID}); err != nil {
		t.Fatal(err)
	}

	spawn := &recordingSpawn{pid: 9999}
	m := newManagerWithSpawn(dir, spawn.spawn)

	if err := m.EnsureRunning(context.Background(), testOptions(writeTranscript(t))); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if spawn.calls != 0 {
		t.Errorf("spawn calls = %d, want 0 (live worker with matching relay is adopted)", spawn.calls)
	}

	h, _ := loadHandle(dir, "session-1")
	if h == nil || h.PID != livePID {
		t.Errorf("handle = %+v, want adopted pid %d", h, livePID)
	}
}

func TestEnsureRunningSupersedesOnRelayChange(t *testing.T) {
	dir := t.TempDir()
	oldPID := spawnSleepingProcess(t)
	if err := saveHandle(dir, &Handle{SessionID: "session-1", RelayID: "relay-old", PID: oldPID}); err != nil {
		t.Fatal(err)
	}

	spawn := &recordingSpawn{pid: spawnSleepingProcess(t)}
	m := newManagerWithSpawn(dir, spawn.spawn)

	opts := testOptions(writeTranscript(t))
	opts.RelayID = "relay-new"
	if err := m.EnsureRunning(context.Background(), opts); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}

	if spawn.calls != 1 {
		t.Fatalf("spawn calls = %d, want 1", spawn.calls)
	}
	h, _ := loadHandle(dir, "session-1")
	if h == nil || h.RelayID != "relay-new" || h.PID != spawn.pid {
		t.Errorf("handle = %+v, want new worker pid %d under relay-new", h, spawn.pid)
	}

	// The superseded worker received SIGTERM. Give delivery a moment, then
	// confirm it is gone (sleep exits on SIGTERM).
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(oldPID, 0) != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("superseded worker %d still alive", oldPID)
}

func TestEnsureRunningReplacesDeadWorker(t *testing.T) {
	dir := t.TempDir()
	deadPID := spawnDeadProcess(t)
	if err := saveHandle(dir, &Handle{SessionID: "session-1", RelayID: "relay-1", PID: deadPID}); err != nil {
		t.Fatal(err)
	}

	spawn := &recordingSpawn{pid: spawnSleepingProcess(t)}
	m := newManagerWithSpawn(dir, spawn.spawn)

	if err := m.EnsureRunning(context.Background(), testOptions(writeTranscript(t))); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}

	if spawn.calls != 1 {
		t.Fatalf("spawn calls = %d, want 1 (dead worker must be replaced)", spawn.calls)
	}
	h, _ := loadHandle(dir, "session-1")
	if h == nil || h.PID != spawn.pid {
		t.Errorf("handle = %+v, want fresh worker pid %d", h, spawn.pid)
	}
}

func TestEnsureRunningLockContention(t *testing.T) {
	dir := t.TempDir()
	spawn := &recordingSpawn{pid: 1234}
	m := newManagerWithSpawn(dir, spawn.spawn)

	// A fresh lock owned by a live process blocks this invocation.
	lockPath := filepath.Join(dir, "session-1.lock")
	if err := os.WriteFile(lockPath, []byte("1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := m.EnsureRunning(context.Background(), testOptions(writeTranscript(t))); err != nil {
		t.Fatalf("EnsureRunning() error = %v, want nil under contention", err)
	}
	if spawn.calls != 0 {
		t.Errorf("spawn calls = %d, want 0 under contention", spawn.calls)
	}
}

func TestEnsureRunningBreaksStaleLock(t *testing.T) {
	dir := t.TempDir()
	spawn := &recordingSpawn{pid: spawnSleepingProcess(t)}
	m := newManagerWithSpawn(dir, spawn.spawn)

	// Lock owned by a dead process is stale even when recent.
	lockPath := filepath.Join(dir, "session-1.lock")
	deadPID := spawnDeadProcess(t)
	if err := os.WriteFile(lockPath, []byte(strconv.Itoa(deadPID)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := m.EnsureRunning(context.Background(), testOptions(writeTranscript(t))); err != nil {
		t.Fatalf("EnsureRunning() error = %v", err)
	}
	if spawn.calls != 1 {
		t.Errorf("spawn calls = %d, want 1 after breaking stale lock", spawn.calls)
	}
}

func TestSpawnFailureSurfaces(t *testing.T) {
	dir := t.TempDir()
	spawn := &recordingSpawn{err: os.ErrPermission}
	m := newManagerWithSpawn(dir, spawn.spawn)

	if err := m.EnsureRunning(context.Background(), testOptions(writeTranscript(t))); err == nil {
		t.Fatal("EnsureRunning() error = nil, want spawn error")
	}
	if h, _ := loadHandle(dir, "session-1"); h != nil {
		t.Errorf("handle = %+v, want none after failed spawn", h)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	handles, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(handles) != 0 {
		t.Errorf("List() = %v, want empty", handles)
	}

	for _, id := range []string{"session-a", "session-b"} {
		if err := saveHandle(dir, &Handle{SessionID: id, PID: 1}); err != nil {
			t.Fatal(err)
		}
	}

	handles, err = m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(handles) != 2 {
		t.Errorf("List() returned %d handles, want 2", len(handles))
	}
}

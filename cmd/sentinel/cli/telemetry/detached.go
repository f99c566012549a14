package telemetry

import (
	"os"
	"os/exec"
	"syscall"
)

// spawnDetachedAnalytics starts the hidden send command as a detached
// process (own session via Setsid) so the CLI can exit immediately.
func spawnDetachedAnalytics(payloadJSON string) {
	exe, err := os.Executable()
	if err != nil {
		return
	}

	cmd := exec.Command(exe, SendCommandName, payloadJSON) //nolint:gosec // payload is JSON we just marshaled
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return
	}

	// Release the child so it is not reaped through this process.
	_ = cmd.Process.Release()
}

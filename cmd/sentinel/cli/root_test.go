package cli

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
)

func TestTelemetryAgentNameFromFlag(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := &cobra.Command{Use: "enable"}
	cmd.Flags().String("agent", "", "")
	if err := cmd.Flags().Set("agent", "claude-code"); err != nil {
		t.Fatal(err)
	}

	if got := telemetryAgentName(cmd); got != "claude-code" {
		t.Errorf("telemetryAgentName() = %q, want flag value", got)
	}
}

func TestTelemetryAgentNameDetected(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := &cobra.Command{Use: "status"}
	if got := telemetryAgentName(cmd); got != "" {
		t.Errorf("telemetryAgentName() = %q, want empty without agent config", got)
	}

	if err := os.Mkdir(".claude", 0o750); err != nil {
		t.Fatal(err)
	}
	if got := telemetryAgentName(cmd); got != "claude-code" {
		t.Errorf("telemetryAgentName() = %q, want detected agent", got)
	}
}

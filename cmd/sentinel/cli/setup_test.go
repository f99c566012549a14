package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/settings"

	gogit "github.com/go-git/go-git/v5"
)

func TestValidateServerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "https", url: "https://approvals.example.com"},
		{name: "http with port", url: "http://localhost:8080"},
		{name: "empty", url: "", wantErr: true},
		{name: "no scheme", url: "approvals.example.com", wantErr: true},
		{name: "wrong scheme", url: "ftp://approvals.example.com", wantErr: true},
		{name: "no host", url: "https://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateServerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateServerURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSetupFlags(t *testing.T) {
	if err := validateSetupFlags(true, true); err == nil {
		t.Error("validateSetupFlags(true, true) error = nil, want error")
	}
	if err := validateSetupFlags(true, false); err != nil {
		t.Errorf("validateSetupFlags(true, false) error = %v", err)
	}
	if err := validateSetupFlags(false, false); err != nil {
		t.Errorf("validateSetupFlags(false, false) error = %v", err)
	}
}

func TestDetermineSettingsTarget(t *testing.T) {
	t.Chdir(t.TempDir())

	// Explicit flags always win.
	if useLocal, notify := determineSettingsTarget(true, false); !useLocal || notify {
		t.Errorf("determineSettingsTarget(local) = %v, %v", useLocal, notify)
	}
	if useLocal, notify := determineSettingsTarget(false, true); useLocal || notify {
		t.Errorf("determineSettingsTarget(project) = %v, %v", useLocal, notify)
	}

	// No flags, no settings file: write project settings.
	if useLocal, notify := determineSettingsTarget(false, false); useLocal || notify {
		t.Errorf("determineSettingsTarget(fresh) = %v, %v", useLocal, notify)
	}

	// Existing project settings redirect to local with a notification.
	if err := os.MkdirAll(paths.SentinelDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paths.SettingsFileName, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if useLocal, notify := determineSettingsTarget(false, false); !useLocal || !notify {
		t.Errorf("determineSettingsTarget(existing) = %v, %v, want true, true", useLocal, notify)
	}
}

func TestRunEnable(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	err := runEnable(&out, "claude-code", "https://approvals.example.com", false, false, false)
	if err != nil {
		t.Fatalf("runEnable() error = %v", err)
	}

	if !strings.Contains(out.String(), "hooks installed") {
		t.Errorf("output = %q, missing hooks line", out.String())
	}
	if !strings.Contains(out.String(), "Sentinel enabled") {
		t.Errorf("output = %q, missing enabled line", out.String())
	}

	cfg, err := settings.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server != "https://approvals.example.com" {
		t.Errorf("Server = %q", cfg.Server)
	}
	if !cfg.Enabled {
		t.Error("Enabled = false after enable")
	}

	if _, err := os.Stat(filepath.Join(".claude", "settings.json")); err != nil {
		t.Errorf("claude settings not written: %v", err)
	}
}

func TestRunEnableRejectsBadServer(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	if err := runEnable(&out, "claude-code", "not-a-url", false, false, false); err == nil {
		t.Fatal("runEnable() error = nil, want invalid URL error")
	}
}

func TestRunEnableUnknownAgent(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	if err := runEnable(&out, "no-such-agent", "https://approvals.example.com", false, false, false); err == nil {
		t.Fatal("runEnable() error = nil, want unknown agent error")
	}
}

func TestRunDisable(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	if err := runEnable(&out, "claude-code", "https://approvals.example.com", false, false, false); err != nil {
		t.Fatalf("runEnable() error = %v", err)
	}

	out.Reset()
	if err := runDisable(&out, false, false); err != nil {
		t.Fatalf("runDisable() error = %v", err)
	}

	cfg, err := settings.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Enabled {
		t.Error("Enabled = true after disable")
	}

	// Hooks stay installed without --remove-hooks.
	if _, err := os.Stat(filepath.Join(".claude", "settings.json")); err != nil {
		t.Errorf("claude settings removed without --remove-hooks: %v", err)
	}
}

func TestRunDisableRemovesHooks(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	if err := runEnable(&out, "claude-code", "https://approvals.example.com", false, false, false); err != nil {
		t.Fatalf("runEnable() error = %v", err)
	}

	out.Reset()
	if err := runDisable(&out, false, true); err != nil {
		t.Fatalf("runDisable() error = %v", err)
	}
	if !strings.Contains(out.String(), "hooks removed") {
		t.Errorf("output = %q, missing hooks removed line", out.String())
	}
}

func TestRunStatusOutsideRepo(t *testing.T) {
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	if err := runStatus(&out); err != nil {
		t.Fatalf("runStatus() error = %v", err)
	}
	if !strings.Contains(out.String(), "not a git repository") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunStatusShowsEnrollmentsAndStreams(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := gogit.PlainInit(".", false); err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}

	stateDir := t.TempDir()
	t.Setenv(paths.StateDirEnvVar, stateDir)

	var out bytes.Buffer
	if err := runEnable(&out, "claude-code", "https://approvals.example.com", false, false, false); err != nil {
		t.Fatalf("runEnable() error = %v", err)
	}

	enrollDir := filepath.Join(stateDir, paths.EnrollmentsDirName)
	if err := os.MkdirAll(enrollDir, 0o750); err != nil {
		t.Fatal(err)
	}
	marker := `{"relay_id":"relay-1","device_id":"device-1"}` + "\n"
	if err := os.WriteFile(filepath.Join(enrollDir, "relay-1.json"), []byte(marker), 0o600); err != nil {
		t.Fatal(err)
	}

	streamsDir := filepath.Join(stateDir, paths.StreamsDirName)
	if err := os.MkdirAll(streamsDir, 0o750); err != nil {
		t.Fatal(err)
	}
	handle := fmt.Sprintf(`{"session_id":"session-1","relay_id":"relay-1","pid":%d}`+"\n", os.Getpid())
	if err := os.WriteFile(filepath.Join(streamsDir, "session-1.json"), []byte(handle), 0o600); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := runStatus(&out); err != nil {
		t.Fatalf("runStatus() error = %v", err)
	}
	for _, want := range []string{"enabled", "enrolled sessions: relay-1", "stream session-1 (relay relay-1)", "live"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output = %q, missing %q", out.String(), want)
		}
	}
}

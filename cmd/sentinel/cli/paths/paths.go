// Package paths resolves the directories Sentinel reads and writes:
// the per-repository settings directory and the per-user state directory
// that holds enrollment markers, streamer handles, and logs.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
)

// Repository-local directory constants.
const (
	SentinelDir               = ".sentinel"
	SettingsFileName          = ".sentinel/settings.json"
	SettingsLocalFileName     = ".sentinel/settings.local.json"
	ClaudeSettingsDirName     = ".claude"
	ClaudeSettingsFileRelPath = ".claude/settings.json"
)

// StateDirEnvVar overrides the state directory location. Used by tests and
// by deployments that keep hook state on a different volume.
const StateDirEnvVar = "SENTINEL_STATE_DIR"

// State subdirectory names under StateDir.
const (
	EnrollmentsDirName = "enrollments"
	StreamsDirName     = "streams"
	LogsDirName        = "logs"
)

// repoRootCache caches the repository root to avoid re-opening the repo on
// every call. Keyed by working directory to handle directory changes.
var (
	repoRootMu       sync.RWMutex
	repoRootCache    string
	repoRootCacheDir string
)

// RepoRoot returns the git repository root for the current working directory.
// Works from any subdirectory. The result is cached per working directory.
// Returns an error if not inside a git repository.
func RepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	repoRootMu.RLock()
	if repoRootCache != "" && repoRootCacheDir == cwd {
		cached := repoRootCache
		repoRootMu.RUnlock()
		return cached, nil
	}
	repoRootMu.RUnlock()

	repo, err := git.PlainOpenWithOptions(".", &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("failed to open git repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	root := wt.Filesystem.Root()

	repoRootMu.Lock()
	repoRootCache = root
	repoRootCacheDir = cwd
	repoRootMu.Unlock()

	return root, nil
}

// ProjectName returns the project identifier sent to the approval server:
// the basename of the repository root. Returns an empty string when not in
// a git repository (the server treats project as optional).
func ProjectName() string {
	root, err := RepoRoot()
	if err != nil {
		return ""
	}
	return filepath.Base(root)
}

// AbsPath converts a repo-relative path to an absolute path rooted at the
// repository root. Falls back to the working directory when outside a repo.
func AbsPath(rel string) (string, error) {
	root, err := RepoRoot()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			return "", fmt.Errorf("failed to get working directory: %w", cwdErr)
		}
		root = cwd
	}
	return filepath.Join(root, rel), nil
}

// StateDir returns the per-user state directory. Honors SENTINEL_STATE_DIR,
// then XDG_STATE_HOME, then falls back to ~/.local/state/sentinel.
func StateDir() (string, error) {
	if dir := os.Getenv(StateDirEnvVar); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "sentinel"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "sentinel"), nil
}

// EnrollmentsDir returns the directory holding enrollment marker files.
func EnrollmentsDir() (string, error) {
	return stateSubdir(EnrollmentsDirName)
}

// StreamsDir returns the directory holding streamer handle and lock files.
func StreamsDir() (string, error) {
	return stateSubdir(StreamsDirName)
}

// LogsDir returns the directory holding per-session log files.
func LogsDir() (string, error) {
	return stateSubdir(LogsDirName)
}

func stateSubdir(name string) (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

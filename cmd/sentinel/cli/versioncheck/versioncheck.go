// Package versioncheck notifies the user when a newer CLI release exists.
// Checks are rate-limited through an on-disk cache and silent on all errors.
package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/jsonutil"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

const (
	// checkInterval is the minimum time between release feed fetches.
	checkInterval = 24 * time.Hour

	fetchTimeout  = 2 * time.Second
	cacheFileName = "version_check.json"

	// maxReleaseBody caps the release feed read.
	maxReleaseBody = 1 << 20
)

// releaseURL is a var so tests can point the fetch at a local server.
var releaseURL = "https://api.github.com/repos/sentinelhq/sentinel/releases/latest"

// githubRelease is the slice of the GitHub release API response we use.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
}

// checkCache records when the release feed was last consulted. It lives in
// the state directory next to the enrollment and stream records.
type checkCache struct {
	LastCheck time.Time `json:"last_check"`
}

// CheckAndNotify performs a version check and notifies the user if a newer
// version is available. Silent on all errors to avoid interrupting CLI
// operations.
func CheckAndNotify(cmd *cobra.Command, currentVersion string) {
	// Hook commands must stay quiet; their stdout is a wire format.
	if cmd.Hidden {
		return
	}

	// Dev builds have no release to compare against.
	if currentVersion == "dev" || currentVersion == "" {
		return
	}

	path, err := cachePath()
	if err != nil {
		return
	}
	if !dueForCheck(path) {
		return
	}

	latest, err := fetchLatestVersion()

	// Record the attempt either way so failures do not retry on every run.
	if saveErr := saveCache(path); saveErr != nil {
		logging.Debug(context.Background(), "version check: failed to save cache",
			"error", saveErr.Error())
	}

	if err != nil {
		logging.Debug(context.Background(), "version check: failed to fetch latest version",
			"error", err.Error())
		return
	}

	if isOutdated(currentVersion, latest) {
		printNotification(cmd, currentVersion, latest)
	}
}

func cachePath() (string, error) {
	dir, err := paths.StateDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	return filepath.Join(dir, cacheFileName), nil
}

// dueForCheck reports whether enough time has passed since the last recorded
// check. Missing or corrupt cache files count as due.
func dueForCheck(path string) bool {
	data, err := os.ReadFile(path) //nolint:gosec // path derived from the state directory
	if err != nil {
		return true
	}
	var cache checkCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return true
	}
	return time.Since(cache.LastCheck) >= checkInterval
}

// saveCache stamps the cache with the current time, atomically.
func saveCache(path string) error {
	data, err := jsonutil.MarshalIndentWithNewline(checkCache{LastCheck: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming cache: %w", err)
	}
	return nil
}

// fetchLatestVersion fetches the latest stable release tag from GitHub.
func fetchLatestVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "sentinel-cli")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReleaseBody))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	return parseGitHubRelease(body)
}

// parseGitHubRelease extracts the latest stable version from the API
// response. Prereleases are not offered as updates.
func parseGitHubRelease(body []byte) (string, error) {
	var release githubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}
	if release.Prerelease {
		return "", errors.New("only prerelease versions available")
	}
	if release.TagName == "" {
		return "", errors.New("empty tag name")
	}
	return release.TagName, nil
}

// isOutdated reports whether current < latest under semver ordering.
func isOutdated(current, latest string) bool {
	// The semver package requires the "v" prefix.
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	if !strings.HasPrefix(latest, "v") {
		latest = "v" + latest
	}
	return semver.Compare(current, latest) < 0
}

// updateCommand returns the update instruction matching how the binary was
// installed.
func updateCommand() string {
	execPath, err := os.Executable()
	if err != nil {
		return "go install github.com/sentinelhq/sentinel/cmd/sentinel@latest"
	}

	// Homebrew symlinks bin/ entries into the Cellar.
	realPath, err := filepath.EvalSymlinks(execPath)
	if err != nil {
		realPath = execPath
	}
	if strings.Contains(realPath, "/Cellar/") || strings.Contains(realPath, "/homebrew/") {
		return "brew upgrade sentinel"
	}

	return "go install github.com/sentinelhq/sentinel/cmd/sentinel@latest"
}

func printNotification(cmd *cobra.Command, current, latest string) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"\nA newer version of Sentinel CLI is available: %s (current: %s)\nRun '%s' to update.\n",
		latest, current, updateCommand())
}

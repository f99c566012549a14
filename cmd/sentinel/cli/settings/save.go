package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/jsonutil"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/paths"
)

// Save writes the settings to .sentinel/settings.json.
func Save(settings *SentinelSettings) error {
	return saveToFile(settings, paths.SettingsFileName)
}

// SaveLocal writes the settings to .sentinel/settings.local.json.
func SaveLocal(settings *SentinelSettings) error {
	return saveToFile(settings, paths.SettingsLocalFileName)
}

func saveToFile(settings *SentinelSettings, filePath string) error {
	filePathAbs, err := paths.AbsPath(filePath)
	if err != nil {
		filePathAbs = filePath
	}

	if err := os.MkdirAll(filepath.Dir(filePathAbs), 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	//nolint:gosec // G306: settings file is config, not secrets; 0o644 is appropriate
	if err := os.WriteFile(filePathAbs, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

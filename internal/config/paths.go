// Package config provides configuration management for guildwire.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// configDirectory returns the per-user configuration directory.
//
// Locations:
//   - Windows: %APPDATA%\guildwire
//   - Unix: ~/.config/guildwire
func configDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "guildwire"), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, ".config", "guildwire"), nil
	}
	return filepath.Join(configDir, "guildwire"), nil
}

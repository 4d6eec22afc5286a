package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Application directory name used across all platforms.
const appName = "quark-mirror"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/quark-mirror).
// On macOS, uses ~/Library/Application Support/quark-mirror.
func DefaultConfigDir() string {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific directory for the database.
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/quark-mirror).
// macOS shares one directory for config and data.
func DefaultDataDir() string {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// platformDir resolves an application directory from an XDG variable on
// Linux, the Application Support folder on macOS, and a home-relative
// fallback elsewhere. It returns "" when no home directory is known.
func platformDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	case "linux":
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(home, homeRel, appName)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither QUARK_MIRROR_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// Package appdir locates the Mindney configuration directory, which holds
// config.yaml, an optional .env file and rotated logs.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DirEnv overrides the configuration directory.
	DirEnv = "MINDNEY_DIR"

	ConfigFileName = "config.yaml"
	EnvFileName    = ".env"
	LogsDirName    = "logs"
	LogFileName    = "mindney.log"
)

var (
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the Mindney configuration directory:
// $MINDNEY_DIR if set, otherwise "mindney" under os.UserConfigDir
// (~/Library/Application Support on macOS, $XDG_CONFIG_HOME or ~/.config on
// Linux, %AppData% on Windows).
//
// It does not create the directory; see EnsureDir.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if cachedDir != "" {
		return cachedDir, nil
	}

	if envDir := os.Getenv(DirEnv); envDir != "" {
		cachedDir = envDir
		return cachedDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	cachedDir = filepath.Join(base, "mindney")
	return cachedDir, nil
}

// EnsureDir creates the configuration directory and its logs subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	logs := filepath.Join(dir, LogsDirName)
	if err := os.MkdirAll(logs, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", logs, err)
	}
	return nil
}

func join(name ...string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dir}, name...)...), nil
}

// ConfigPath returns the path of config.yaml.
func ConfigPath() (string, error) { return join(ConfigFileName) }

// EnvPath returns the path of the optional .env file.
func EnvPath() (string, error) { return join(EnvFileName) }

// LogPath returns the default rotated log file path.
func LogPath() (string, error) { return join(LogsDirName, LogFileName) }

// ResetCache clears the cached directory. Tests use it after changing DirEnv.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}

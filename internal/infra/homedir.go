package infra

import (
	"os"
	"path/filepath"
	"strings"
)

const EnvXDGDataHome = "XDG_DATA_HOME"

// ResolveDataDir returns the directory for otcbot's local state.
// It checks $XDG_DATA_HOME first and falls back to ~/.local/share/otcbot.
func ResolveDataDir() string {
	if dataHome := strings.TrimSpace(os.Getenv(EnvXDGDataHome)); dataHome != "" {
		return filepath.Join(dataHome, "otcbot")
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		// Extreme fallback
		return filepath.Join(os.TempDir(), "otcbot")
	}
	return filepath.Join(home, ".local", "share", "otcbot")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return home
}

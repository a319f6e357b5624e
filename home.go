package devspace

import (
	"os"
	"path/filepath"
)

// Home returns the devspace home directory.
// It defaults to ~/.devspace but can be overridden with the DEVSPACE_HOME environment variable.
func Home() string {
	if v := os.Getenv("DEVSPACE_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".devspace")
}

// DefaultDBPath returns the default SQLite database path (~/.devspace/devspace.db).
func DefaultDBPath() string {
	return filepath.Join(Home(), "devspace.db")
}

// DefaultConfigPath returns the default config file path (~/.devspace/config.yaml).
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// WorkspacesPath returns the directory holding per-workspace bind mounts.
func WorkspacesPath() string {
	return filepath.Join(Home(), "workspaces")
}

// EnsureHome creates the devspace home and workspaces directories if they don't exist.
func EnsureHome() error {
	return os.MkdirAll(WorkspacesPath(), 0o755)
}

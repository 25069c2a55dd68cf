package config

import (
	"os"
	"path/filepath"
)

// Paths contains all filesystem locations used by a relay instance.
type Paths struct {
	Home     string // Data root directory
	Captures string // Stored capture-<millis>.jpg files
	Logs     string // Logs directory
	IndexDB  string // SQLite capture index path
	Static   string // Front-end assets served over HTTP
}

// GetPaths returns the directory layout rooted at dataDir. An empty dataDir
// resolves to DefaultDataDir; an empty staticDir resolves to DefaultStaticDir.
func GetPaths(dataDir, staticDir string) Paths {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	dataDir = ExpandPath(dataDir)
	if staticDir == "" {
		staticDir = DefaultStaticDir
	}

	return Paths{
		Home:     dataDir,
		Captures: filepath.Join(dataDir, "captures"),
		Logs:     filepath.Join(dataDir, "logs"),
		IndexDB:  filepath.Join(dataDir, "captures.db"),
		Static:   ExpandPath(staticDir),
	}
}

// DefaultDataDir returns the default data root (~/.camrelay).
func DefaultDataDir() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".camrelay")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the directory structure for the given paths if it does not exist.
func EnsureDirs(paths Paths) error {
	dirs := []string{
		paths.Home,
		paths.Captures,
		paths.Logs,
		paths.Static,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return nil
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataDir is the per-project directory holding the promptline database
const DataDir = ".promptline"

// DefaultPath is used when no database can be discovered
var DefaultPath = filepath.Join(DataDir, "promptline.db")

// DiscoverDatabase resolves the database path.
//
// PROMPTLINE_DB takes precedence (allows ":memory:" and test isolation).
// Otherwise .promptline/*.db in the current directory is used; parent
// directories are not searched so nested projects never share a database.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("PROMPTLINE_DB"); dbPath != "" {
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir checks for .promptline/*.db in dir only
func discoverDatabaseInDir(dir string) (string, error) {
	dataDir := filepath.Join(dir, DataDir)

	info, err := os.Stat(dataDir)
	if err == nil && info.IsDir() {
		entries, err := os.ReadDir(dataDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".db") {
					absPath, err := filepath.Abs(filepath.Join(dataDir, entry.Name()))
					if err != nil {
						return "", fmt.Errorf("failed to get absolute path: %w", err)
					}
					return absPath, nil
				}
			}
		}
	}

	return "", fmt.Errorf(
		"no %s/*.db found in %s\n"+
			"  Run 'promptline init' to create one here\n"+
			"  Or use --db to specify the database path explicitly",
		DataDir, dir)
}

// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile      = "jamibus.pid"
	ConfigFile   = "config.toml"
	LogFile      = "jamibus.log"
	HistoryFile  = "history"
	DownloadsDir = "downloads"
)

// BinaryName is the daemon executable name.
const BinaryName = "jamibus"

// DataDirRel is the data directory relative to $HOME.
const DataDirRel = ".jamibus"

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// Resolve returns the data directory: override when set, otherwise
// $HOME/.jamibus.
func Resolve(override string) (DataDir, error) {
	if override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return DataDir{}, fmt.Errorf("resolving data dir: %w", err)
		}
		return DataDir{Root: abs}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DataDir{}, fmt.Errorf("finding home directory: %w", err)
	}
	return DataDir{Root: filepath.Join(home, DataDirRel)}, nil
}

// Ensure creates the data directory if it does not exist.
func (d DataDir) Ensure() error {
	if err := os.MkdirAll(d.Root, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	return nil
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// History returns the full path to the console history file.
func (d DataDir) History() string { return filepath.Join(d.Root, HistoryFile) }

// Downloads returns the directory accepted file transfers are written to.
// A non-empty configured directory wins; a relative one is resolved
// against the data directory.
func (d DataDir) Downloads(configured string) string {
	switch {
	case configured == "":
		return filepath.Join(d.Root, DownloadsDir)
	case filepath.IsAbs(configured):
		return configured
	default:
		return filepath.Join(d.Root, configured)
	}
}

package util

import (
	"os"
	"path/filepath"
)

// DataDirEnv overrides the data directory (tests point it at a temp dir)
const DataDirEnv = "AURAPHONE_PRESENCE_DIR"

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv(DataDirEnv); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".auraphone-presence-data")
}

// GetLogDir returns the directory for rotated log files, creating it if needed
func GetLogDir() string {
	logDir := filepath.Join(GetDataDir(), "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic(err)
	}
	return logDir
}

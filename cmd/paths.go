package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	consts "github.com/RomanRII/NetExec/internal/shared/constants"
)

const dataDirEnvVar = "NXC_PATH"

// getDataDir returns $NXC_PATH or ~/.nxc, creating it when missing.
func getDataDir() (string, error) {
	baseDir := os.Getenv(dataDirEnvVar)
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".nxc")
	}

	if err := os.MkdirAll(baseDir, consts.DefaultDirPerm); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return baseDir, nil
}

// Package config holds filesystem discovery helpers shared by the library
// defaults and the admin CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// FindProjectRoot searches for the project root directory by looking for
// go.mod starting from the given directory and traversing up the directory
// tree.
//
// It returns the absolute path to the directory containing go.mod, or an
// error if go.mod is not found in any parent directory. The registry default
// path is anchored here so every tool run inside the project shares one
// registry regardless of working directory.
func FindProjectRoot(startDir string) (string, error) {
	absPath, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absPath
	for {
		goModPath := filepath.Join(currentDir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		currentDir = parentDir
	}
}

// FindConfigFile searches for a named configuration file starting from the
// given directory and traversing up the directory tree, stopping at the
// filesystem root.
//
// It returns the absolute path of the first match, or an error when no
// parent directory contains the file.
func FindConfigFile(startDir, filename string) (string, error) {
	absPath, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absPath
	for {
		candidate := filepath.Join(currentDir, filename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", fmt.Errorf("%s not found in any parent directory", filename)
		}
		currentDir = parentDir
	}
}

package config

import (
	"os"
	"path/filepath"
)

// GetUserConfigDir returns ~/.config/tugcast, following the teacher's
// single-dotdir-under-home convention but renamed to this project's.
func GetUserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "tugcast"), nil
}

// GetProjectDir walks up from the working directory looking for a
// .tugcast or .git directory, falling back to the working directory
// itself if neither is found.
func GetProjectDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, ".tugcast")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return wd, nil
		}
		dir = parent
	}
}

// EnsureConfigDirs creates both the user config directory and the
// project's .tugcast directory.
func EnsureConfigDirs(userConfigDir, projectDir string) error {
	if err := os.MkdirAll(userConfigDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(projectDir, ".tugcast"), 0o755)
}

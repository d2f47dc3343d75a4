package main

import "path/filepath"

func stateDirConfigPath(stateDir string) string {
	return filepath.Join(stateDir, "config.json")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sage-sh/sage/internal/config"
	"github.com/sage-sh/sage/internal/pluginscan"
)

// scanPluginInput is the host-supplied plugin descriptor shape for
// `sage scan` (§4.12 step 1: enumeration is out-of-scope adapter code that
// hands Sage {key, installPath, version, lastUpdated}).
type scanPluginInput struct {
	Key         string `json:"key"`
	InstallPath string `json:"installPath"`
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
}

// runScan implements `sage scan` (C13): reads a JSON array of plugin
// descriptors from stdin and runs the plugin scanner session against them.
func runScan(_ []string, stateDir string) {
	raw, err := decodeStdin(os.Stdin)
	if err != nil {
		fatalf("read stdin: %v", err)
	}

	var inputs []scanPluginInput
	if err := json.Unmarshal(raw, &inputs); err != nil {
		fatalf("parse plugin list: %v", err)
	}

	plugins := make([]pluginscan.Plugin, 0, len(inputs))
	for _, p := range inputs {
		lastUpdated, _ := time.Parse(time.RFC3339, p.LastUpdated)
		plugins = append(plugins, pluginscan.Plugin{
			Key:         p.Key,
			InstallPath: p.InstallPath,
			Version:     p.Version,
			LastUpdated: lastUpdated,
		})
	}

	cfg := config.Load(stateDirConfigPath(stateDir))
	results := pluginscan.RunSession(context.Background(), plugins, cfg, stateDir)

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		fatalf("marshal scan results: %v", err)
	}
	fmt.Println(string(data))
}

package config

import "github.com/kelseyhightower/envconfig"

// RuntimeOptions are operational knobs outside the config.json schema of
// §6 — process-level settings that don't belong in a file an operator
// hand-edits, read from SAGE_* environment variables.
type RuntimeOptions struct {
	StateDir string `envconfig:"STATE_DIR"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	NoColor  bool   `envconfig:"NO_COLOR"`
}

// LoadRuntimeOptions reads RuntimeOptions from SAGE_* environment
// variables. A malformed value (e.g. a non-bool NO_COLOR) yields the
// zero-value defaults rather than an error.
func LoadRuntimeOptions() *RuntimeOptions {
	var o RuntimeOptions
	if err := envconfig.Process("sage", &o); err != nil {
		cfgLog.Warn("load runtime options: %v", err)
		return &RuntimeOptions{LogLevel: "info"}
	}
	if o.StateDir == "" {
		o.StateDir = DefaultStateDir()
	}
	return &o
}

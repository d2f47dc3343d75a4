// Package config loads and validates Sage's JSON configuration (C15), per
// the schema enumerated in §6: every field has a default, so a missing or
// malformed file yields full defaults rather than an error.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sage-sh/sage/internal/logger"
)

var cfgLog = logger.New("config")
var validate = validator.New()

// URLCheckConfig controls the URL reputation client (C8).
type URLCheckConfig struct {
	Enabled        bool    `json:"enabled"`
	TimeoutSeconds float64 `json:"timeout_seconds" validate:"gte=0"`
	Endpoint       string  `json:"endpoint,omitempty"`
}

// FileCheckConfig controls the file-hash reputation client (C8).
type FileCheckConfig struct {
	Enabled        bool    `json:"enabled"`
	TimeoutSeconds float64 `json:"timeout_seconds" validate:"gte=0"`
	Endpoint       string  `json:"endpoint,omitempty"`
}

// PackageCheckConfig controls the package registry checker (C9).
type PackageCheckConfig struct {
	Enabled        bool    `json:"enabled"`
	TimeoutSeconds float64 `json:"timeout_seconds" validate:"gte=0"`
}

// CacheConfig controls the verdict cache (C7).
type CacheConfig struct {
	Enabled             bool   `json:"enabled"`
	TTLMaliciousSeconds int    `json:"ttl_malicious_seconds" validate:"gte=0"`
	TTLCleanSeconds     int    `json:"ttl_clean_seconds" validate:"gte=0"`
	Path                string `json:"path"`
}

// AllowlistConfig controls the allowlist store (C6).
type AllowlistConfig struct {
	Path string `json:"path"`
}

// LoggingConfig controls the audit log (C14).
type LoggingConfig struct {
	Enabled  bool   `json:"enabled"`
	LogClean bool   `json:"log_clean"`
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes" validate:"gte=0"`
	MaxFiles int    `json:"max_files" validate:"gte=0"`
}

// Config is the full on-disk configuration object (§6).
type Config struct {
	URLCheck          URLCheckConfig     `json:"url_check"`
	FileCheck         FileCheckConfig    `json:"file_check"`
	PackageCheck      PackageCheckConfig `json:"package_check"`
	HeuristicsEnabled bool               `json:"heuristics_enabled"`
	Cache             CacheConfig        `json:"cache"`
	Allowlist         AllowlistConfig    `json:"allowlist"`
	Logging           LoggingConfig      `json:"logging"`
	Sensitivity       string             `json:"sensitivity" validate:"oneof=paranoid balanced relaxed"`
	DisabledThreats   []string           `json:"disabled_threats"`
}

// DefaultStateDir returns the platform-appropriate user state directory,
// defaulting to ~/.sage.
func DefaultStateDir() string {
	if dir := os.Getenv("SAGE_STATE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sage"
	}
	return filepath.Join(home, ".sage")
}

// DefaultConfigPath returns ~/.sage/config.json (or $SAGE_STATE_DIR/config.json).
func DefaultConfigPath() string {
	return filepath.Join(DefaultStateDir(), "config.json")
}

// DefaultConfig returns the fully-populated default configuration (§6).
func DefaultConfig() *Config {
	stateDir := DefaultStateDir()
	return &Config{
		URLCheck:          URLCheckConfig{Enabled: true, TimeoutSeconds: 5.0},
		FileCheck:         FileCheckConfig{Enabled: true, TimeoutSeconds: 5.0},
		PackageCheck:      PackageCheckConfig{Enabled: true, TimeoutSeconds: 5.0},
		HeuristicsEnabled: true,
		Cache: CacheConfig{
			Enabled:             true,
			TTLMaliciousSeconds: 3600,
			TTLCleanSeconds:     86400,
			Path:                filepath.Join(stateDir, "cache.json"),
		},
		Allowlist: AllowlistConfig{Path: filepath.Join(stateDir, "allowlist.json")},
		Logging: LoggingConfig{
			Enabled:  true,
			LogClean: false,
			Path:     filepath.Join(stateDir, "audit.jsonl"),
			MaxBytes: 5_242_880,
			MaxFiles: 3,
		},
		Sensitivity:     "balanced",
		DisabledThreats: nil,
	}
}

// Validate collects every schema violation into one multi-line error using
// struct tags, mirroring the teacher's hand-rolled multi-error Validate()
// but via a real validation library.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for i, e := range verrs {
		fmt.Fprintf(&sb, "  %d. %s: failed %q (got %v)\n", i+1, e.Namespace(), e.Tag(), e.Value())
	}
	return errors.New(sb.String())
}

// Load reads path, merging onto DefaultConfig() so omitted fields keep
// their default rather than zeroing out. Any failure — missing file,
// malformed JSON, a failed Validate() — yields the defaults, logged but
// never returned as an error (config is fail-open, §7 kind 2).
func Load(path string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			cfgLog.Warn("read config %s: %v", path, err)
		}
		return cfg
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		cfgLog.Warn("parse config %s: %v", path, err)
		return DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		cfgLog.Warn("%v", err)
		return DefaultConfig()
	}

	return cfg
}

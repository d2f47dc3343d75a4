package pluginscan

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/sage-sh/sage/internal/audit"
	"github.com/sage-sh/sage/internal/config"
	"github.com/sage-sh/sage/internal/reputation"
	"github.com/sage-sh/sage/internal/threat"
)

// PluginResult is one plugin's scan outcome, cache-hit or freshly scanned.
type PluginResult struct {
	Plugin   Plugin
	Findings []Finding
}

// RunSession implements §4.12 steps 2-4 and the trailing cache-write /
// audit-log step: excludes Sage's own entry, loads the scan cache keyed
// on the current config, and scans or replays from cache per plugin.
func RunSession(ctx context.Context, plugins []Plugin, cfg *config.Config, stateDir string) []PluginResult {
	var rules []threat.Rule
	if cfg.HeuristicsEnabled {
		loader := threat.NewLoader(filepath.Join(stateDir, "threats"))
		rules = loader.Load(cfg.DisabledThreats)
	}
	trusted := threat.LoadRegistry(filepath.Join(stateDir, "trusted_domains"))

	var client *reputation.Client
	if cfg.URLCheck.Enabled || cfg.FileCheck.Enabled {
		urlEndpoint, fileEndpoint := "", ""
		if cfg.URLCheck.Enabled {
			urlEndpoint = cfg.URLCheck.Endpoint
		}
		if cfg.FileCheck.Enabled {
			fileEndpoint = cfg.FileCheck.Endpoint
		}
		client = reputation.New(reputation.DefaultTimeout, urlEndpoint, fileEndpoint, "", "")
	}
	scanner := NewScanner(rules, trusted, client)

	hash := ConfigHash(cfg.DisabledThreats, cfg.HeuristicsEnabled)
	cache := LoadCache(filepath.Join(stateDir, "plugin_scan_cache.json"), hash)
	auditLog := audit.New(cfg.Logging.Path, cfg.Logging.Enabled, cfg.Logging.LogClean, cfg.Logging.MaxBytes, cfg.Logging.MaxFiles)

	var results []PluginResult
	for _, p := range plugins {
		if strings.HasPrefix(p.Key, SelfKeyPrefix) {
			continue
		}

		var findings []Finding
		if entry, hit := cache.Lookup(p); hit {
			findings = entry.Findings
		} else {
			findings = scanner.ScanPlugin(ctx, p)
			cache.Put(p, findings)
		}

		results = append(results, PluginResult{Plugin: p, Findings: findings})

		if len(findings) > 0 {
			auditLog.Append(pluginAuditEntry(p, findings))
		}
	}

	cache.Save()
	return results
}

func pluginAuditEntry(p Plugin, findings []Finding) audit.Entry {
	reasons := make([]string, 0, len(findings))
	severity := "info"
	for _, f := range findings {
		reasons = append(reasons, f.Title)
		if f.Severity == "critical" {
			severity = "critical"
		}
	}
	return audit.Entry{
		Type:             "plugin_scan",
		Timestamp:        time.Now(),
		ToolName:         p.Key,
		ToolInputSummary: p.InstallPath,
		Verdict:          "finding",
		Severity:         severity,
		Reasons:          reasons,
		Source:           "plugin_scan",
	}
}

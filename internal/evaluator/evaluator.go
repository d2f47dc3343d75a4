// Package evaluator implements the per-tool-call orchestration (C11): it
// wires C2..C10 together for one hook invocation and returns a single
// Verdict.
package evaluator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sage-sh/sage/internal/allowlist"
	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/audit"
	"github.com/sage-sh/sage/internal/config"
	"github.com/sage-sh/sage/internal/decision"
	"github.com/sage-sh/sage/internal/heuristics"
	"github.com/sage-sh/sage/internal/logger"
	"github.com/sage-sh/sage/internal/normalize"
	"github.com/sage-sh/sage/internal/packagecheck"
	"github.com/sage-sh/sage/internal/reputation"
	"github.com/sage-sh/sage/internal/threat"
	"github.com/sage-sh/sage/internal/verdictcache"
)

var log = logger.New("evaluator")

// Request is one host tool-call payload (§6 hook-call contract, the
// tool_input field only — session_id/tool_name arrive alongside it).
type Request struct {
	SessionID string
	ToolName  string
	ToolInput json.RawMessage
}

// cachedURL pairs a URL artifact with its cache hit, in extraction order —
// used to pick a deterministic "first" entry for verdict promotion (§4.10
// step 10), since Go map iteration order is not stable enough to honor the
// spec's "first in map order" literally.
type cachedURL struct {
	url   string
	entry verdictcache.Entry
}

// Evaluate runs the full C2..C10 pipeline for one tool call under
// stateDir, following §4.10's 13-step contract. It never returns an error:
// every failure mode (config, allowlist, cache, reputation, audit) is
// fail-open per §7, and the only possible outcomes are allow/ask/deny.
func Evaluate(ctx context.Context, req Request, stateDir string) decision.Verdict {
	// config.DefaultConfig() derives cache/allowlist/logging paths from
	// SAGE_STATE_DIR (internal/config.DefaultStateDir); a process evaluates
	// exactly one tool call (§5), so pinning it here for the duration of
	// this call is safe and keeps every state path scoped to stateDir even
	// when config.json doesn't override them.
	os.Setenv("SAGE_STATE_DIR", stateDir)

	paths := normalize.NewPaths()
	extractor := artifact.New(paths)
	artifacts := extractor.Extract(req.ToolName, req.ToolInput)

	cfg := config.Load(filepath.Join(stateDir, "config.json"))

	if len(artifacts) == 0 {
		v := decision.Verdict{Decision: decision.Allow, Source: "no_artifacts"}
		newAuditLogger(cfg).Append(buildEntry(req, nil, v, false))
		return v
	}

	allowStore := allowlist.Load(cfg.Allowlist.Path, paths)
	if allowStore.IsAllowlisted(artifacts) {
		v := decision.Verdict{Decision: decision.Allow, Source: "allowlisted"}
		entry := newAuditLogger(cfg)
		entry.Append(buildEntry(req, artifacts, v, true))
		return v
	}

	cache := verdictcache.Load(cfg.Cache.Path)

	var uncachedURLs []string
	var cachedURLs []cachedURL
	for _, a := range artifacts {
		if a.Type != artifact.TypeURL {
			continue
		}
		if e := cache.GetURL(a.Value); e != nil {
			cachedURLs = append(cachedURLs, cachedURL{url: a.Value, entry: *e})
		} else {
			uncachedURLs = append(uncachedURLs, a.Value)
		}
	}

	var matches []heuristics.Match
	if cfg.HeuristicsEnabled {
		loader := threat.NewLoader(filepath.Join(stateDir, "threats"))
		rules := loader.Load(cfg.DisabledThreats)
		trusted := threat.LoadRegistry(filepath.Join(stateDir, "trusted_domains"))
		engine := heuristics.New(rules, trusted)
		matches = engine.Evaluate(artifacts)
	}

	var urlVerdicts map[string]reputation.URLVerdict
	if cfg.URLCheck.Enabled && len(uncachedURLs) > 0 {
		client := reputation.New(toDuration(cfg.URLCheck.TimeoutSeconds), cfg.URLCheck.Endpoint, "", "", "")
		urlVerdicts = client.CheckURLs(ctx, uncachedURLs)
	}

	var pkgResults []packagecheck.Result
	if cfg.PackageCheck.Enabled && isPackageCheckTool(req.ToolName) {
		pkgs := extractPackages(req)
		var cachedPkgResults []packagecheck.Result
		var uncachedPkgs []packagecheck.Package
		for _, p := range pkgs {
			key := verdictcache.PackageKey(p.Registry, p.Name, p.Version)
			e := cache.GetPackage(key)
			if e == nil {
				uncachedPkgs = append(uncachedPkgs, p)
				continue
			}
			if r, ok := packageResultFromCache(p, *e); ok {
				cachedPkgResults = append(cachedPkgResults, r)
			}
		}

		if len(uncachedPkgs) > 0 {
			fileEndpoint := ""
			if cfg.FileCheck.Enabled {
				fileEndpoint = cfg.FileCheck.Endpoint
			}
			client := reputation.New(toDuration(cfg.PackageCheck.TimeoutSeconds), "", fileEndpoint, "", "")
			checker := packagecheck.NewChecker(client)
			pkgResults = append(pkgResults, checker.Check(ctx, uncachedPkgs)...)
		}
		pkgResults = append(pkgResults, cachedPkgResults...)
	}

	v := decision.Decide(matches, orderedURLVerdicts(uncachedURLs, urlVerdicts), pkgResults, decision.Sensitivity(cfg.Sensitivity))

	if v.Decision == decision.Allow {
		for _, c := range cachedURLs {
			if c.entry.Verdict != verdictcache.DecisionAllow {
				v = verdictFromCacheEntry(c)
				break
			}
		}
	}

	persistURLVerdicts(cache, urlVerdicts, cfg)
	persistPackageResults(cache, pkgResults, cfg)
	cache.Save()

	newAuditLogger(cfg).Append(buildEntry(req, artifacts, v, false))

	return v
}

func isPackageCheckTool(toolName string) bool {
	switch toolName {
	case "Bash", "bash", "exec", "Write", "write", "write_file", "Edit", "edit":
		return true
	default:
		return false
	}
}

// extractPackages pulls the raw command/filename/content fields the
// package extractor needs directly from the tool-call payload, bypassing
// the artifact layer (which truncates/transforms content for heuristics,
// not for manifest parsing).
func extractPackages(req Request) []packagecheck.Package {
	var args map[string]any
	if err := json.Unmarshal(req.ToolInput, &args); err != nil {
		log.WithField("session", req.SessionID).Warn("parse tool input for package extraction: %v", err)
		return nil
	}

	switch req.ToolName {
	case "Bash", "bash", "exec":
		cmd, _ := args["command"].(string)
		return packagecheck.Extract(cmd, "", "")
	case "Write", "write", "write_file":
		filename, _ := args["file_path"].(string)
		content, _ := args["content"].(string)
		return packagecheck.Extract("", filename, content)
	case "Edit", "edit":
		filename, _ := args["file_path"].(string)
		content, _ := args["new_string"].(string)
		return packagecheck.Extract("", filename, content)
	default:
		return nil
	}
}

func packageResultFromCache(p packagecheck.Package, e verdictcache.Entry) (packagecheck.Result, bool) {
	var verdict packagecheck.Verdict
	switch e.Verdict {
	case verdictcache.DecisionDeny:
		verdict = packagecheck.VerdictMalicious
	case verdictcache.DecisionAsk:
		verdict = packagecheck.VerdictSuspiciousAge
	default:
		return packagecheck.Result{}, false
	}
	details := ""
	if len(e.Reasons) > 0 {
		details = e.Reasons[0]
	}
	return packagecheck.Result{Package: p, Verdict: verdict, Confidence: 1, Details: details}, true
}

func verdictFromCacheEntry(c cachedURL) decision.Verdict {
	return decision.Verdict{
		Decision:   decision.Outcome(c.entry.Verdict),
		Severity:   decision.Severity(c.entry.Severity),
		Source:     c.entry.Source,
		Confidence: 1,
		Artifacts:  []artifact.Artifact{{Type: artifact.TypeURL, Value: c.url}},
		Reasons:    c.entry.Reasons,
	}
}

// orderedURLVerdicts rebuilds verdicts in urls' extraction order, mirroring
// cachedURL above — map iteration order is not stable enough to honor the
// decision engine's tie-break guarantee (§4.9) across runs of identical
// input.
func orderedURLVerdicts(urls []string, verdicts map[string]reputation.URLVerdict) []reputation.URLVerdict {
	if len(verdicts) == 0 {
		return nil
	}
	out := make([]reputation.URLVerdict, 0, len(urls))
	for _, u := range urls {
		if v, ok := verdicts[u]; ok {
			out = append(out, v)
		}
	}
	return out
}

func persistURLVerdicts(cache *verdictcache.Cache, verdicts map[string]reputation.URLVerdict, cfg *config.Config) {
	ttlMalicious := time.Duration(cfg.Cache.TTLMaliciousSeconds) * time.Second
	ttlClean := time.Duration(cfg.Cache.TTLCleanSeconds) * time.Second
	for url, v := range verdicts {
		switch {
		case v.IsMalicious:
			cache.PutURL(url, verdictcache.DecisionDeny, "critical", "url_check", v.Findings, true, ttlMalicious, ttlClean)
		case len(v.Flags) > 0:
			cache.PutURL(url, verdictcache.DecisionAsk, "warning", "url_check", v.Flags, false, ttlMalicious, ttlClean)
		default:
			cache.PutURL(url, verdictcache.DecisionAllow, "info", "url_check", nil, false, ttlMalicious, ttlClean)
		}
	}
}

func persistPackageResults(cache *verdictcache.Cache, results []packagecheck.Result, cfg *config.Config) {
	for _, r := range results {
		key := verdictcache.PackageKey(r.Package.Registry, r.Package.Name, r.Package.Version)
		var verdict verdictcache.Decision
		switch r.Verdict {
		case packagecheck.VerdictNotFound, packagecheck.VerdictMalicious:
			verdict = verdictcache.DecisionDeny
		case packagecheck.VerdictSuspiciousAge:
			verdict = verdictcache.DecisionAsk
		case packagecheck.VerdictClean:
			verdict = verdictcache.DecisionAllow
		default:
			continue // unknown verdicts (registry error) are never cached
		}
		var reasons []string
		if r.Details != "" {
			reasons = []string{r.Details}
		}
		cache.PutPackage(key, verdict, string(r.Verdict), "package_check", reasons, r.AgeDays)
	}
}

func toDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return reputation.DefaultTimeout
	}
	return time.Duration(seconds * float64(time.Second))
}

func newAuditLogger(cfg *config.Config) *audit.Logger {
	return audit.New(cfg.Logging.Path, cfg.Logging.Enabled, cfg.Logging.LogClean, cfg.Logging.MaxBytes, cfg.Logging.MaxFiles)
}

func buildEntry(req Request, artifacts []artifact.Artifact, v decision.Verdict, userOverride bool) audit.Entry {
	return audit.Entry{
		Type:             "verdict",
		Timestamp:        time.Now(),
		SessionID:        req.SessionID,
		ToolName:         req.ToolName,
		ToolInputSummary: audit.Summarize(req.ToolName, req.ToolInput),
		Artifacts:        artifacts,
		Verdict:          string(v.Decision),
		Severity:         string(v.Severity),
		Reasons:          v.Reasons,
		Source:           v.Source,
		UserOverride:     userOverride,
	}
}

// Package verdictcache implements the TTL'd URL/command/package verdict
// cache (C7).
package verdictcache

import (
	"encoding/json"
	"os"
	"time"

	"github.com/sage-sh/sage/internal/fileutil"
	"github.com/sage-sh/sage/internal/logger"
	"github.com/sage-sh/sage/internal/normalize"
)

var log = logger.New("verdictcache")

// Decision mirrors the verdict's decision enum, duplicated here rather than
// imported from the decision package to keep this package leaf-level and
// free of an import cycle (the decision engine is a consumer of the cache,
// not the other way around).
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// Entry is one cached verdict.
type Entry struct {
	Verdict   Decision  `json:"verdict"`
	Severity  string    `json:"severity"`
	Reasons   []string  `json:"reasons,omitempty"`
	Source    string    `json:"source"`
	CheckedAt time.Time `json:"checked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

type onDisk struct {
	URLs     map[string]Entry `json:"urls"`
	Commands map[string]Entry `json:"commands"`
	Packages map[string]Entry `json:"packages"`
}

// Cache is the in-memory verdict cache backed by a single JSON file.
type Cache struct {
	path string
	now  func() time.Time

	urls     map[string]Entry
	commands map[string]Entry
	packages map[string]Entry
}

// Load reads path. A missing or malformed file yields an empty cache,
// never an error.
func Load(path string) *Cache {
	c := &Cache{
		path:     path,
		now:      time.Now,
		urls:     map[string]Entry{},
		commands: map[string]Entry{},
		packages: map[string]Entry{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read verdict cache %s: %v", path, err)
		}
		return c
	}

	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		log.Warn("parse verdict cache %s: %v", path, err)
		return c
	}
	if d.URLs != nil {
		c.urls = d.URLs
	}
	if d.Commands != nil {
		c.commands = d.Commands
	}
	if d.Packages != nil {
		c.packages = d.Packages
	}
	return c
}

// Save writes the cache back atomically. Best-effort: failures are logged
// and swallowed (§4.6).
func (c *Cache) Save() {
	d := onDisk{URLs: c.urls, Commands: c.commands, Packages: c.packages}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		log.Warn("marshal verdict cache: %v", err)
		return
	}
	if err := fileutil.WriteAtomic(c.path, data); err != nil {
		log.Warn("write verdict cache %s: %v", c.path, err)
	}
}

// GetURL returns the cached entry for url, or nil when missing or expired.
// An expired entry is also deleted on read.
func (c *Cache) GetURL(url string) *Entry {
	return c.get(c.urls, normalize.URL(url))
}

func (c *Cache) GetCommand(command string) *Entry {
	return c.get(c.commands, normalize.Command(command))
}

// PackageKey builds the "registry:name[@version]" cache key (§3).
func PackageKey(registry, name, version string) string {
	k := registry + ":" + name
	if version != "" {
		k += "@" + version
	}
	return k
}

func (c *Cache) GetPackage(key string) *Entry {
	return c.get(c.packages, key)
}

func (c *Cache) get(m map[string]Entry, key string) *Entry {
	e, ok := m[key]
	if !ok {
		return nil
	}
	if e.expired(c.now()) {
		delete(m, key)
		return nil
	}
	return &e
}

// TTLs per §3/§4.6.
const (
	TTLMaliciousDefault = time.Hour
	TTLCleanDefault     = 24 * time.Hour
	ttlPackageDeny      = 24 * time.Hour
	ttlPackageFreshAge  = 1 * time.Hour
	ttlPackageOther     = 1 * time.Hour
	freshAgeWindow      = 7 * 24 * time.Hour
)

// PutURL caches a URL verdict using ttlMalicious or ttlClean depending on
// isMalicious. §ATK-01 (third case): callers MUST pass a verdict derived
// from the URL-check client's own result for this URL, never a verdict
// borrowed from a heuristic match against an unrelated command artifact —
// this function has no way to enforce that, the evaluator's call
// discipline is what prevents cache poisoning (P6).
func (c *Cache) PutURL(url string, verdict Decision, severity, source string, reasons []string, isMalicious bool, ttlMalicious, ttlClean time.Duration) {
	ttl := ttlClean
	if isMalicious {
		ttl = ttlMalicious
	}
	c.urls[normalize.URL(url)] = Entry{
		Verdict:   verdict,
		Severity:  severity,
		Reasons:   reasons,
		Source:    source,
		CheckedAt: c.now(),
		ExpiresAt: c.now().Add(ttl),
	}
}

// PutCommand caches a command verdict with a far-future expiry — effectively
// permanent until a manual cache invalidation.
func (c *Cache) PutCommand(command string, verdict Decision, severity, source string, reasons []string) {
	c.commands[normalize.Command(command)] = Entry{
		Verdict:   verdict,
		Severity:  severity,
		Reasons:   reasons,
		Source:    source,
		CheckedAt: c.now(),
		ExpiresAt: c.now().AddDate(100, 0, 0),
	}
}

// PutPackage caches a package verdict using the TTL matrix from §4.6:
// deny → 24h; allow with ageDays<7 → 1h; allow otherwise → 24h; anything
// else → 1h.
func (c *Cache) PutPackage(key string, verdict Decision, severity, source string, reasons []string, ageDays *int) {
	var ttl time.Duration
	switch {
	case verdict == DecisionDeny:
		ttl = ttlPackageDeny
	case verdict == DecisionAllow && ageDays != nil && time.Duration(*ageDays)*24*time.Hour < freshAgeWindow:
		ttl = ttlPackageFreshAge
	case verdict == DecisionAllow:
		ttl = TTLCleanDefault
	default:
		ttl = ttlPackageOther
	}
	c.packages[key] = Entry{
		Verdict:   verdict,
		Severity:  severity,
		Reasons:   reasons,
		Source:    source,
		CheckedAt: c.now(),
		ExpiresAt: c.now().Add(ttl),
	}
}

// URLs exposes a read-only snapshot for CLI cache inspection.
func (c *Cache) URLs() map[string]Entry     { return c.urls }
func (c *Cache) Commands() map[string]Entry { return c.commands }
func (c *Cache) Packages() map[string]Entry { return c.packages }

// ClearURLs, ClearCommands, ClearPackages support `sage cache clear`.
func (c *Cache) ClearURLs()     { c.urls = map[string]Entry{} }
func (c *Cache) ClearCommands() { c.commands = map[string]Entry{} }
func (c *Cache) ClearPackages() { c.packages = map[string]Entry{} }

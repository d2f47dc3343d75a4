package pluginscan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"github.com/sage-sh/sage/internal/fileutil"
)

// pluginScanTTL bounds how long a cached scan stays valid regardless of
// whether the plugin's own version/lastUpdated identity is unchanged
// (spec.md:68): the heuristics corpus a plugin was scanned against can be
// updated independently of the plugin itself.
const pluginScanTTL = 7 * 24 * time.Hour

// CacheEntry is one plugin's last scan result, keyed by plugin identity.
type CacheEntry struct {
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"lastUpdated"`
	ScannedAt   time.Time `json:"scannedAt"`
	Findings    []Finding `json:"findings"`
}

type onDisk struct {
	ConfigHash string                `json:"configHash"`
	Plugins    map[string]CacheEntry `json:"plugins"`
}

// Cache is the plugin scan cache (C13), invalidated wholesale when
// configHash changes (§4.12 step 3).
type Cache struct {
	path       string
	configHash string
	entries    map[string]CacheEntry
}

// ConfigHash hashes the inputs that affect scan output — the heuristics
// corpus selection — so a config.json edit that disables threats or toggles
// heuristics invalidates every cached plugin scan. Only disabled_threats and
// heuristics_enabled are hashed: the Sage version and the contents of the
// threat YAML files are not part of the hash.
func ConfigHash(disabledThreats []string, heuristicsEnabled bool) string {
	data, _ := json.Marshal(struct {
		Disabled []string `json:"disabled_threats"`
		Enabled  bool     `json:"heuristics_enabled"`
	}{disabledThreats, heuristicsEnabled})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LoadCache reads path. A stored hash that differs from configHash drops
// every entry (§4.12 step 3); a missing or malformed file yields an empty
// cache under the given hash.
func LoadCache(path, configHash string) *Cache {
	c := &Cache{path: path, configHash: configHash, entries: map[string]CacheEntry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read plugin scan cache %s: %v", path, err)
		}
		return c
	}

	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		log.Warn("parse plugin scan cache %s: %v", path, err)
		return c
	}
	if d.ConfigHash == configHash && d.Plugins != nil {
		c.entries = d.Plugins
	}
	return c
}

// Save writes the cache back atomically (§4.14). Failures are logged and
// swallowed.
func (c *Cache) Save() {
	data, err := json.MarshalIndent(onDisk{ConfigHash: c.configHash, Plugins: c.entries}, "", "  ")
	if err != nil {
		log.Warn("marshal plugin scan cache: %v", err)
		return
	}
	if err := fileutil.WriteAtomic(c.path, data); err != nil {
		log.Warn("write plugin scan cache %s: %v", c.path, err)
	}
}

// Lookup reports a cache hit only when the stored entry matches the
// plugin's current version and last-updated timestamp exactly (§4.12 step
// 4) and is younger than pluginScanTTL — any identity drift or staleness
// means the plugin, or the corpus it was scanned against, may have changed
// since the cached scan, and it must be rescanned.
func (c *Cache) Lookup(p Plugin) (CacheEntry, bool) {
	e, ok := c.entries[p.Key]
	if !ok || e.Version != p.Version || !e.LastUpdated.Equal(p.LastUpdated) {
		return CacheEntry{}, false
	}
	if time.Since(e.ScannedAt) > pluginScanTTL {
		return CacheEntry{}, false
	}
	return e, true
}

// Put records plugin's findings for future Lookup calls, stamped with the
// current time so the TTL in Lookup has a basis.
func (c *Cache) Put(p Plugin, findings []Finding) {
	c.entries[p.Key] = CacheEntry{Version: p.Version, LastUpdated: p.LastUpdated, ScannedAt: time.Now(), Findings: findings}
}

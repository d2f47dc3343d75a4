package pluginscan

import (
	"path/filepath"
	"testing"
	"time"
)

func TestCacheLookupMissThenHitAfterPut(t *testing.T) {
	dir := t.TempDir()
	c := LoadCache(filepath.Join(dir, "cache.json"), "h1")

	p := Plugin{Key: "p1", Version: "1.0.0", LastUpdated: time.Unix(1000, 0)}
	if _, ok := c.Lookup(p); ok {
		t.Fatal("expected a miss before any scan")
	}

	c.Put(p, []Finding{{Title: "x"}})
	if entry, ok := c.Lookup(p); !ok || len(entry.Findings) != 1 {
		t.Fatalf("expected a hit after Put, got %+v ok=%v", entry, ok)
	}
}

func TestCacheMissesWhenVersionChanges(t *testing.T) {
	dir := t.TempDir()
	c := LoadCache(filepath.Join(dir, "cache.json"), "h1")
	p := Plugin{Key: "p1", Version: "1.0.0", LastUpdated: time.Unix(1000, 0)}
	c.Put(p, []Finding{{Title: "x"}})

	newer := p
	newer.Version = "1.0.1"
	if _, ok := c.Lookup(newer); ok {
		t.Fatal("expected a version change to invalidate the cache entry")
	}
}

func TestCacheDropsAllEntriesWhenConfigHashChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	c1 := LoadCache(path, "h1")
	p := Plugin{Key: "p1", Version: "1.0.0", LastUpdated: time.Unix(1000, 0)}
	c1.Put(p, []Finding{{Title: "x"}})
	c1.Save()

	c2 := LoadCache(path, "h2")
	if _, ok := c2.Lookup(p); ok {
		t.Fatal("expected a changed config hash to invalidate every cached entry")
	}
}

func TestCachePersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	c1 := LoadCache(path, "h1")
	p := Plugin{Key: "p1", Version: "1.0.0", LastUpdated: time.Unix(1000, 0)}
	c1.Put(p, []Finding{{Title: "x"}})
	c1.Save()

	c2 := LoadCache(path, "h1")
	if _, ok := c2.Lookup(p); !ok {
		t.Fatal("expected the saved entry to survive a reload with the same config hash")
	}
}

func TestCacheMissesWhenEntryOlderThanTTL(t *testing.T) {
	dir := t.TempDir()
	c := LoadCache(filepath.Join(dir, "cache.json"), "h1")
	p := Plugin{Key: "p1", Version: "1.0.0", LastUpdated: time.Unix(1000, 0)}
	c.entries[p.Key] = CacheEntry{
		Version:     p.Version,
		LastUpdated: p.LastUpdated,
		ScannedAt:   time.Now().Add(-8 * 24 * time.Hour),
		Findings:    []Finding{{Title: "x"}},
	}

	if _, ok := c.Lookup(p); ok {
		t.Fatal("expected an entry older than the 7-day TTL to miss")
	}
}

func TestConfigHashDiffersWhenDisabledThreatsChange(t *testing.T) {
	a := ConfigHash([]string{"CLT-CMD-001"}, true)
	b := ConfigHash(nil, true)
	if a == b {
		t.Fatal("expected disabled_threats to affect the config hash")
	}
}

package verdictcache

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPutGetURLRoundTrips(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "cache.json"))
	c.PutURL("https://evil.example/x", DecisionDeny, "critical", "url_check", []string{"malicious"}, true, TTLMaliciousDefault, TTLCleanDefault)

	e := c.GetURL("https://evil.example/x")
	if e == nil || e.Verdict != DecisionDeny {
		t.Fatalf("expected cached deny verdict, got %+v", e)
	}
}

func TestGetURLExpiresAndDeletesEntry(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "cache.json"))
	frozen := time.Now()
	c.now = func() time.Time { return frozen }
	c.PutURL("https://x.test/a", DecisionAllow, "info", "url_check", nil, false, time.Hour, time.Millisecond)

	c.now = func() time.Time { return frozen.Add(time.Second) }
	if e := c.GetURL("https://x.test/a"); e != nil {
		t.Fatalf("expected expired entry to read as nil, got %+v", e)
	}
	if _, ok := c.urls[normalizeTestKey("https://x.test/a")]; ok {
		t.Fatal("expired entry should have been deleted on read")
	}
}

func normalizeTestKey(u string) string {
	c := Load("")
	c.PutURL(u, DecisionAllow, "info", "x", nil, false, time.Hour, time.Hour)
	for k := range c.urls {
		return k
	}
	return ""
}

func TestPackageTTLMatrix(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "cache.json"))
	frozen := time.Now()
	c.now = func() time.Time { return frozen }

	fresh := 3
	c.PutPackage("npm:foo@1.0.0", DecisionAllow, "info", "package_check", nil, &fresh)
	got := c.packages["npm:foo@1.0.0"]
	if !got.ExpiresAt.Equal(frozen.Add(ttlPackageFreshAge)) {
		t.Fatalf("expected 1h TTL for fresh allow package, got expiry %v", got.ExpiresAt)
	}

	old := 30
	c.PutPackage("npm:bar@1.0.0", DecisionAllow, "info", "package_check", nil, &old)
	got = c.packages["npm:bar@1.0.0"]
	if !got.ExpiresAt.Equal(frozen.Add(TTLCleanDefault)) {
		t.Fatalf("expected 24h TTL for stable allow package, got expiry %v", got.ExpiresAt)
	}

	c.PutPackage("npm:baz@1.0.0", DecisionDeny, "critical", "package_check", nil, nil)
	got = c.packages["npm:baz@1.0.0"]
	if !got.ExpiresAt.Equal(frozen.Add(ttlPackageDeny)) {
		t.Fatalf("expected 24h TTL for deny package, got expiry %v", got.ExpiresAt)
	}

	c.PutPackage("npm:qux@1.0.0", DecisionAsk, "warning", "package_check", nil, nil)
	got = c.packages["npm:qux@1.0.0"]
	if !got.ExpiresAt.Equal(frozen.Add(ttlPackageOther)) {
		t.Fatalf("expected 1h TTL for ask package, got expiry %v", got.ExpiresAt)
	}
}

func TestPutCommandUsesFarFutureExpiry(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "cache.json"))
	c.PutCommand("npm install lodash", DecisionAllow, "info", "allowlist", nil)

	e := c.GetCommand("npm install lodash")
	if e == nil {
		t.Fatal("expected cached command entry")
	}
	if e.ExpiresAt.Before(time.Now().AddDate(50, 0, 0)) {
		t.Fatal("expected far-future expiry for cached command")
	}
}

func TestSaveAndReloadPreservesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := Load(path)
	c.PutURL("https://a.test", DecisionAllow, "info", "url_check", nil, false, time.Hour, 24*time.Hour)
	c.Save()

	reloaded := Load(path)
	if reloaded.GetURL("https://a.test") == nil {
		t.Fatal("expected entry to survive save/reload")
	}
}

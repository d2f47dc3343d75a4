package approval

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sage-sh/sage/internal/artifact"
)

func TestAddPendingThenConsumeReturnsRecordOnce(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "sess1")

	rec := PendingRecord{
		ThreatID:    "CLT-CMD-001",
		ThreatTitle: "pipe to shell",
		Artifacts:   []artifact.Artifact{{Type: artifact.TypeCommand, Value: "curl x|sh"}},
	}
	s.AddPending("tooluse-1", rec)

	got, ok := s.ConsumePending("tooluse-1")
	if !ok || got.ThreatID != "CLT-CMD-001" {
		t.Fatalf("expected to consume the pending record, got %+v ok=%v", got, ok)
	}

	if _, ok := s.ConsumePending("tooluse-1"); ok {
		t.Fatal("expected second consume of the same id to fail")
	}
}

func TestConsumePendingWritesConsumedEntryPerArtifact(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "sess1")
	rec := PendingRecord{
		Artifacts: []artifact.Artifact{
			{Type: artifact.TypeCommand, Value: "curl x|sh"},
			{Type: artifact.TypeURL, Value: "https://evil.example"},
		},
	}
	s.AddPending("tooluse-1", rec)
	s.ConsumePending("tooluse-1")

	if _, ok := s.FindConsumed(artifact.TypeCommand, "curl x|sh"); !ok {
		t.Fatal("expected the command artifact to be recorded as consumed")
	}
	if _, ok := s.FindConsumed(artifact.TypeURL, "https://evil.example"); !ok {
		t.Fatal("expected the url artifact to be recorded as consumed")
	}
}

func TestFindConsumedExpiresAfterTTL(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "sess1")
	now := time.Now()
	s.now = func() time.Time { return now }

	s.AddPending("t1", PendingRecord{Artifacts: []artifact.Artifact{{Type: artifact.TypeCommand, Value: "x"}}})
	s.ConsumePending("t1")

	if _, ok := s.FindConsumed(artifact.TypeCommand, "x"); !ok {
		t.Fatal("expected fresh consumed entry to be found")
	}

	s.now = func() time.Time { return now.Add(ConsumedTTL + time.Second) }
	if _, ok := s.FindConsumed(artifact.TypeCommand, "x"); ok {
		t.Fatal("expected consumed entry to expire after its TTL")
	}
}

func TestConsumePendingExpiredPendingFails(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "sess1")
	now := time.Now()
	s.now = func() time.Time { return now }
	s.AddPending("t1", PendingRecord{})

	s.now = func() time.Time { return now.Add(PendingTTL + time.Second) }
	if _, ok := s.ConsumePending("t1"); ok {
		t.Fatal("expected an expired pending entry to fail to consume")
	}
}

func TestFindConsumedAnySessionScansAllSessionFiles(t *testing.T) {
	dir := t.TempDir()
	s1 := Open(dir, "sess1")
	s1.AddPending("t1", PendingRecord{Artifacts: []artifact.Artifact{{Type: artifact.TypeCommand, Value: "x"}}})
	s1.ConsumePending("t1")

	if !FindConsumedAnySession(dir, artifact.TypeCommand, "x") {
		t.Fatal("expected cross-session lookup to find sess1's consumed entry")
	}
	if FindConsumedAnySession(dir, artifact.TypeCommand, "nope") {
		t.Fatal("expected no match for an unconsumed value")
	}
}

func TestPruneStaleDropsExpiredEntriesFromUntouchedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pending-approvals-old.json")
	os.WriteFile(path, []byte(`{"t1":{"threatId":"X","addedAt":"2000-01-01T00:00:00Z"}}`), 0o600)
	oldTime := time.Now().Add(-3 * time.Hour)
	os.Chtimes(path, oldTime, oldTime)

	PruneStale(dir)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected the stale file with only expired entries to be removed")
	}
}

func TestPruneStaleLeavesRecentFilesAlone(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "sess1")
	s.AddPending("t1", PendingRecord{})

	PruneStale(dir)

	if _, ok := s2Reload(dir).pending["t1"]; !ok {
		t.Fatal("expected a recently-touched file to survive pruning")
	}
}

func s2Reload(dir string) *Store {
	return Open(dir, "sess1")
}

func TestActionIDIsStableForIdenticalInput(t *testing.T) {
	a := ActionID("Bash", map[string]any{"command": "ls"})
	b := ActionID("Bash", map[string]any{"command": "ls"})
	if a != b || a == "" {
		t.Fatalf("expected a stable, non-empty action id, got %q and %q", a, b)
	}
}

func TestActionIDDiffersByParams(t *testing.T) {
	a := ActionID("Bash", map[string]any{"command": "ls"})
	b := ActionID("Bash", map[string]any{"command": "rm -rf /"})
	if a == b {
		t.Fatal("expected different params to produce different action ids")
	}
}

// Package approval implements the pending/consumed approval store (C12):
// per-session JSON files recording threats a user has approved past an
// ask verdict, and the one-shot consumption of those approvals.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/fileutil"
	"github.com/sage-sh/sage/internal/logger"
)

var log = logger.New("approval")

// PendingTTL and ConsumedTTL are the §4.11 windows. ConsumedTTL may be
// shortened under paranoid sensitivity per the spec's threat-model note
// (§ATK-18); kept as a plain constant here since config.json's schema
// (§6) doesn't expose it.
const (
	PendingTTL  = time.Hour
	ConsumedTTL = 10 * time.Minute
	staleAfter  = 2 * time.Hour
)

// PendingRecord is what's recorded when an ask verdict is issued, while it
// awaits the user's approval (§4.11).
type PendingRecord struct {
	ThreatID    string              `json:"threatId"`
	ThreatTitle string              `json:"threatTitle"`
	Artifacts   []artifact.Artifact `json:"artifacts"`
	AddedAt     time.Time           `json:"addedAt"`
}

func (r PendingRecord) expired(now time.Time) bool {
	return now.Sub(r.AddedAt) >= PendingTTL
}

// ConsumedEntry records that one artifact has been approved, within the
// 10-minute post-consumption window during which the same payload is
// allowed again without re-prompting (§ATK-18).
type ConsumedEntry struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e ConsumedEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// ActionID builds the stable retry key from §4.11: sha256({tool, params}).
func ActionID(tool string, params any) string {
	data, err := json.Marshal(struct {
		Tool   string `json:"tool"`
		Params any    `json:"params"`
	}{Tool: tool, Params: params})
	if err != nil {
		log.Warn("marshal action id input: %v", err)
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConsumedKey builds the "artifactType:value" key used in consumed files.
func ConsumedKey(artifactType artifact.Type, value string) string {
	return string(artifactType) + ":" + value
}

// Store is backed by a per-session pending file and a per-session consumed
// file under stateDir.
type Store struct {
	stateDir  string
	sessionID string
	now       func() time.Time

	pending  map[string]PendingRecord
	consumed map[string]ConsumedEntry
}

// Open loads (or initializes empty) the pending/consumed files for sid.
func Open(stateDir, sid string) *Store {
	s := &Store{stateDir: stateDir, sessionID: sid, now: time.Now}
	s.pending = loadMap[PendingRecord](s.pendingPath())
	s.consumed = loadMap[ConsumedEntry](s.consumedPath())
	return s
}

func (s *Store) pendingPath() string {
	return filepath.Join(s.stateDir, "pending-approvals-"+s.sessionID+".json")
}

func (s *Store) consumedPath() string {
	return filepath.Join(s.stateDir, "consumed-approvals-"+s.sessionID+".json")
}

func loadMap[T any](path string) map[string]T {
	m := map[string]T{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read %s: %v", path, err)
		}
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn("parse %s: %v", path, err)
		return map[string]T{}
	}
	return m
}

func saveMap[T any](path string, m map[string]T) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		log.Warn("marshal %s: %v", path, err)
		return
	}
	if err := fileutil.WriteAtomic(path, data); err != nil {
		log.Warn("write %s: %v", path, err)
	}
}

// AddPending prunes expired pending entries, then records a fresh one
// keyed by toolUseID, and saves.
func (s *Store) AddPending(toolUseID string, record PendingRecord) {
	now := s.now()
	for k, r := range s.pending {
		if r.expired(now) {
			delete(s.pending, k)
		}
	}
	record.AddedAt = now
	s.pending[toolUseID] = record
	saveMap(s.pendingPath(), s.pending)
}

// ConsumePending atomically removes toolUseID from pending and writes one
// consumed entry per artifact with a 10-minute expiry. Returns the pending
// record and true, or false if there was no such (or an expired) pending
// entry.
func (s *Store) ConsumePending(toolUseID string) (PendingRecord, bool) {
	now := s.now()
	record, ok := s.pending[toolUseID]
	if !ok || record.expired(now) {
		delete(s.pending, toolUseID)
		saveMap(s.pendingPath(), s.pending)
		return PendingRecord{}, false
	}
	delete(s.pending, toolUseID)
	saveMap(s.pendingPath(), s.pending)

	for _, a := range record.Artifacts {
		s.consumed[ConsumedKey(a.Type, a.Value)] = ConsumedEntry{ExpiresAt: now.Add(ConsumedTTL)}
	}
	saveMap(s.consumedPath(), s.consumed)

	return record, true
}

// FindConsumed prunes expired consumed entries for this session and
// returns the entry for (artifactType, value), or false if absent/expired.
func (s *Store) FindConsumed(artifactType artifact.Type, value string) (ConsumedEntry, bool) {
	now := s.now()
	key := ConsumedKey(artifactType, value)
	e, ok := s.consumed[key]
	if !ok {
		return ConsumedEntry{}, false
	}
	if e.expired(now) {
		delete(s.consumed, key)
		saveMap(s.consumedPath(), s.consumed)
		return ConsumedEntry{}, false
	}
	return e, true
}

// FindConsumedAnySession scans every consumed-approvals-*.json file under
// stateDir for a matching, unexpired entry (§4.11's cross-session variant).
func FindConsumedAnySession(stateDir string, artifactType artifact.Type, value string) bool {
	matches, err := filepath.Glob(filepath.Join(stateDir, "consumed-approvals-*.json"))
	if err != nil {
		log.Warn("glob consumed approvals: %v", err)
		return false
	}
	key := ConsumedKey(artifactType, value)
	now := time.Now()
	for _, path := range matches {
		m := loadMap[ConsumedEntry](path)
		if e, ok := m[key]; ok && e.ExpiresAt.After(now) {
			return true
		}
	}
	return false
}

// PruneStale walks stateDir at hook startup and rewrites (or deletes) any
// pending/consumed file that hasn't been touched in over two hours,
// dropping its expired entries (§4.11).
func PruneStale(stateDir string) {
	pruneGlob(stateDir, "pending-approvals-*.json", func(m map[string]PendingRecord, now time.Time) {
		for k, r := range m {
			if r.expired(now) {
				delete(m, k)
			}
		}
	})
	pruneGlob(stateDir, "consumed-approvals-*.json", func(m map[string]ConsumedEntry, now time.Time) {
		for k, e := range m {
			if e.expired(now) {
				delete(m, k)
			}
		}
	})
}

func pruneGlob[T any](stateDir, pattern string, drop func(map[string]T, time.Time)) {
	matches, err := filepath.Glob(filepath.Join(stateDir, pattern))
	if err != nil {
		log.Warn("glob %s: %v", pattern, err)
		return
	}
	now := time.Now()
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || now.Sub(info.ModTime()) < staleAfter {
			continue
		}
		m := loadMap[T](path)
		drop(m, now)
		if len(m) == 0 {
			if err := os.Remove(path); err != nil {
				log.Warn("remove stale %s: %v", path, err)
			}
			continue
		}
		saveMap(path, m)
	}
}

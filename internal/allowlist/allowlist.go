// Package allowlist implements the persisted per-artifact-type user
// override store (C6), including the anti-smuggling membership test.
package allowlist

import (
	"encoding/json"
	"os"
	"time"

	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/fileutil"
	"github.com/sage-sh/sage/internal/logger"
	"github.com/sage-sh/sage/internal/normalize"
)

var log = logger.New("allowlist")

// Entry records why and when an artifact was allowlisted.
type Entry struct {
	AddedAt         time.Time `json:"added_at"`
	Reason          string    `json:"reason"`
	OriginalVerdict string    `json:"original_verdict"`
}

// onDisk is the stable, external JSON shape (§4.4).
type onDisk struct {
	URLs      map[string]Entry `json:"urls"`
	Commands  map[string]Entry `json:"commands"`
	FilePaths map[string]Entry `json:"file_paths"`
}

// Store is the in-memory allowlist backed by a JSON file under the state
// directory. Keys are normalized URLs, SHA-256 command hashes, and
// normalized file paths.
type Store struct {
	path  string
	paths *normalize.Paths

	urls      map[string]Entry
	commands  map[string]Entry
	filePaths map[string]Entry
}

// Load reads path, re-normalizing every key for backward compatibility with
// entries written by an older normalization scheme. A missing or malformed
// file yields an empty store rather than an error (§7 kind 2).
func Load(path string, paths *normalize.Paths) *Store {
	s := &Store{
		path:      path,
		paths:     paths,
		urls:      map[string]Entry{},
		commands:  map[string]Entry{},
		filePaths: map[string]Entry{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read allowlist %s: %v", path, err)
		}
		return s
	}

	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		log.Warn("parse allowlist %s: %v", path, err)
		return s
	}

	for k, v := range d.URLs {
		s.urls[normalize.URL(k)] = v
	}
	for k, v := range d.Commands {
		s.commands[k] = v
	}
	for k, v := range d.FilePaths {
		s.filePaths[s.paths.File(k)] = v
	}
	return s
}

// Save writes the store back atomically. Failures are logged, not
// propagated — the in-memory store is still usable for this process (§7
// kind 6).
func (s *Store) Save() {
	d := onDisk{URLs: s.urls, Commands: s.commands, FilePaths: s.filePaths}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		log.Warn("marshal allowlist: %v", err)
		return
	}
	if err := fileutil.WriteAtomic(s.path, data); err != nil {
		log.Warn("write allowlist %s: %v", s.path, err)
	}
}

// AddURL, AddCommand, AddFilePath are idempotent: adding the same value
// twice has the same on-disk effect as adding it once (P2).
func (s *Store) AddURL(value, reason, originalVerdict string) {
	s.urls[normalize.URL(value)] = Entry{AddedAt: time.Now(), Reason: reason, OriginalVerdict: originalVerdict}
}

func (s *Store) AddCommand(value, reason, originalVerdict string) {
	s.commands[normalize.Command(value)] = Entry{AddedAt: time.Now(), Reason: reason, OriginalVerdict: originalVerdict}
}

func (s *Store) AddFilePath(value, reason, originalVerdict string) {
	s.filePaths[s.paths.File(value)] = Entry{AddedAt: time.Now(), Reason: reason, OriginalVerdict: originalVerdict}
}

func (s *Store) RemoveURL(value string)      { delete(s.urls, normalize.URL(value)) }
func (s *Store) RemoveCommand(value string)  { delete(s.commands, normalize.Command(value)) }
func (s *Store) RemoveFilePath(value string) { delete(s.filePaths, s.paths.File(value)) }

// URLs, Commands, FilePaths expose read-only views for the CLI's
// `allowlist list` subcommand.
func (s *Store) URLs() map[string]Entry      { return s.urls }
func (s *Store) Commands() map[string]Entry  { return s.commands }
func (s *Store) FilePaths() map[string]Entry { return s.filePaths }

// IsAllowlisted implements the anti-smuggling rule (§ATK-01, P4): true only
// when any command artifact hashes to a known key, OR any file_path
// artifact normalizes to a known key, OR the artifact list is non-empty AND
// every artifact is a url AND every url normalizes into the url map. Mixing
// one allowlisted URL with any non-URL or non-allowlisted artifact must
// never short-circuit the evaluator.
func (s *Store) IsAllowlisted(artifacts []artifact.Artifact) bool {
	if len(artifacts) == 0 {
		return false
	}

	for _, a := range artifacts {
		if a.Type == artifact.TypeCommand {
			if _, ok := s.commands[normalize.Command(a.Value)]; ok {
				return true
			}
		}
		if a.Type == artifact.TypeFilePath {
			if _, ok := s.filePaths[s.paths.File(a.Value)]; ok {
				return true
			}
		}
	}

	allURLs := true
	for _, a := range artifacts {
		if a.Type != artifact.TypeURL {
			allURLs = false
			break
		}
	}
	if !allURLs {
		return false
	}
	for _, a := range artifacts {
		if _, ok := s.urls[normalize.URL(a.Value)]; !ok {
			return false
		}
	}
	return true
}

package threat

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/logger"
)

var log = logger.New("threat")

//go:embed builtin/*.yaml
var builtinFS embed.FS

// maxRegexLen bounds a single rule's compiled pattern length, matching the
// teacher's defense against pathologically large regexes loaded from an
// attacker-controlled YAML file.
const maxRegexLen = 4096

// Loader reads threat rules from the embedded builtin corpus and a
// user-supplied directory, compiling and filtering them into an immutable
// rule slice. A Loader is stateless between Load calls — spec §5 reloads
// threats fresh on every invocation, there is no hot-reload.
type Loader struct {
	userDir string
	now     func() time.Time
}

// NewLoader builds a Loader that reads user rules from dir (may be empty to
// disable user rules entirely).
func NewLoader(dir string) *Loader {
	return &Loader{userDir: dir, now: time.Now}
}

// Load reads builtin and user threat files, compiles every rule, and drops
// anything invalid, expired, revoked, or explicitly disabled. Unlike
// spec §7's other I/O boundaries, a missing or unreadable user directory
// contributes no rules rather than an error; the builtin corpus still loads
// (§7 kind 3).
func (l *Loader) Load(disabledThreats []string) []Rule {
	disabled := make(map[string]bool, len(disabledThreats))
	for _, id := range disabledThreats {
		disabled[id] = true
	}

	var all []Rule
	all = append(all, l.loadBuiltin()...)
	all = append(all, l.loadUser()...)

	now := l.now()
	out := make([]Rule, 0, len(all))
	for _, r := range all {
		if disabled[r.ID] {
			continue
		}
		if r.Revoked {
			continue
		}
		if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (l *Loader) loadBuiltin() []Rule {
	var rules []Rule
	err := fs.WalkDir(builtinFS, "builtin", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			log.Warn("read builtin threat file %s: %v", path, err)
			return nil
		}
		rules = append(rules, l.parseFile(data, path)...)
		return nil
	})
	if err != nil {
		log.Warn("walk builtin threat files: %v", err)
	}
	return rules
}

func (l *Loader) loadUser() []Rule {
	if l.userDir == "" {
		return nil
	}
	entries, err := os.ReadDir(l.userDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read user threat dir %s: %v", l.userDir, err)
		}
		return nil
	}

	var rules []Rule
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(l.userDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("read user threat file %s: %v", path, err)
			continue
		}
		rules = append(rules, l.parseFile(data, path)...)
	}
	return rules
}

// parseFile compiles every rule in one YAML file. A single bad rule (bad
// regex, unknown severity/action, bad match_on token) is logged and
// skipped; it never aborts the rest of the file (§7 kind 4).
func (l *Loader) parseFile(data []byte, path string) []Rule {
	var doc fileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Warn("parse threat file %s: %v", path, err)
		return nil
	}

	var out []Rule
	for i, ry := range doc.Threats {
		r, err := compileRule(ry)
		if err != nil {
			log.Warn("skip threat %s[%d] (%s): %v", path, i, ry.ID, err)
			continue
		}
		out = append(out, r)
	}
	return out
}

func compileRule(ry ruleYAML) (Rule, error) {
	if ry.ID == "" {
		return Rule{}, fmt.Errorf("missing id")
	}
	if !validSeverity(ry.Severity) {
		return Rule{}, fmt.Errorf("invalid severity %q", ry.Severity)
	}
	if !validAction(ry.Action) {
		return Rule{}, fmt.Errorf("invalid action %q", ry.Action)
	}
	if ry.Confidence < 0 || ry.Confidence > 1 {
		return Rule{}, fmt.Errorf("confidence %v out of [0,1]", ry.Confidence)
	}
	if len(ry.Pattern) > maxRegexLen {
		return Rule{}, fmt.Errorf("pattern exceeds %d bytes", maxRegexLen)
	}
	if len(ry.MatchOn) == 0 {
		return Rule{}, fmt.Errorf("missing match_on")
	}

	re, err := regexp.Compile(ry.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid regex: %w", err)
	}

	matchOn := make([]artifact.Type, 0, len(ry.MatchOn))
	for _, token := range ry.MatchOn {
		t, ok := matchOnType(token)
		if !ok {
			return Rule{}, fmt.Errorf("unknown match_on value %q", token)
		}
		matchOn = append(matchOn, t)
	}

	return Rule{
		ID:         ry.ID,
		Category:   ry.Category,
		Severity:   Severity(ry.Severity),
		Confidence: ry.Confidence,
		Action:     Action(ry.Action),
		Pattern:    re,
		MatchOn:    matchOn,
		Title:      ry.Title,
		ExpiresAt:  ry.ExpiresAt,
		Revoked:    ry.Revoked,
	}, nil
}

// Package pluginscan implements the session-start plugin scanner and its
// scan cache (C13): it walks each installed plugin's files, runs the
// command-restricted heuristics engine and the C8 reputation clients
// against what it finds, and caches results keyed by plugin version.
package pluginscan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/heuristics"
	"github.com/sage-sh/sage/internal/logger"
	"github.com/sage-sh/sage/internal/reputation"
	"github.com/sage-sh/sage/internal/threat"
)

var log = logger.New("pluginscan")

// SelfKeyPrefix excludes Sage's own plugin entry from scanning (§4.12
// step 2) — a host that lists Sage itself among installed plugins would
// otherwise have Sage scan its own install directory every session.
const SelfKeyPrefix = "sage-"

// maxFileBytes is the per-file size cap (§4.12).
const maxFileBytes = 512 * 1024

var scannableExt = map[string]bool{
	".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".py": true,
	".sh": true, ".bash": true, ".zsh": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".md": true, ".txt": true,
}

var scriptExt = map[string]bool{".sh": true, ".bash": true, ".zsh": true, ".py": true}

var skipDirNames = map[string]bool{"node_modules": true, ".git": true, "__pycache__": true}

// Plugin is the host-reported plugin descriptor (§4.12 step 1 — the
// enumeration itself is out-of-scope adapter code; this struct is the
// shape it hands in).
type Plugin struct {
	Key         string
	InstallPath string
	Version     string
	LastUpdated time.Time
}

// Finding is one scan hit, reported against a source file (§4.12).
type Finding struct {
	RuleID     string `json:"ruleId,omitempty"`
	Title      string `json:"title"`
	Severity   string `json:"severity"`
	SourceFile string `json:"sourceFile"`
	Artifact   string `json:"artifact"`
}

const findingArtifactCap = 200

// Scanner holds the command-restricted rule set and reputation client
// shared across every plugin scanned in one session-start pass.
type Scanner struct {
	rules   []threat.Rule
	trusted *threat.Registry
	client  *reputation.Client
}

// NewScanner restricts rules to those whose match_on includes "command"
// (§4.12's scan-of-one-plugin heuristics restriction), since plugin files
// only ever yield command and url artifacts.
func NewScanner(rules []threat.Rule, trusted *threat.Registry, client *reputation.Client) *Scanner {
	var restricted []threat.Rule
	for _, r := range rules {
		if r.MatchesType(artifact.TypeCommand) {
			restricted = append(restricted, r)
		}
	}
	return &Scanner{rules: restricted, trusted: trusted, client: client}
}

// ScanPlugin walks plugin.InstallPath (a single file or a directory) and
// returns every finding. Never errors: an unreadable path yields zero
// findings, matching the "fail open" posture of the rest of the core.
func (s *Scanner) ScanPlugin(ctx context.Context, plugin Plugin) []Finding {
	engine := heuristics.New(s.rules, s.trusted)

	files := walkFiles(plugin.InstallPath)

	var findings []Finding
	urlSeen := map[string]bool{}
	var urls []string
	hashToFiles := map[string][]string{}

	for _, f := range files {
		rel := relPath(plugin.InstallPath, f)
		ext := strings.ToLower(filepath.Ext(f))
		if !scannableExt[ext] {
			continue
		}
		info, err := os.Stat(f)
		if err != nil || info.Size() > maxFileBytes {
			continue
		}
		content, err := os.ReadFile(f)
		if err != nil {
			continue
		}

		for _, u := range artifact.ExtractURLs(string(content)) {
			if !urlSeen[u] {
				urlSeen[u] = true
				urls = append(urls, u)
			}
		}

		hash := sha256Hex(content)
		hashToFiles[hash] = append(hashToFiles[hash], rel)

		if scriptExt[ext] {
			findings = append(findings, s.scanScriptLines(engine, rel, string(content))...)
		}
	}

	findings = append(findings, s.scanReputation(ctx, urls, hashToFiles)...)
	return findings
}

func (s *Scanner) scanScriptLines(engine *heuristics.Engine, sourceFile, content string) []Finding {
	var findings []Finding
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") || isHarmlessEcho(line) {
			continue
		}
		matches := engine.Evaluate([]artifact.Artifact{{Type: artifact.TypeCommand, Value: line}})
		for _, m := range matches {
			findings = append(findings, Finding{
				RuleID:     m.Rule.ID,
				Title:      m.Rule.Title,
				Severity:   string(m.Rule.Severity),
				SourceFile: sourceFile,
				Artifact:   truncate(line, findingArtifactCap),
			})
		}
	}
	return findings
}

func (s *Scanner) scanReputation(ctx context.Context, urls []string, hashToFiles map[string][]string) []Finding {
	if s.client == nil {
		return nil
	}

	type urlResult struct {
		verdicts map[string]reputation.URLVerdict
	}
	type fileResult struct {
		verdicts map[string]reputation.FileVerdict
	}
	urlCh := make(chan urlResult, 1)
	fileCh := make(chan fileResult, 1)

	go func() { urlCh <- urlResult{s.client.CheckURLs(ctx, urls)} }()
	go func() {
		hashes := make([]string, 0, len(hashToFiles))
		for h := range hashToFiles {
			hashes = append(hashes, h)
		}
		fileCh <- fileResult{s.client.CheckFiles(ctx, hashes)}
	}()

	ur := <-urlCh
	fr := <-fileCh

	var findings []Finding
	for url, v := range ur.verdicts {
		if !v.IsMalicious {
			continue
		}
		findings = append(findings, Finding{
			Title:      "URL_CHECK",
			Severity:   "critical",
			SourceFile: "",
			Artifact:   truncate(url, findingArtifactCap),
		})
	}
	for hash, v := range fr.verdicts {
		if !v.Malicious {
			continue
		}
		source := ""
		if files := hashToFiles[hash]; len(files) > 0 {
			source = files[0]
		}
		findings = append(findings, Finding{
			Title:      "FILE_CHECK",
			Severity:   "critical",
			SourceFile: source,
			Artifact:   truncate(hash, findingArtifactCap),
		})
	}
	return findings
}

// walkFiles performs a breadth-first walk of root (or returns root itself
// if it names a single file), skipping the fixed directory exclusion set
// and never following a symlink that resolves outside root (§ATK-16).
func walkFiles(root string) []string {
	info, err := os.Lstat(root)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		return []string{root}
	}

	var files []string
	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Warn("read plugin dir %s: %v", dir, err)
			continue
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			if e.IsDir() {
				if skipDirNames[e.Name()] {
					continue
				}
				queue = append(queue, full)
				continue
			}
			if e.Type()&os.ModeSymlink != 0 {
				resolved, err := filepath.EvalSymlinks(full)
				if err != nil {
					continue
				}
				relToRoot, err := filepath.Rel(root, resolved)
				if err != nil || strings.HasPrefix(relToRoot, "..") {
					continue
				}
			}
			files = append(files, full)
		}
	}
	return files
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

// isHarmlessEcho reports whether line is an echo/printf invocation whose
// every pipe character lies inside a quoted string (§4.12).
func isHarmlessEcho(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "echo", "printf":
	default:
		return false
	}

	inSingle, inDouble := false, false
	for _, r := range line {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '|':
			if !inSingle && !inDouble {
				return false
			}
		}
	}
	return true
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

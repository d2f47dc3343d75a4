package artifact

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sage-sh/sage/internal/normalize"
	"mvdan.cc/sh/v3/syntax"
)

// maxContentBytes is the content-artifact size cap (Open Question Q1,
// decided in favor of the reference implementation's fixed truncation
// rather than streaming or raising the limit).
const maxContentBytes = 64 * 1024

var urlPattern = regexp.MustCompile(`https?://[^\s"'` + "`" + `<>]+`)

// Extractor produces artifact streams from tool-call payloads. It holds a
// path normalizer so every file_path artifact it emits is already in
// normalized form, matching what the allowlist and cache expect as a key.
type Extractor struct {
	paths *normalize.Paths
}

// New builds an Extractor. paths may be nil, in which case normalize.NewPaths()
// is used, so file paths are normalized against the current user's home.
func New(paths *normalize.Paths) *Extractor {
	if paths == nil {
		paths = normalize.NewPaths()
	}
	return &Extractor{paths: paths}
}

// Extract dispatches on the host-mapped tool name and returns a
// de-duplicated, ordered artifact list. An unrecognized tool or malformed
// JSON payload yields an empty list — the evaluator's "no artifacts" path
// (§ATK-11) handles both identically.
func (e *Extractor) Extract(toolName string, rawArgs json.RawMessage) []Artifact {
	var args map[string]any
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil
	}

	switch strings.ToLower(toolName) {
	case "bash", "exec":
		return e.extractBash(args)
	case "webfetch", "web_fetch", "web_search", "browser":
		return e.extractWebFetch(args)
	case "write", "write_file":
		return e.extractWrite(args)
	case "edit":
		return e.extractEdit(args)
	case "read", "read_file":
		return e.extractRead(args)
	case "apply-patch", "apply_patch", "applypatch":
		return e.extractApplyPatch(args)
	default:
		return nil
	}
}

// extractBash emits one command artifact holding the full, unmodified
// command text — heredoc bodies included, since the host already delivers
// them inline and nothing here strips them (the bypass named ATK-05) — plus
// a url artifact for every literal URL found anywhere in that text,
// including inside heredoc bodies.
func (e *Extractor) extractBash(args map[string]any) []Artifact {
	cmd, _ := args["command"].(string)
	if strings.TrimSpace(cmd) == "" {
		return nil
	}

	out := []Artifact{{Type: TypeCommand, Value: cmd, Context: evasiveReason(cmd)}}
	for _, u := range extractURLs(cmd) {
		out = append(out, Artifact{Type: TypeURL, Value: u})
	}
	return dedupe(out)
}

// evasiveReason runs the command through a full bash AST parse and reports
// why static analysis can't fully trust it, or "" if it parses cleanly with
// no command substitution. This never changes what gets matched — the raw
// command text is always emitted in full — it only annotates context for
// the audit trail.
func evasiveReason(cmd string) string {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return "evasive: command could not be parsed for security analysis"
	}

	hasSubst := false
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst:
			hasSubst = true
		case *syntax.Word:
			if wordHasSubst(n) {
				hasSubst = true
			}
		}
		return !hasSubst
	})
	if hasSubst {
		return "evasive: command contains shell substitution which prevents static analysis"
	}
	return ""
}

func wordHasSubst(w *syntax.Word) bool {
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst:
			return true
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				switch inner.(type) {
				case *syntax.CmdSubst, *syntax.ProcSubst:
					return true
				}
			}
		}
	}
	return false
}

func (e *Extractor) extractWebFetch(args map[string]any) []Artifact {
	u := firstString(args, "url")
	if u == "" {
		return nil
	}
	return []Artifact{{Type: TypeURL, Value: u}}
}

func (e *Extractor) extractWrite(args map[string]any) []Artifact {
	var out []Artifact
	if p := firstString(args, "file_path", "path", "filename", "file"); p != "" {
		out = append(out, Artifact{Type: TypeFilePath, Value: e.paths.File(p)})
	}
	out = append(out, e.contentArtifacts(firstString(args, "content", "text", "data"))...)
	return dedupe(out)
}

func (e *Extractor) extractEdit(args map[string]any) []Artifact {
	var out []Artifact
	if p := firstString(args, "file_path", "path", "filename", "file"); p != "" {
		out = append(out, Artifact{Type: TypeFilePath, Value: e.paths.File(p)})
	}
	out = append(out, e.contentArtifacts(firstString(args, "new_string", "content", "text"))...)
	return dedupe(out)
}

func (e *Extractor) extractRead(args map[string]any) []Artifact {
	var out []Artifact
	if p := firstString(args, "file_path", "path", "filename", "file"); p != "" {
		out = append(out, Artifact{Type: TypeFilePath, Value: e.paths.File(p)})
	}
	out = append(out, e.contentArtifacts(firstString(args, "content", "text"))...)
	return dedupe(out)
}

// contentArtifacts caps content at maxContentBytes (Q1), emits the content
// artifact, and extracts URLs from the (possibly truncated) text.
func (e *Extractor) contentArtifacts(content string) []Artifact {
	if content == "" {
		return nil
	}
	capped, truncated := capContent(content)
	ctx := ""
	if truncated {
		ctx = "truncated=true"
	}
	out := []Artifact{{Type: TypeContent, Value: capped, Context: ctx}}
	for _, u := range extractURLs(capped) {
		out = append(out, Artifact{Type: TypeURL, Value: u})
	}
	return out
}

func capContent(s string) (string, bool) {
	if len(s) <= maxContentBytes {
		return s, false
	}
	return s[:maxContentBytes], true
}

// extractApplyPatch parses unified-diff headers only (Open Question Q2: the
// patch body itself is not scanned for URLs or content, a known limitation
// carried over from the reference implementation).
func (e *Extractor) extractApplyPatch(args map[string]any) []Artifact {
	patch := firstString(args, "patch", "diff", "content")
	if patch == "" {
		return nil
	}

	var out []Artifact
	seen := map[string]bool{}
	for _, line := range strings.Split(patch, "\n") {
		path := diffHeaderPath(line)
		if path == "" || path == "/dev/null" || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, Artifact{Type: TypeFilePath, Value: e.paths.File(path)})
	}
	return out
}

func diffHeaderPath(line string) string {
	var rest string
	switch {
	case strings.HasPrefix(line, "--- "):
		rest = line[4:]
	case strings.HasPrefix(line, "+++ "):
		rest = line[4:]
	default:
		return ""
	}
	rest = strings.TrimSpace(rest)
	if idx := strings.IndexByte(rest, '\t'); idx != -1 {
		rest = rest[:idx]
	}
	if strings.HasPrefix(rest, "a/") || strings.HasPrefix(rest, "b/") {
		rest = rest[2:]
	}
	return rest
}

func extractURLs(s string) []string {
	return dedupeStrings(urlPattern.FindAllString(s, -1))
}

// ExtractURLs finds every literal URL in s, de-duplicated and in
// first-seen order. Exported for callers outside the tool-call extraction
// path (the plugin scanner reuses it to scan arbitrary file content).
func ExtractURLs(s string) []string {
	return extractURLs(s)
}

func firstString(args map[string]any, fields ...string) string {
	for _, f := range fields {
		if v, ok := args[f]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func dedupeStrings(items []string) []string {
	if len(items) <= 1 {
		return items
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// dedupe de-duplicates artifacts on (type, value), preserving first-seen
// order per §4.2's ordering requirement.
func dedupe(items []Artifact) []Artifact {
	if len(items) <= 1 {
		return items
	}
	type key struct {
		t Type
		v string
	}
	seen := make(map[key]bool, len(items))
	out := make([]Artifact, 0, len(items))
	for _, a := range items {
		k := key{a.Type, a.Value}
		if !seen[k] {
			seen[k] = true
			out = append(out, a)
		}
	}
	return out
}

// Package heuristics matches artifacts against compiled threat rules (C5),
// applying trusted-domain suppression scoped to the matched substring.
package heuristics

import (
	"regexp"
	"strings"

	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/threat"
)

// urlPattern mirrors the one used for artifact extraction — here it scans a
// matched substring (not a whole artifact) to find every URL it contains,
// which is exactly the scope suppression needs.
var urlPattern = regexp.MustCompile(`https?://[^\s"'` + "`" + `<>]+`)

// Match is one hit of a rule against an artifact: the rule, the artifact's
// full value, and the matched substring ($0 of the rule's regex, not the
// whole artifact — this distinction is load-bearing for suppression).
type Match struct {
	Rule         threat.Rule
	ArtifactType artifact.Type
	Value        string
	MatchText    string
}

// Engine is an immutable, pure matcher built once from a compiled rule
// slice and a trusted-domain registry. It holds no mutable state and is
// safe to share across goroutines within one evaluation.
type Engine struct {
	rules   []threat.Rule
	byType  map[artifact.Type][]threat.Rule
	trusted *threat.Registry
}

// New builds an Engine indexed by artifact type for fast dispatch.
func New(rules []threat.Rule, trusted *threat.Registry) *Engine {
	e := &Engine{rules: rules, byType: make(map[artifact.Type][]threat.Rule), trusted: trusted}
	for _, r := range rules {
		for _, t := range []artifact.Type{artifact.TypeCommand, artifact.TypeURL, artifact.TypeContent, artifact.TypeFilePath} {
			if r.MatchesType(t) {
				e.byType[t] = append(e.byType[t], r)
			}
		}
	}
	return e
}

// Evaluate matches every artifact against every rule indexed for its type,
// in (artifact, rule) order, then drops any match suppressed by the
// trusted-domain rule (§4.5). Multiple rules may match a single artifact;
// all surviving matches are returned.
func (e *Engine) Evaluate(artifacts []artifact.Artifact) []Match {
	var out []Match
	for _, a := range artifacts {
		for _, r := range e.byType[a.Type] {
			m := r.Pattern.FindString(a.Value)
			if m == "" {
				continue
			}
			if e.suppressed(r, m) {
				continue
			}
			out = append(out, Match{Rule: r, ArtifactType: a.Type, Value: a.Value, MatchText: m})
		}
	}
	return out
}

// suppressed implements §ATK-02: a match on a suppressible rule is
// suppressed iff every URL found inside the matched substring (not the
// whole artifact) resolves to a trusted domain. A matched substring with no
// URL, or with any untrusted URL, always stands — this is what defeats a
// decoy trusted URL placed elsewhere in the same command.
func (e *Engine) suppressed(r threat.Rule, matchText string) bool {
	if !threat.Suppressible(r.ID) {
		return false
	}
	urls := urlPattern.FindAllString(matchText, -1)
	if len(urls) == 0 {
		return false
	}
	for _, u := range urls {
		host := hostOf(u)
		if host == "" || !e.trusted.Trusts(host) {
			return false
		}
	}
	return true
}

func hostOf(rawURL string) string {
	s := rawURL
	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}
	if idx := strings.IndexAny(s, "/?#"); idx != -1 {
		s = s[:idx]
	}
	if idx := strings.Index(s, "@"); idx != -1 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, ":"); idx != -1 {
		s = s[:idx]
	}
	return strings.ToLower(s)
}

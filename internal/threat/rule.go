// Package threat loads the YAML threat-rule corpus (C3) and the trusted
// domain registry (C4) that the heuristics engine matches artifacts
// against.
package threat

import (
	"regexp"
	"time"

	"github.com/sage-sh/sage/internal/artifact"
)

// Severity is the rule's declared danger level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Action is what the decision engine does when a rule matches, before
// sensitivity is applied.
type Action string

const (
	ActionBlock           Action = "block"
	ActionRequireApproval Action = "require_approval"
	ActionLog             Action = "log"
)

// Rule is one compiled threat signature. Rules are immutable once loaded —
// there is no mutation API, only reload-from-disk.
type Rule struct {
	ID         string
	Category   string
	Severity   Severity
	Confidence float64
	Action     Action
	Pattern    *regexp.Regexp
	MatchOn    []artifact.Type
	Title      string
	ExpiresAt  *time.Time
	Revoked    bool
}

// MatchesType reports whether this rule applies to artifacts of type t.
// A rule whose match_on lists "domain" is routed to url artifacts, since
// domains only ever appear as part of a url artifact's value.
func (r Rule) MatchesType(t artifact.Type) bool {
	for _, m := range r.MatchOn {
		if m == t {
			return true
		}
	}
	return false
}

// suppressibleRuleIDs is the hard-coded set of rule ids eligible for
// trusted-domain suppression (§4.5). This set is intentionally small and
// fixed in code, not YAML-configurable, so a malicious rule file cannot
// grant itself suppression.
var suppressibleRuleIDs = map[string]bool{
	"CLT-CMD-001": true, // curl|bash pipe-to-shell
	"CLT-CMD-002": true, // wget|sh pipe-to-shell
	"CLT-CMD-003": true, // supply-chain install-script fetch
	"CLT-CMD-004": true, // curl|python pipe-to-interpreter
}

// Suppressible reports whether a matched rule is eligible for
// trusted-domain suppression at all.
func Suppressible(ruleID string) bool {
	return suppressibleRuleIDs[ruleID]
}

// Package decision implements the decision engine (C10): it fuses
// heuristic matches, URL-check results, and package-check results into a
// single Verdict under a sensitivity preset.
package decision

import (
	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/heuristics"
	"github.com/sage-sh/sage/internal/packagecheck"
	"github.com/sage-sh/sage/internal/reputation"
	"github.com/sage-sh/sage/internal/threat"
)

// Outcome is the verdict's decision enum (§3).
type Outcome string

const (
	Allow Outcome = "allow"
	Ask   Outcome = "ask"
	Deny  Outcome = "deny"
)

// Sensitivity is the configured strictness preset (§4.9).
type Sensitivity string

const (
	Paranoid Sensitivity = "paranoid"
	Balanced Sensitivity = "balanced"
	Relaxed  Sensitivity = "relaxed"
)

// Severity mirrors the verdict severity enum (§3).
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Verdict is the evaluator's final output for one tool call (§3). Invariant:
// Outcome == Allow implies Artifacts and Reasons are both empty — an allow
// verdict carries no user-visible detail.
type Verdict struct {
	Decision        Outcome
	Category        string
	Confidence      float64
	Severity        Severity
	Source          string
	Artifacts       []artifact.Artifact
	MatchedThreatID string
	Reasons         []string
}

// signal is one candidate contribution to the final verdict, already
// resolved to an Outcome/Severity under the active sensitivity.
type signal struct {
	decision        Outcome
	severity        Severity
	category        string
	source          string
	confidence      float64
	artifacts       []artifact.Artifact
	matchedThreatID string
	reasons         []string
}

func strength(o Outcome) int {
	switch o {
	case Deny:
		return 2
	case Ask:
		return 1
	default:
		return 0
	}
}

// Decide applies the §4.9 decision table. Input order for tie-breaking is
// heuristic matches, then URL-check results, then package-check results —
// the order they're listed as inputs in the spec. urlVerdicts must already
// be in a stable order (URL-extraction order): a map has no iteration order
// guarantee, so callers collect it into a slice before calling Decide.
func Decide(matches []heuristics.Match, urlVerdicts []reputation.URLVerdict, pkgResults []packagecheck.Result, sensitivity Sensitivity) Verdict {
	var signals []signal

	for _, m := range matches {
		if s, ok := heuristicSignal(m, sensitivity); ok {
			signals = append(signals, s)
		}
	}
	for _, v := range urlVerdicts {
		if s, ok := urlSignal(v, sensitivity); ok {
			signals = append(signals, s)
		}
	}
	for _, r := range pkgResults {
		if s, ok := packageSignal(r, sensitivity); ok {
			signals = append(signals, s)
		}
	}

	if len(signals) == 0 {
		return Verdict{Decision: Allow}
	}

	best := 0
	for i, s := range signals {
		if strength(s.decision) > strength(signals[best].decision) {
			best = i
		}
	}

	winner := signals[best]
	if winner.decision == Allow {
		return Verdict{Decision: Allow}
	}

	confidence := 0.0
	for _, s := range signals {
		if s.decision == winner.decision && s.confidence > confidence {
			confidence = s.confidence
		}
	}

	return Verdict{
		Decision:        winner.decision,
		Category:        winner.category,
		Confidence:      confidence,
		Severity:        winner.severity,
		Source:          winner.source,
		Artifacts:       winner.artifacts,
		MatchedThreatID: winner.matchedThreatID,
		Reasons:         winner.reasons,
	}
}

func heuristicSignal(m heuristics.Match, sensitivity Sensitivity) (signal, bool) {
	var d Outcome
	switch m.Rule.Action {
	case threat.ActionBlock:
		d = Deny
	case threat.ActionRequireApproval:
		d = Ask
	case threat.ActionLog:
		if sensitivity == Paranoid {
			d = Ask
		} else {
			d = Allow
		}
	default:
		return signal{}, false
	}
	if d == Allow {
		return signal{}, false
	}
	return signal{
		decision:        d,
		severity:        severityFromRule(m.Rule.Severity),
		category:        m.Rule.Category,
		source:          "heuristics",
		confidence:      m.Rule.Confidence,
		artifacts:       []artifact.Artifact{{Type: m.ArtifactType, Value: m.Value}},
		matchedThreatID: m.Rule.ID,
		reasons:         []string{m.Rule.Title},
	}, true
}

func severityFromRule(s threat.Severity) Severity {
	switch s {
	case threat.SeverityCritical, threat.SeverityHigh:
		return SeverityCritical
	case threat.SeverityMedium:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func urlSignal(v reputation.URLVerdict, sensitivity Sensitivity) (signal, bool) {
	if v.IsMalicious {
		return signal{
			decision:   Deny,
			severity:   SeverityCritical,
			category:   "url_check",
			source:     "url_check",
			confidence: 1,
			artifacts:  []artifact.Artifact{{Type: artifact.TypeURL, Value: v.URL}},
			reasons:    v.Findings,
		}, true
	}
	if len(v.Flags) > 0 {
		d := Ask
		if sensitivity == Relaxed {
			d = Allow
		}
		if d == Allow {
			return signal{}, false
		}
		return signal{
			decision:   d,
			severity:   SeverityWarning,
			category:   "url_check",
			source:     "url_check",
			confidence: 0.5,
			artifacts:  []artifact.Artifact{{Type: artifact.TypeURL, Value: v.URL}},
			reasons:    v.Flags,
		}, true
	}
	return signal{}, false
}

func packageSignal(r packagecheck.Result, sensitivity Sensitivity) (signal, bool) {
	switch r.Verdict {
	case packagecheck.VerdictNotFound, packagecheck.VerdictMalicious:
		return signal{
			decision:   Deny,
			severity:   SeverityCritical,
			category:   "package_check",
			source:     "package_check",
			confidence: r.Confidence,
			artifacts:  []artifact.Artifact{{Type: artifact.TypeCommand, Value: packageLabel(r)}},
			reasons:    []string{r.Details},
		}, true
	case packagecheck.VerdictSuspiciousAge:
		d := Ask
		if sensitivity == Relaxed {
			d = Allow
		}
		if d == Allow {
			return signal{}, false
		}
		return signal{
			decision:   d,
			severity:   SeverityWarning,
			category:   "package_check",
			source:     "package_check",
			confidence: r.Confidence,
			artifacts:  []artifact.Artifact{{Type: artifact.TypeCommand, Value: packageLabel(r)}},
			reasons:    []string{r.Details},
		}, true
	default:
		return signal{}, false
	}
}

func packageLabel(r packagecheck.Result) string {
	if r.Package.Version != "" {
		return r.Package.Registry + ":" + r.Package.Name + "@" + r.Package.Version
	}
	return r.Package.Registry + ":" + r.Package.Name
}

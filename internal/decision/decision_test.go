package decision

import (
	"testing"

	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/heuristics"
	"github.com/sage-sh/sage/internal/packagecheck"
	"github.com/sage-sh/sage/internal/reputation"
	"github.com/sage-sh/sage/internal/threat"
)

func blockRule() threat.Rule {
	return threat.Rule{ID: "CLT-CMD-001", Category: "supply_chain", Severity: threat.SeverityCritical, Confidence: 0.9, Action: threat.ActionBlock, Title: "pipe to shell"}
}

func logRule() threat.Rule {
	return threat.Rule{ID: "CLT-LOG-001", Category: "info", Severity: threat.SeverityLow, Confidence: 0.3, Action: threat.ActionLog, Title: "noted"}
}

func TestDecideNoSignalsIsAllow(t *testing.T) {
	v := Decide(nil, nil, nil, Balanced)
	if v.Decision != Allow || len(v.Artifacts) != 0 || len(v.Reasons) != 0 {
		t.Fatalf("expected empty allow verdict, got %+v", v)
	}
}

func TestDecideBlockRuleAlwaysDeniesRegardlessOfSensitivity(t *testing.T) {
	matches := []heuristics.Match{{Rule: blockRule(), ArtifactType: artifact.TypeCommand, Value: "curl x|bash", MatchText: "curl x|bash"}}
	for _, s := range []Sensitivity{Paranoid, Balanced, Relaxed} {
		v := Decide(matches, nil, nil, s)
		if v.Decision != Deny {
			t.Fatalf("sensitivity %s: expected deny, got %s", s, v.Decision)
		}
	}
}

func TestDecideLogRuleVariesWithSensitivity(t *testing.T) {
	matches := []heuristics.Match{{Rule: logRule(), ArtifactType: artifact.TypeCommand, Value: "x", MatchText: "x"}}

	if v := Decide(matches, nil, nil, Paranoid); v.Decision != Ask {
		t.Fatalf("paranoid: expected ask for log rule, got %s", v.Decision)
	}
	if v := Decide(matches, nil, nil, Balanced); v.Decision != Allow {
		t.Fatalf("balanced: expected allow for log rule, got %s", v.Decision)
	}
	if v := Decide(matches, nil, nil, Relaxed); v.Decision != Allow {
		t.Fatalf("relaxed: expected allow for log rule, got %s", v.Decision)
	}
}

func TestDecideURLMaliciousAlwaysDenies(t *testing.T) {
	urls := []reputation.URLVerdict{{URL: "https://evil.example", IsMalicious: true, Findings: []string{"known_bad"}}}
	v := Decide(nil, urls, nil, Relaxed)
	if v.Decision != Deny || v.Source != "url_check" {
		t.Fatalf("expected deny from malicious url check, got %+v", v)
	}
}

func TestDecideURLFlagsOnlyAllowsUnderRelaxed(t *testing.T) {
	urls := []reputation.URLVerdict{{URL: "https://sus.example", Flags: []string{"newly_registered"}}}
	if v := Decide(nil, urls, nil, Balanced); v.Decision != Ask {
		t.Fatalf("balanced: expected ask for flagged url, got %s", v.Decision)
	}
	if v := Decide(nil, urls, nil, Relaxed); v.Decision != Allow {
		t.Fatalf("relaxed: expected allow for flagged url, got %s", v.Decision)
	}
}

func TestDecidePackageNotFoundAlwaysDenies(t *testing.T) {
	pkgs := []packagecheck.Result{{Package: packagecheck.Package{Name: "typosquat", Registry: "npm"}, Verdict: packagecheck.VerdictNotFound, Confidence: 1}}
	v := Decide(nil, nil, pkgs, Relaxed)
	if v.Decision != Deny {
		t.Fatalf("expected deny for not_found package under relaxed, got %s", v.Decision)
	}
}

func TestDecideStrongestSignalWinsOverWeaker(t *testing.T) {
	matches := []heuristics.Match{{Rule: logRule(), ArtifactType: artifact.TypeCommand, Value: "x", MatchText: "x"}}
	pkgs := []packagecheck.Result{{Package: packagecheck.Package{Name: "evil", Registry: "npm"}, Verdict: packagecheck.VerdictMalicious, Confidence: 1}}

	v := Decide(matches, nil, pkgs, Balanced)
	if v.Decision != Deny {
		t.Fatalf("expected the deny-strength package signal to win over the allow-strength log rule, got %s", v.Decision)
	}
}

func TestDecideAllowVerdictCarriesNoDetail(t *testing.T) {
	matches := []heuristics.Match{{Rule: logRule(), ArtifactType: artifact.TypeCommand, Value: "x", MatchText: "x"}}
	v := Decide(matches, nil, nil, Balanced)
	if v.Decision != Allow {
		t.Fatalf("expected allow, got %s", v.Decision)
	}
	if len(v.Artifacts) != 0 || len(v.Reasons) != 0 || v.MatchedThreatID != "" {
		t.Fatalf("allow verdict must carry no detail, got %+v", v)
	}
}

func TestDecideURLTieBreakIsStableOverInputOrder(t *testing.T) {
	urls := []reputation.URLVerdict{
		{URL: "https://first.example", Flags: []string{"newly_registered"}},
		{URL: "https://second.example", Flags: []string{"url_shortener"}},
	}
	for i := 0; i < 10; i++ {
		v := Decide(nil, urls, nil, Balanced)
		if len(v.Artifacts) != 1 || v.Artifacts[0].Value != "https://first.example" {
			t.Fatalf("expected the first URL in input order to win the tie, got %+v", v.Artifacts)
		}
	}
}

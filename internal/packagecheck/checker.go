package packagecheck

import (
	"context"
	"time"

	"github.com/sage-sh/sage/internal/reputation"
	"github.com/sage-sh/sage/internal/workerpool"
)

// Verdict mirrors the package-check result enum (§3).
type Verdict string

const (
	VerdictClean         Verdict = "clean"
	VerdictNotFound      Verdict = "not_found"
	VerdictSuspiciousAge Verdict = "suspicious_age"
	VerdictMalicious     Verdict = "malicious"
	VerdictUnknown       Verdict = "unknown"
)

// freshnessWindow is the "within a freshness window" threshold from §4.8:
// a package whose first release is younger than this is suspicious_age.
const freshnessWindow = 7 * 24 * time.Hour

// Result is one package's checked verdict (§3 "Package-check result").
type Result struct {
	Package    Package
	Verdict    Verdict
	Confidence float64
	AgeDays    *int
	Details    string
}

// Checker runs registry lookups and file-check against the reputation
// client for a set of parsed packages, bounded by the shared worker pool.
type Checker struct {
	client *reputation.Client
}

// NewChecker builds a Checker around a client from reputation.New. Registry
// lookups always run; a client with an empty file-check endpoint skips the
// malicious-file check.
func NewChecker(client *reputation.Client) *Checker {
	return &Checker{client: client}
}

// Check runs the per-package registry+file-check pipeline concurrently
// through the shared worker pool (§ATK-14).
func (c *Checker) Check(ctx context.Context, pkgs []Package) []Result {
	return workerpool.RunEach(ctx, pkgs, func(ctx context.Context, p Package) Result {
		return c.checkOne(ctx, p)
	})
}

func (c *Checker) checkOne(ctx context.Context, p Package) Result {
	var meta *reputation.RegistryMetadata
	var err error
	switch p.Registry {
	case "npm":
		meta, err = c.client.FetchNPM(ctx, p.Name, p.Version)
	case "pypi":
		meta, err = c.client.FetchPyPI(ctx, p.Name, p.Version)
	default:
		return Result{Package: p, Verdict: VerdictUnknown, Details: "unsupported registry"}
	}

	if err != nil {
		return Result{Package: p, Verdict: VerdictUnknown, Details: err.Error()}
	}
	if meta == nil {
		return Result{Package: p, Verdict: VerdictNotFound, Confidence: 1, Details: "package not found in registry"}
	}

	if meta.LatestHash != "" {
		hashes := c.client.CheckFiles(ctx, []string{meta.LatestHash})
		if fv, ok := hashes[meta.LatestHash]; ok && fv.Malicious {
			return Result{Package: p, Verdict: VerdictMalicious, Confidence: 1, Details: "file check flagged " + fv.Severity}
		}
	}

	if !meta.FirstReleaseDate.IsZero() {
		age := time.Since(meta.FirstReleaseDate)
		if age < freshnessWindow {
			ageDays := int(age.Hours() / 24)
			return Result{Package: p, Verdict: VerdictSuspiciousAge, Confidence: 0.6, AgeDays: &ageDays, Details: "recently published package"}
		}
	}

	return Result{Package: p, Verdict: VerdictClean, Confidence: 1}
}

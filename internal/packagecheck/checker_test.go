package packagecheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sage-sh/sage/internal/reputation"
)

func TestCheckerNotFoundOn404(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer registry.Close()

	client := reputation.New(0, "", "", registry.URL, "")
	checker := NewChecker(client)

	results := checker.Check(context.Background(), []Package{{Name: "does-not-exist", Registry: "npm"}})
	if len(results) != 1 || results[0].Verdict != VerdictNotFound {
		t.Fatalf("expected not_found verdict, got %+v", results)
	}
}

func TestCheckerSuspiciousAgeForRecentRelease(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dist-tags":{"latest":"0.0.1"},"time":{"0.0.1":"` + recent + `"},"versions":{"0.0.1":{"dist":{}}}}`))
	}))
	defer registry.Close()

	client := reputation.New(0, "", "", registry.URL, "")
	checker := NewChecker(client)

	results := checker.Check(context.Background(), []Package{{Name: "brand-new-pkg", Registry: "npm"}})
	if len(results) != 1 || results[0].Verdict != VerdictSuspiciousAge {
		t.Fatalf("expected suspicious_age verdict, got %+v", results)
	}
	if results[0].AgeDays == nil {
		t.Fatal("expected ageDays to be populated for suspicious_age")
	}
}

func TestCheckerMaliciousFileCheckWins(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dist-tags":{"latest":"1.0.0"},"time":{"1.0.0":"2015-01-01T00:00:00Z"},"versions":{"1.0.0":{"dist":{"shasum":"badhash"}}}}`))
	}))
	defer registry.Close()
	fileCheck := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"hash":"badhash","severity":"SEVERITY_MALWARE"}]}`))
	}))
	defer fileCheck.Close()

	client := reputation.New(0, "", fileCheck.URL, registry.URL, "")
	checker := NewChecker(client)

	results := checker.Check(context.Background(), []Package{{Name: "evil-pkg", Registry: "npm"}})
	if len(results) != 1 || results[0].Verdict != VerdictMalicious {
		t.Fatalf("expected malicious verdict, got %+v", results)
	}
}

func TestCheckerCleanForEstablishedPackage(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dist-tags":{"latest":"4.17.21"},"time":{"4.17.21":"2015-01-01T00:00:00Z"},"versions":{"4.17.21":{"dist":{}}}}`))
	}))
	defer registry.Close()

	client := reputation.New(0, "", "", registry.URL, "")
	checker := NewChecker(client)

	results := checker.Check(context.Background(), []Package{{Name: "lodash", Registry: "npm"}})
	if len(results) != 1 || results[0].Verdict != VerdictClean {
		t.Fatalf("expected clean verdict, got %+v", results)
	}
}

func TestCheckerBoundedConcurrency(t *testing.T) {
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dist-tags":{"latest":"1.0.0"},"time":{"1.0.0":"2015-01-01T00:00:00Z"},"versions":{"1.0.0":{"dist":{}}}}`))
	}))
	defer registry.Close()

	client := reputation.New(0, "", "", registry.URL, "")
	checker := NewChecker(client)

	pkgs := make([]Package, 40)
	for i := range pkgs {
		pkgs[i] = Package{Name: "pkg", Registry: "npm"}
	}
	results := checker.Check(context.Background(), pkgs)
	if len(results) != 40 {
		t.Fatalf("expected 40 results, got %d", len(results))
	}
}

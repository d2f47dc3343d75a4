package threat

import (
	"embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

//go:embed builtin_domains/*.yaml
var builtinDomainsFS embed.FS

// TrustedDomain is a host suffix whose appearance in a matched substring may
// suppress a suppressible rule (§4.5). Domain may contain glob wildcards
// (e.g. "cdn-*.example.com"), in which case Pattern holds the compiled
// matcher, scoped to dot-separated labels the same way the teacher's path
// matcher scopes globs to "/"-separated segments.
type TrustedDomain struct {
	Domain  string
	Reason  string
	Pattern glob.Glob
}

type domainEntry struct {
	Domain string `yaml:"domain"`
	Reason string `yaml:"reason"`
}

type domainFileYAML struct {
	Domains []domainEntry `yaml:"domains"`
}

// Registry is the loaded, lower-cased trusted-domain list.
type Registry struct {
	domains []TrustedDomain
}

// LoadRegistry reads the builtin trusted-domain list plus an optional
// user-supplied directory of the same YAML shape.
func LoadRegistry(userDir string) *Registry {
	r := &Registry{}
	r.domains = append(r.domains, loadDomainsFromFS(builtinDomainsFS, "builtin_domains")...)
	if userDir != "" {
		r.domains = append(r.domains, loadDomainsFromDir(userDir)...)
	}
	return r
}

func loadDomainsFromFS(fsys embed.FS, dir string) []TrustedDomain {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []TrustedDomain
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := fsys.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, parseDomainFile(data)...)
	}
	return out
}

func loadDomainsFromDir(dir string) []TrustedDomain {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []TrustedDomain
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn("read trusted domain file %s: %v", e.Name(), err)
			continue
		}
		out = append(out, parseDomainFile(data)...)
	}
	return out
}

func parseDomainFile(data []byte) []TrustedDomain {
	var doc domainFileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Warn("parse trusted domain file: %v", err)
		return nil
	}
	out := make([]TrustedDomain, 0, len(doc.Domains))
	for _, e := range doc.Domains {
		if e.Domain == "" {
			continue
		}
		domain := strings.ToLower(e.Domain)
		td := TrustedDomain{Domain: domain, Reason: e.Reason}
		if strings.ContainsAny(domain, "*?[") {
			g, err := glob.Compile(domain, '.')
			if err != nil {
				log.Warn("skip trusted domain pattern %q: %v", domain, err)
				continue
			}
			td.Pattern = g
		}
		out = append(out, td)
	}
	return out
}

// Trusts reports whether host (already lower-cased by the caller, or not —
// this lower-cases defensively) matches a registry domain exactly, as a
// dot-suffix ("bun.sh" trusts "bun.sh" and "*.bun.sh"), or against a
// registry entry's glob pattern ("cdn-*.example.com" trusts
// "cdn-37.example.com" but not "cdn-37.eu.example.com", since "." is the
// glob separator).
func (r *Registry) Trusts(host string) bool {
	host = strings.ToLower(host)
	for _, d := range r.domains {
		if d.Pattern != nil {
			if d.Pattern.Match(host) {
				return true
			}
			continue
		}
		if host == d.Domain || strings.HasSuffix(host, "."+d.Domain) {
			return true
		}
	}
	return false
}

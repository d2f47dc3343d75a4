// Package packagecheck implements the package extractor and checker (C9):
// recognizing npm/yarn/pnpm/pip install invocations and manifest files, then
// scoring each named package against registry and file-check reputation.
package packagecheck

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Package is one parsed package reference (§4.2/§4.8).
type Package struct {
	Name     string
	Registry string // "npm" or "pypi"
	Version  string // empty when unspecified
}

// manifestBasenames are the filenames the extractor recognizes as package
// manifests (§4.2).
var manifestBasenames = map[string]bool{
	"package.json":     true,
	"requirements.txt": true,
	"pyproject.toml":   true,
}

// npmInstallVerbs identifies the npm/pnpm subcommands that add a dependency,
// as opposed to e.g. "npm run"; yarn accepts only "add", and pip only
// "install" (checked in pipPackagesFromWords).
var npmInstallVerbs = map[string]bool{"install": true, "i": true, "add": true}

// Extract recognizes package install invocations from a shell command, and
// manifest-file package declarations from a file's content, per the
// filename basename. Either argument may be empty.
func Extract(command, filename, content string) []Package {
	var out []Package
	if command != "" {
		out = append(out, extractFromCommand(command)...)
	}
	if filename != "" && manifestBasenames[path.Base(filename)] {
		out = append(out, extractFromManifest(path.Base(filename), content)...)
	}
	return dedupe(out)
}

// extractFromCommand walks the shell AST for each simple command and checks
// whether it is an npm/yarn/pnpm/pip install invocation.
func extractFromCommand(command string) []Package {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil
	}

	var out []Package
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok {
			return true
		}
		words := wordLiterals(call.Args)
		out = append(out, packagesFromWords(words)...)
		return true
	})
	return out
}

func wordLiterals(words []*syntax.Word) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, literal(w))
	}
	return out
}

// literal renders a word as plain text when it is made up only of literal
// parts (no substitutions). A word containing substitution is rendered as
// "" so it is never mistaken for a package name.
func literal(w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		lit, ok := part.(*syntax.Lit)
		if !ok {
			return ""
		}
		sb.WriteString(lit.Value)
	}
	return sb.String()
}

func packagesFromWords(words []string) []Package {
	if len(words) < 2 {
		return nil
	}

	tool := path.Base(words[0])
	switch tool {
	case "npm", "yarn", "pnpm":
		return npmPackagesFromWords(words)
	case "pip", "pip3":
		return pipPackagesFromWords(words)
	}
	return nil
}

func npmPackagesFromWords(words []string) []Package {
	verb := words[1]
	isInstall := npmInstallVerbs[verb]
	if words[0] == "yarn" {
		isInstall = verb == "add"
	}
	if !isInstall {
		return nil
	}

	var out []Package
	for _, arg := range words[2:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if pkg := parseNPMSpec(arg); pkg != nil {
			out = append(out, *pkg)
		}
	}
	return out
}

// parseNPMSpec parses "name", "name@version", or "@scope/name@version".
// Scoped packages are treated as private and skipped (§4.2).
func parseNPMSpec(spec string) *Package {
	if strings.HasPrefix(spec, "@") {
		return nil
	}
	name, version := spec, ""
	if i := strings.LastIndex(spec, "@"); i > 0 {
		name, version = spec[:i], spec[i+1:]
	}
	if name == "" {
		return nil
	}
	return &Package{Name: name, Registry: "npm", Version: version}
}

func pipPackagesFromWords(words []string) []Package {
	if len(words) < 2 || words[1] != "install" {
		return nil
	}

	var out []Package
	for _, arg := range words[2:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if pkg := parsePipSpec(arg); pkg != nil {
			out = append(out, *pkg)
		}
	}
	return out
}

var pipSpecPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(==|>=|<=|~=|>|<)?([A-Za-z0-9.!+_-]*)$`)

func parsePipSpec(spec string) *Package {
	m := pipSpecPattern.FindStringSubmatch(spec)
	if m == nil || m[1] == "" {
		return nil
	}
	return &Package{Name: m[1], Registry: "pypi", Version: m[3]}
}

// extractFromManifest recognizes package declarations by manifest shape.
func extractFromManifest(basename, content string) []Package {
	switch basename {
	case "package.json":
		return extractFromPackageJSON(content)
	case "requirements.txt":
		return extractFromRequirementsTxt(content)
	case "pyproject.toml":
		return extractFromPyprojectToml(content)
	}
	return nil
}

func extractFromPackageJSON(content string) []Package {
	var doc struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil
	}

	var out []Package
	for name, version := range doc.Dependencies {
		if strings.HasPrefix(name, "@") {
			continue
		}
		out = append(out, Package{Name: name, Registry: "npm", Version: cleanSemverRange(version)})
	}
	for name, version := range doc.DevDependencies {
		if strings.HasPrefix(name, "@") {
			continue
		}
		out = append(out, Package{Name: name, Registry: "npm", Version: cleanSemverRange(version)})
	}
	return out
}

// cleanSemverRange strips leading range operators ("^1.2.3" → "1.2.3") so
// the registry client receives a resolvable version, falling back to empty
// (meaning "latest") for anything that isn't a plain version.
func cleanSemverRange(v string) string {
	v = strings.TrimLeft(v, "^~>=< ")
	if v == "" || v == "*" || strings.ContainsAny(v, "|x ") {
		return ""
	}
	return v
}

var requirementLinePattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(==|>=|<=|~=)?\s*([A-Za-z0-9.!+_-]*)`)

func extractFromRequirementsTxt(content string) []Package {
	var out []Package
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		m := requirementLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Package{Name: m[1], Registry: "pypi", Version: m[3]})
	}
	return out
}

var pyprojectDepLinePattern = regexp.MustCompile(`"([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:==|>=|<=|~=)?\s*([A-Za-z0-9.!+_-]*)"`)

// extractFromPyprojectToml does a line-oriented scan of the
// [tool.poetry.dependencies]/[project] dependency arrays rather than a full
// TOML parse, matching the spec's "parse manifests" wording without pulling
// in a TOML library the rest of the corpus never uses.
func extractFromPyprojectToml(content string) []Package {
	var out []Package
	inDeps := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			inDeps = strings.Contains(trimmed, "dependencies")
			continue
		}
		if !inDeps {
			continue
		}
		for _, m := range pyprojectDepLinePattern.FindAllStringSubmatch(line, -1) {
			if m[1] == "python" {
				continue
			}
			out = append(out, Package{Name: m[1], Registry: "pypi", Version: m[2]})
		}
	}
	return out
}

func dedupe(pkgs []Package) []Package {
	seen := map[Package]bool{}
	var out []Package
	for _, p := range pkgs {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Package normalize canonicalizes the URL, command, and file-path keys used
// by every downstream component: the allowlist, the verdict cache, and the
// heuristics engine's trusted-domain suppression all depend on writers and
// readers agreeing on the exact same key for the exact same artifact.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Paths expands ~, strips confusables, and lexically cleans a file path the
// way the rest of the module expects a "normalized path" to look: no symlink
// resolution (that is a separate, explicit step closer to the filesystem),
// no case folding, forward slashes throughout.
type Paths struct {
	homeDir string
}

// NewPaths builds a Paths normalizer rooted at the current user's home
// directory. Construction never fails: an unresolvable home directory just
// disables tilde expansion.
func NewPaths() *Paths {
	home, _ := os.UserHomeDir()
	return &Paths{homeDir: filepath.ToSlash(home)}
}

// NewPathsWithHome builds a Paths normalizer against an explicit home
// directory, for tests that must not depend on the invoking user's $HOME.
func NewPathsWithHome(home string) *Paths {
	return &Paths{homeDir: filepath.ToSlash(home)}
}

// File implements normalizeFilePath: expand a leading "~" or "~/", then
// collapse "." and ".." using pure lexical normalization. No symlink
// resolution, no case folding — two processes that normalize the same raw
// path string must agree without touching the filesystem.
func (p *Paths) File(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\x00", "")
	s = filepath.ToSlash(s)
	s = strings.ToValidUTF8(s, "�")
	s = norm.NFKC.String(s)
	s = stripInvisible(s)
	s = stripConfusables(s)
	s = norm.NFKC.String(s)

	s = p.expandTilde(s)

	cleaned := path.Clean(s)
	if strings.HasPrefix(s, "/") && !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}

func (p *Paths) expandTilde(s string) string {
	if p.homeDir == "" {
		return s
	}
	if s == "~" {
		return p.homeDir
	}
	if strings.HasPrefix(s, "~/") {
		return p.homeDir + s[1:]
	}
	return s
}

// URL implements normalizeUrl: parse, lowercase scheme and host, drop the
// fragment, sort query parameters by key, preserve path case, serialize an
// empty path as "/" (so "https://a.test" and "https://a.test/" share a key),
// re-serialize.
// If the string doesn't parse as a URL, the best we can do is lowercase it —
// still a total function, never an error.
func URL(s string) string {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(s))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	return u.String()
}

// Command implements hashCommand: the SHA-256 hex digest of the exact
// command bytes. No normalization — the allowlist and cache key on the
// literal text the host submitted.
func Command(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var confusableMap = map[rune]rune{
	'а': 'a', 'е': 'e', 'і': 'i', 'о': 'o',
	'р': 'p', 'с': 'c', 'у': 'y', 'х': 'x',
	'ъ': 'b', 'А': 'A', 'В': 'B', 'Е': 'E',
	'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O',
	'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	'Ч': 'Y',
	'α': 'a', 'ε': 'e', 'ι': 'i', 'ο': 'o',
	'ρ': 'p', 'τ': 't', 'Α': 'A', 'Β': 'B',
	'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K',
	'Μ': 'M', 'Ν': 'N', 'Ο': 'O', 'Ρ': 'P',
	'Τ': 'T', 'Χ': 'X', 'Υ': 'Y', 'Ζ': 'Z',
	'ᴀ': 'a', 'ᴄ': 'c', 'ᴅ': 'd', 'ᴇ': 'e',
	'ɢ': 'g', 'ʜ': 'h', 'ɪ': 'i', 'ᴊ': 'j',
	'ᴋ': 'k', 'ʟ': 'l', 'ᴍ': 'm', 'ɴ': 'n',
	'ᴏ': 'o', 'ᴘ': 'p', 'ʀ': 'r', 'ꜱ': 's',
	'ᴛ': 't', 'ᴜ': 'u', 'ᴠ': 'v', 'ᴡ': 'w',
}

var invisibleRunes = map[rune]bool{
	'​': true, '‌': true, '‍': true, '\uFEFF': true,
	'­': true, '͏': true, '؜': true, '᠎': true,
	'⁠': true, '⁡': true, '⁢': true, '⁣': true,
	'⁤': true, '⁪': true, '⁫': true, '⁬': true,
	'⁭': true, '⁮': true, '⁯': true, '‎': true,
	'‏': true, '‪': true, '‫': true, '‬': true,
	'‭': true, '‮': true,
}

func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if invisibleRunes[r] {
			return -1
		}
		return r
	}, s)
}

func stripConfusables(s string) string {
	return strings.Map(func(r rune) rune {
		if ascii, ok := confusableMap[r]; ok {
			return ascii
		}
		return r
	}, s)
}

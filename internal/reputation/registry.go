package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RegistryMetadata is what the package checker (C9) needs out of a
// registry lookup (§4.7).
type RegistryMetadata struct {
	ResolvedVersion       string
	LatestHash            string
	HashAlgorithm         string
	FirstReleaseDate      time.Time
	RequestedVersionFound bool
}

// unsafePackageName reports whether name could be used to smuggle an SSRF
// via the registry URL we build from it: path separators or a ".." segment.
func unsafePackageName(name string) bool {
	if strings.Contains(name, "..") {
		return true
	}
	// npm scoped names legitimately contain exactly one '/'; any other
	// separator shape is suspect.
	if strings.Count(name, "/") > 1 {
		return true
	}
	if strings.Contains(name, "/") && !strings.HasPrefix(name, "@") {
		return true
	}
	return strings.ContainsAny(name, "\\\x00")
}

// encodeNPMName URL-encodes a scoped npm package name: "@scope/name"
// becomes "@scope%2Fname" (§4.7).
func encodeNPMName(name string) string {
	if !strings.HasPrefix(name, "@") {
		return name
	}
	parts := strings.SplitN(name, "/", 2)
	if len(parts) != 2 {
		return name
	}
	return parts[0] + "%2F" + parts[1]
}

// FetchNPM fetches npm registry metadata for name@version (version may be
// empty for "latest"). Returns (nil, nil) on a 404 or on an SSRF-unsafe
// name; returns an error on a 5xx or transport failure so the caller can
// fail open.
func (c *Client) FetchNPM(ctx context.Context, name, version string) (*RegistryMetadata, error) {
	if unsafePackageName(name) {
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/%s", c.NPMRegistryBaseURL, encodeNPMName(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("npm registry status %d for %s", resp.StatusCode, name)
	}

	var doc struct {
		DistTags struct {
			Latest string `json:"latest"`
		} `json:"dist-tags"`
		Time     map[string]string `json:"time"`
		Versions map[string]struct {
			Dist struct {
				Shasum  string `json:"shasum"`
				Tarball string `json:"tarball"`
			} `json:"dist"`
		} `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}

	resolved := version
	if resolved == "" {
		resolved = doc.DistTags.Latest
	}
	v, found := doc.Versions[resolved]

	meta := &RegistryMetadata{
		ResolvedVersion:       resolved,
		RequestedVersionFound: found,
		HashAlgorithm:         "sha1",
	}
	if found {
		meta.LatestHash = v.Dist.Shasum
	}
	if ts, ok := doc.Time[resolved]; ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			meta.FirstReleaseDate = t
		}
	} else if ts, ok := doc.Time["created"]; ok {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			meta.FirstReleaseDate = t
		}
	}
	return meta, nil
}

// FetchPyPI fetches PyPI registry metadata for name (PyPI has no per-project
// scoping, so the SSRF guard still applies to the raw name).
func (c *Client) FetchPyPI(ctx context.Context, name, version string) (*RegistryMetadata, error) {
	if unsafePackageName(name) {
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/%s/json", c.PyPIRegistryBaseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pypi registry status %d for %s", resp.StatusCode, name)
	}

	var doc struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
		Releases map[string][]struct {
			UploadTime string `json:"upload_time_iso_8601"`
			Digests    struct {
				SHA256 string `json:"sha256"`
			} `json:"digests"`
		} `json:"releases"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}

	resolved := version
	if resolved == "" {
		resolved = doc.Info.Version
	}
	files, found := doc.Releases[resolved]

	meta := &RegistryMetadata{
		ResolvedVersion:       resolved,
		RequestedVersionFound: found,
		HashAlgorithm:         "sha256",
	}
	var earliest time.Time
	for _, f := range files {
		t, err := time.Parse(time.RFC3339, f.UploadTime)
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
		if f.Digests.SHA256 != "" {
			meta.LatestHash = f.Digests.SHA256
		}
	}
	meta.FirstReleaseDate = earliest
	return meta, nil
}

package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
)

// severityMalware is the only severity level that drives a critical
// finding (§4.7).
const severityMalware = "SEVERITY_MALWARE"

// FileVerdict is the per-hash result of a file-check batch.
type FileVerdict struct {
	Hash      string
	Severity  string
	Malicious bool
}

type fileCheckRequest struct {
	Hashes []string `json:"hashes"`
}

type fileCheckResponse struct {
	Results []struct {
		Hash     string `json:"hash"`
		Severity string `json:"severity"`
	} `json:"results"`
}

// CheckFiles checks a list of SHA-256 hashes. Fail-open: any transport or
// decode error yields an empty map.
func (c *Client) CheckFiles(ctx context.Context, hashes []string) map[string]FileVerdict {
	out := map[string]FileVerdict{}
	if c.FileCheckEndpoint == "" || len(hashes) == 0 {
		return out
	}

	body, err := json.Marshal(fileCheckRequest{Hashes: hashes})
	if err != nil {
		log.Warn("marshal file check request: %v", err)
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.FileCheckEndpoint, bytes.NewReader(body))
	if err != nil {
		log.Warn("build file check request: %v", err)
		return out
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("file check request: %v", err)
		return out
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("file check status %d", resp.StatusCode)
		return out
	}

	var parsed fileCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Warn("decode file check response: %v", err)
		return out
	}

	for _, r := range parsed.Results {
		out[r.Hash] = FileVerdict{
			Hash:      r.Hash,
			Severity:  r.Severity,
			Malicious: r.Severity == severityMalware,
		}
	}
	return out
}

package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/sage-sh/sage/internal/workerpool"
)

// URLVerdict is the per-URL result of a URL-check batch (§4.7).
type URLVerdict struct {
	URL         string
	IsMalicious bool
	Findings    []string
	Flags       []string
}

type urlCheckRequest struct {
	URLs []string `json:"urls"`
}

type urlCheckResponse struct {
	Answers []struct {
		URL    string `json:"url"`
		Result struct {
			Success struct {
				Classification struct {
					Result struct {
						Malicious *struct {
							Findings []string `json:"findings"`
						} `json:"malicious"`
					} `json:"result"`
				} `json:"classification"`
			} `json:"success"`
		} `json:"result"`
		Flags []string `json:"flags"`
	} `json:"answers"`
}

// CheckURLs checks urls in batches of urlBatchSize, running batches
// concurrently through the shared worker pool. It never returns an error:
// a failed batch simply contributes no verdicts for its URLs (fail-open).
func (c *Client) CheckURLs(ctx context.Context, urls []string) map[string]URLVerdict {
	out := map[string]URLVerdict{}
	if c.URLCheckEndpoint == "" || len(urls) == 0 {
		return out
	}

	var batches [][]string
	for i := 0; i < len(urls); i += urlBatchSize {
		end := i + urlBatchSize
		if end > len(urls) {
			end = len(urls)
		}
		batches = append(batches, urls[i:end])
	}

	results := workerpool.RunEach(ctx, batches, func(ctx context.Context, batch []string) map[string]URLVerdict {
		return c.checkURLBatch(ctx, batch)
	})
	for _, r := range results {
		for k, v := range r {
			out[k] = v
		}
	}
	return out
}

func (c *Client) checkURLBatch(ctx context.Context, batch []string) map[string]URLVerdict {
	out := map[string]URLVerdict{}

	body, err := json.Marshal(urlCheckRequest{URLs: batch})
	if err != nil {
		log.Warn("marshal url check request: %v", err)
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URLCheckEndpoint, bytes.NewReader(body))
	if err != nil {
		log.Warn("build url check request: %v", err)
		return out
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("url check request: %v", err)
		return out
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("url check status %d", resp.StatusCode)
		return out
	}

	var parsed urlCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Warn("decode url check response: %v", err)
		return out
	}

	for _, a := range parsed.Answers {
		malicious := a.Result.Success.Classification.Result.Malicious
		v := URLVerdict{URL: a.URL, Flags: a.Flags}
		if malicious != nil {
			v.IsMalicious = true
			v.Findings = malicious.Findings
		}
		out[a.URL] = v
	}
	return out
}

// Package reputation implements the outbound URL/file/package-registry
// checks (C8). Every client fails open: a timeout, a non-2xx response, or a
// malformed body yields an empty result rather than an error that could
// block the evaluator pipeline.
package reputation

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/sage-sh/sage/internal/logger"
)

var log = logger.New("reputation")

// DefaultTimeout is the per-request timeout used by every client below
// unless overridden by config (§4.7).
const DefaultTimeout = 5 * time.Second

// urlBatchSize is the maximum number of URL-like keys per batch request.
const urlBatchSize = 50

// Client bundles the HTTP client and endpoints used by the reputation
// checks. An empty URLCheckEndpoint or FileCheckEndpoint disables that check
// rather than erroring. Build a Client with New: a zero-value Client has no
// HTTP client and no registry base URLs.
type Client struct {
	httpClient *http.Client

	URLCheckEndpoint    string
	FileCheckEndpoint   string
	NPMRegistryBaseURL  string
	PyPIRegistryBaseURL string
}

// New builds a Client with the given timeout and endpoints. Empty npm and
// PyPI base URLs fall back to the public registries; empty URL-check and
// file-check endpoints stay empty and disable those checks.
func New(timeout time.Duration, urlEndpoint, fileEndpoint, npmBaseURL, pypiBaseURL string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if npmBaseURL == "" {
		npmBaseURL = "https://registry.npmjs.org"
	}
	if pypiBaseURL == "" {
		pypiBaseURL = "https://pypi.org/pypi"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		URLCheckEndpoint:    urlEndpoint,
		FileCheckEndpoint:   fileEndpoint,
		NPMRegistryBaseURL:  npmBaseURL,
		PyPIRegistryBaseURL: pypiBaseURL,
	}
}

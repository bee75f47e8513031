package adapter

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/benchlab/run-engine/internal/models"
)

// probeHeaders lists the response headers captured on a failed/successful probe attempt.
var probeHeaders = []string{"Content-Type", "Server", "Date"}

// ProbeAttempt records the outcome of one candidate probe URL.
type ProbeAttempt struct {
	URL          string            `json:"url"`
	StatusCode   int               `json:"status_code,omitempty"`
	ErrorSnippet string            `json:"error,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// ProbeResult is the outcome of test_provider(id).
type ProbeResult struct {
	Success  bool           `json:"success"`
	Attempts []ProbeAttempt `json:"attempts"`
}

// Prober performs the provider connectivity probe sequence.
type Prober struct {
	httpClient *http.Client
}

// NewProber constructs a Prober using the given HTTP client; a nil client is
// replaced by a default one.
func NewProber(client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{httpClient: client}
}

// Probe attempts, in order, {base}/v1/models, {base}/models, and {base}
// itself, stopping at the first success.
func (p *Prober) Probe(ctx context.Context, cfg ProviderConfig, kind models.AdapterKind) ProbeResult {
	base := stripTrailingV1(NormalizeBaseURL(cfg.BaseURL))

	candidates := []string{
		base + "/v1/models",
		base + "/models",
		base,
	}

	result := ProbeResult{}
	for _, candidate := range candidates {
		attempt := p.attempt(ctx, candidate, cfg, kind)
		result.Attempts = append(result.Attempts, attempt)
		if attempt.ErrorSnippet == "" && attempt.StatusCode >= 200 && attempt.StatusCode < 300 {
			result.Success = true
			break
		}
	}

	return result
}

func (p *Prober) attempt(ctx context.Context, candidate string, cfg ProviderConfig, kind models.AdapterKind) ProbeAttempt {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, applyCredentialQuery(candidate, cfg, kind), nil)
	if err != nil {
		return ProbeAttempt{URL: candidate, ErrorSnippet: err.Error()}
	}
	applyCredentialHeader(req, cfg, kind)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ProbeAttempt{URL: candidate, ErrorSnippet: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	headers := map[string]string{}
	for _, name := range probeHeaders {
		if v := resp.Header.Get(name); v != "" {
			headers[name] = v
		}
	}

	attempt := ProbeAttempt{URL: candidate, StatusCode: resp.StatusCode, Headers: headers}
	if resp.StatusCode >= 400 {
		attempt.ErrorSnippet = "http status " + resp.Status
	}
	return attempt
}

func applyCredentialHeader(req *http.Request, cfg ProviderConfig, kind models.AdapterKind) {
	if cfg.Credential == "" {
		return
	}
	switch kind {
	case models.AdapterAnthropic:
		req.Header.Set("x-api-key", cfg.Credential)
	case models.AdapterGemini:
		// credential is applied as a query parameter, see applyCredentialQuery.
	default:
		req.Header.Set("Authorization", "Bearer "+cfg.Credential)
	}
}

func applyCredentialQuery(candidate string, cfg ProviderConfig, kind models.AdapterKind) string {
	if kind != models.AdapterGemini || cfg.Credential == "" {
		return candidate
	}

	separator := "?"
	if strings.Contains(candidate, "?") {
		separator = "&"
	}
	return candidate + separator + "key=" + url.QueryEscape(cfg.Credential)
}

func stripTrailingV1(base string) string {
	return strings.TrimSuffix(base, "/v1")
}

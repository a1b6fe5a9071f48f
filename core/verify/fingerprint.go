package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SamplingParams control how much of the audio the fingerprinting service
// samples.
type SamplingParams struct {
	// Skip is the number of seconds skipped between samples.
	Skip int
	// Every samples one snippet every N seconds of audio.
	Every int
	// Offset is the number of seconds skipped from the start.
	Offset int
}

// DefaultSampling mirrors the provider's recommended settings for full-track
// provenance checks.
var DefaultSampling = SamplingParams{Skip: 3, Every: 1}

// RecognizeResult is the provider's match response. Result is nil when
// nothing was recognized.
type RecognizeResult struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

// Recognized reports whether the service matched the audio to a known work.
func (r *RecognizeResult) Recognized() bool {
	return r != nil && r.Status == "success" && len(r.Result) > 0 && string(r.Result) != "null"
}

// FingerprintClient submits audio URLs to an external recognition service.
// With no API token configured the client is disabled and every call becomes
// a no-op.
type FingerprintClient struct {
	endpoint string
	apiToken string
	http     *http.Client
}

// NewFingerprintClient creates a client; an empty token disables it.
func NewFingerprintClient(endpoint, apiToken string) *FingerprintClient {
	return &FingerprintClient{
		endpoint: endpoint,
		apiToken: apiToken,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether an API credential is configured.
func (c *FingerprintClient) Enabled() bool {
	return c.apiToken != ""
}

// Recognize submits one audio URL with sampling parameters.
func (c *FingerprintClient) Recognize(ctx context.Context, audioURL string, p SamplingParams) (*RecognizeResult, error) {
	form := url.Values{}
	form.Set("api_token", c.apiToken)
	form.Set("url", audioURL)
	form.Set("skip", strconv.Itoa(p.Skip))
	form.Set("every", strconv.Itoa(p.Every))
	if p.Offset > 0 {
		form.Set("offset", strconv.Itoa(p.Offset))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build recognition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognition service returned status %d", resp.StatusCode)
	}

	var result RecognizeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode recognition response: %w", err)
	}
	return &result, nil
}

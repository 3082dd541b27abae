// Package quality provides quality gate oracles: an HTTP client for the
// validation service and a scripted double.
package quality

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// HTTPOracle asks an external validation service to evaluate an expectation
// suite. It never retries: a failed call fails the gate.
type HTTPOracle struct {
	client  *http.Client
	url     string
	timeout time.Duration
}

// NewHTTPOracle creates an oracle that POSTs selectors to url.
func NewHTTPOracle(url string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		client:  &http.Client{},
		url:     url,
		timeout: timeout,
	}
}

// Evaluate posts the selector as JSON and decodes the verdict.
func (o *HTTPOracle) Evaluate(ctx context.Context, sel domain.QualitySelector) (domain.QualityResult, error) {
	body, err := json.Marshal(sel)
	if err != nil {
		return domain.QualityResult{}, fmt.Errorf("marshaling selector: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return domain.QualityResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return domain.QualityResult{}, fmt.Errorf("oracle request %s: %w", sel.Suite, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.QualityResult{}, fmt.Errorf("reading oracle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.QualityResult{}, fmt.Errorf("oracle %s: status %d: %s", sel.Suite, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var result domain.QualityResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.QualityResult{}, fmt.Errorf("oracle %s: invalid response: %w", sel.Suite, err)
	}
	if !result.Success && len(result.Violations) == 0 {
		result.Violations = []string{sel.Suite + ": failed without violations"}
	}
	return result, nil
}

// Package wikipedia fetches page summaries and rendered HTML sizes from the
// Wikipedia REST API.
package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// Source is the value stored in raw.wikipedia_pages.source.
const Source = "mediawiki-rest-api"

// Client fetches one page per call; retries belong to the caller.
type Client struct {
	httpClient  *http.Client
	urlTemplate string
	userAgent   string
	logger      *slog.Logger
}

// NewClient creates a client for a base URL template containing "{lang}",
// e.g. https://{lang}.wikipedia.org/api/rest_v1.
func NewClient(urlTemplate string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{},
		urlTemplate: strings.TrimRight(urlTemplate, "/"),
		userAgent:   "warehouse-etl/1.0",
		logger:      logger,
	}
}

// Name returns the source label recorded with every raw row.
func (c *Client) Name() string { return Source }

// FetchPage returns the summary JSON and the byte length of the rendered HTML.
func (c *Client) FetchPage(ctx context.Context, page domain.PageSeed) (domain.PageFetch, error) {
	base := c.baseURL(page.Language)
	title := url.PathEscape(CanonicalTitle(page.Title))

	summary, err := c.get(ctx, base+"/page/summary/"+title, "application/json")
	if err != nil {
		return domain.PageFetch{}, fmt.Errorf("summary for %s: %w", page.Title, err)
	}
	if !json.Valid(summary) {
		return domain.PageFetch{}, fmt.Errorf("summary for %s is not valid JSON", page.Title)
	}

	html, err := c.get(ctx, base+"/page/html/"+title, "text/html")
	if err != nil {
		return domain.PageFetch{}, fmt.Errorf("html for %s: %w", page.Title, err)
	}

	c.logger.Debug("fetched wikipedia page", "title", page.Title, "language", page.Language, "html_bytes", len(html))
	return domain.PageFetch{Summary: summary, SizeBytes: int64(len(html))}, nil
}

// CanonicalTitle converts a display title to the underscore form used in
// REST paths.
func CanonicalTitle(title string) string {
	return strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
}

func (c *Client) baseURL(lang string) string {
	if lang == "" {
		lang = domain.DefaultLanguage
	}
	return strings.ReplaceAll(c.urlTemplate, "{lang}", lang)
}

func (c *Client) get(ctx context.Context, u, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wikipedia request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read wikipedia response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

func statusError(code int, body []byte) error {
	if len(body) > 256 {
		body = body[:256]
	}
	err := fmt.Errorf("wikipedia API error: status %d: %s", code, body)
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrSourceRejected, err)
	}
	return err
}

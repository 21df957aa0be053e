package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/time/rate"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/ports"
)

// Client talks to the external attribute-extraction service for records
// that arrived without a bundle. Requests are rate-limited so backfills do
// not hammer the inference endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

var _ ports.Extractor = (*Client)(nil)

// NewClient creates a reusable HTTP client; ratePerSec <= 0 disables the
// limiter.
func NewClient(endpoint, apiKey string, ratePerSec float64) *Client {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  limiter,
	}
}

type extractResponse struct {
	Sector     string   `json:"sector"`
	Scope      string   `json:"scope"`
	Location   string   `json:"location"`
	Actors     []string `json:"actors"`
	ActionDate string   `json:"action_date"`
	Confidence float64  `json:"confidence"`
}

// Extract sends title and body for attribute extraction.
func (c *Client) Extract(ctx context.Context, record domain.ArticleRecord) (domain.AttributeBundle, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.AttributeBundle{}, fmt.Errorf("rate wait: %w", err)
		}
	}

	payload := map[string]any{
		"title": record.Title,
		"body":  record.Body,
	}

	var resp extractResponse
	if err := c.post(ctx, "/extract", payload, &resp); err != nil {
		return domain.AttributeBundle{}, err
	}

	bundle := domain.AttributeBundle{
		Sector:       resp.Sector,
		SectorConf:   resp.Confidence,
		Scope:        domain.ParseScope(resp.Scope),
		ScopeConf:    resp.Confidence,
		Location:     resp.Location,
		LocationConf: resp.Confidence,
		Actors:       resp.Actors,
	}
	if len(resp.Actors) > 0 {
		bundle.ActorsConf = resp.Confidence
	}
	if resp.ActionDate != "" {
		if date, err := dateparse.ParseAny(resp.ActionDate); err == nil {
			day := date.UTC().Truncate(24 * time.Hour)
			bundle.ActionDate = &day
			bundle.DateConf = resp.Confidence
		}
	}
	return bundle, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

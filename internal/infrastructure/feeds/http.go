package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/feed"
)

// HTTPFeed pulls labeled batches from HTTP endpoints serving the same JSON
// format as the batch files.
type HTTPFeed struct {
	client *http.Client
	now    func() time.Time
}

// NewHTTPFeed wires an HTTP client; a nil client gets sane timeouts.
func NewHTTPFeed(client *http.Client, now func() time.Time) *HTTPFeed {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if now == nil {
		now = time.Now
	}
	return &HTTPFeed{client: client, now: now}
}

// Name identifies the strategy inside the registry.
func (h *HTTPFeed) Name() string {
	return "http"
}

// Pull fetches each endpoint, passing the requested day as a query param so
// servers can bound the batch.
func (h *HTTPFeed) Pull(ctx context.Context, req feed.Request) ([]domain.ArticleRecord, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints provided for feed %s", req.FeedName)
	}

	var records []domain.ArticleRecord
	for _, endpoint := range req.Endpoints {
		batch, err := h.fetch(ctx, endpoint, req.Day)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", endpoint.Name, err)
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (h *HTTPFeed) fetch(ctx context.Context, endpoint feed.Endpoint, day time.Time) ([]domain.ArticleRecord, error) {
	target, err := url.Parse(endpoint.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	query := target.Query()
	query.Set("day", day.UTC().Format("2006-01-02"))
	target.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := h.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return decodeBatch(resp.Body, h.now().UTC())
}

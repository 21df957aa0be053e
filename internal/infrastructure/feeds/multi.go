package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"UnrestWatch/internal/config"
	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/feed"
	"UnrestWatch/internal/ports"
)

// MultiSource implements RecordSource by fanning out over the config-defined
// feeds through the registry.
type MultiSource struct {
	registry *feed.Registry
	feeds    []config.FeedConfig
	logger   *slog.Logger
}

var _ ports.RecordSource = (*MultiSource)(nil)

// NewMultiSource wires the feed registry with config-defined feeds.
func NewMultiSource(registry *feed.Registry, cfgs []config.FeedConfig, logger *slog.Logger) *MultiSource {
	return &MultiSource{registry: registry, feeds: cfgs, logger: logger}
}

// FetchBatch iterates over configured feeds and executes their strategies.
func (s *MultiSource) FetchBatch(ctx context.Context, day time.Time) ([]domain.ArticleRecord, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("feed registry is not configured")
	}

	s.debug("fetch batch", "feeds", len(s.feeds), "day", day.Format("2006-01-02"))

	var aggregated []domain.ArticleRecord
	for _, cfg := range s.feeds {
		strategy, err := s.registry.Resolve(cfg.Kind)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", cfg.Name, err)
		}

		req := feed.Request{
			Day:       day,
			FeedName:  cfg.Name,
			Options:   cfg.Options,
			Endpoints: toEndpoints(cfg.Endpoints),
		}

		records, err := strategy.Pull(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("pull feed %s: %w", cfg.Name, err)
		}

		s.debug("feed produced records", "feed", cfg.Name, "count", len(records))
		aggregated = append(aggregated, records...)
	}

	s.debug("multi source done", "total_records", len(aggregated))
	return aggregated, nil
}

func toEndpoints(cfg []config.EndpointConfig) []feed.Endpoint {
	endpoints := make([]feed.Endpoint, 0, len(cfg))
	for _, endpoint := range cfg {
		endpoints = append(endpoints, feed.Endpoint{
			Name: endpoint.Name,
			URL:  endpoint.URL,
		})
	}
	return endpoints
}

func (s *MultiSource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

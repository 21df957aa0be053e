package feed

import (
	"context"
	"fmt"
	"time"

	"UnrestWatch/internal/domain"
)

// Endpoint describes a concrete batch location provided by config.
type Endpoint struct {
	Name string
	URL  string
}

// Request carries all parameters required to execute a pull.
type Request struct {
	Day       time.Time
	FeedName  string
	Endpoints []Endpoint
	Options   map[string]string
}

// Feed captures a single pull strategy (labeled file batches, HTTP, etc.).
type Feed interface {
	Name() string
	Pull(ctx context.Context, req Request) ([]domain.ArticleRecord, error)
}

// Registry keeps a mapping from feed kinds to their implementations.
type Registry struct {
	feeds map[string]Feed
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: map[string]Feed{}}
}

// Register adds or replaces a feed implementation.
func (r *Registry) Register(feed Feed) {
	if r.feeds == nil {
		r.feeds = map[string]Feed{}
	}
	r.feeds[feed.Name()] = feed
}

// Resolve returns a feed by kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Feed, error) {
	if feed, ok := r.feeds[kind]; ok {
		return feed, nil
	}
	return nil, fmt.Errorf("feed kind %s is not registered", kind)
}

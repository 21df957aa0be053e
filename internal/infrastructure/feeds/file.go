package feeds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"UnrestWatch/internal/domain"
	"UnrestWatch/internal/feed"
)

// FileFeed reads labeled batch files from configured directories. Each
// endpoint URL is a directory holding *.json batches.
type FileFeed struct {
	now func() time.Time
}

// NewFileFeed builds the strategy; the clock is injectable for tests.
func NewFileFeed(now func() time.Time) *FileFeed {
	if now == nil {
		now = time.Now
	}
	return &FileFeed{now: now}
}

// Name identifies the strategy inside the registry.
func (f *FileFeed) Name() string {
	return "file"
}

// Pull walks each endpoint directory in name order and decodes every batch.
func (f *FileFeed) Pull(ctx context.Context, req feed.Request) ([]domain.ArticleRecord, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints provided for feed %s", req.FeedName)
	}

	var records []domain.ArticleRecord
	for _, endpoint := range req.Endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := filepath.Glob(filepath.Join(endpoint.URL, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", endpoint.URL, err)
		}
		sort.Strings(matches)

		for _, path := range matches {
			batch, err := f.readBatch(path)
			if err != nil {
				return nil, fmt.Errorf("endpoint %s: %w", endpoint.Name, err)
			}
			records = append(records, batch...)
		}
	}
	return records, nil
}

func (f *FileFeed) readBatch(path string) ([]domain.ArticleRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	records, err := decodeBatch(file, f.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

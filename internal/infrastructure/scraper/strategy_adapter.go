package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
	"NewsIngestor/internal/scanner"
)

// StrategyAdapter implements ports.SourceAdapter via registered scanner
// strategies, so a source page can be polled through the scrape provider or
// a direct HTML scan depending on its configuration.
type StrategyAdapter struct {
	registry *scanner.Registry
	logger   *slog.Logger
}

var _ ports.SourceAdapter = (*StrategyAdapter)(nil)

// NewStrategyAdapter wires the scanner registry.
func NewStrategyAdapter(reg *scanner.Registry, log *slog.Logger) *StrategyAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &StrategyAdapter{registry: reg, logger: log}
}

// FetchPosts resolves the source's strategy and executes it.
func (s *StrategyAdapter) FetchPosts(ctx context.Context, req ports.SourceRequest) ([]domain.ScrapedPost, error) {
	strategy, err := s.registry.Resolve(req.Scanner)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.Name, err)
	}

	posts, err := strategy.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scan source %s: %w", req.Name, err)
	}

	s.logger.Debug("source produced posts", "source", req.Name, "count", len(posts))
	return posts, nil
}

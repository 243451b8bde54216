package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

// Thresholds carries the tuned detector cutoffs. The values are empirical;
// see config for the production defaults.
type Thresholds struct {
	HashDistance         int
	EntityOverlap        int
	Semantic             float64
	SemanticWithEntities float64
}

// Match is a positive detector outcome: the post duplicates (or fails the
// quality bar against) something already known.
type Match struct {
	Reason    domain.SkipReason
	ArticleID string
	Detail    string
}

// Signals are the expensive artifacts computed while running the chain. They
// are handed back so article creation does not repeat the work.
type Signals struct {
	Hash      *uint64
	Entities  *domain.EntitySet
	Embedding []float32
}

// Chain runs the ordered duplicate/quality checks, cheapest first. Each
// positive check short-circuits; detector failures degrade to a warning and
// the chain continues without that signal.
type Chain struct {
	store      ports.ContentStore
	enricher   ports.Enricher
	hasher     ports.ImageHasher
	thresholds Thresholds
	logger     *slog.Logger
}

// NewChain wires the detector dependencies.
func NewChain(store ports.ContentStore, enricher ports.Enricher, hasher ports.ImageHasher, thresholds Thresholds, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		store:      store,
		enricher:   enricher,
		hasher:     hasher,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Evaluate decides whether the post is worth ingesting. A nil Match means
// the post passed every check. Only store errors are returned; collaborator
// failures are logged and skipped over.
func (c *Chain) Evaluate(ctx context.Context, post domain.ScrapedPost, ws *WorkingSet) (*Match, Signals, error) {
	var sig Signals

	// 1. Quality pre-filter: posts without images and colored-background
	// text posts are never real news.
	if len(post.ImageURLs) == 0 {
		return &Match{Reason: domain.SkipNoImages}, sig, nil
	}
	if post.IsTextPost {
		return &Match{Reason: domain.SkipTextPost}, sig, nil
	}

	// 2. Canonical-id lookup.
	if post.CanonicalID != "" {
		existing, err := c.lookup(ctx, func() (*domain.Article, error) {
			return c.store.FindByCanonicalID(ctx, post.CanonicalID)
		})
		if err != nil {
			return nil, sig, err
		}
		if existing != nil {
			return &Match{Reason: domain.SkipCanonicalIDSeen, ArticleID: existing.ID}, sig, nil
		}
	}

	// 3. Exact source-URL lookup.
	existing, err := c.lookup(ctx, func() (*domain.Article, error) {
		return c.store.FindBySourceURL(ctx, post.Permalink)
	})
	if err != nil {
		return nil, sig, err
	}
	if existing != nil {
		return &Match{Reason: domain.SkipSourceURLSeen, ArticleID: existing.ID}, sig, nil
	}

	// 4. Exact image-URL lookup, catching re-shares of the same asset.
	for _, imageURL := range post.ImageURLs {
		existing, err := c.lookup(ctx, func() (*domain.Article, error) {
			return c.store.FindByImageURL(ctx, imageURL)
		})
		if err != nil {
			return nil, sig, err
		}
		if existing != nil {
			return &Match{Reason: domain.SkipImageURLSeen, ArticleID: existing.ID}, sig, nil
		}
	}

	// 5. Perceptual hash of the primary image vs the recent window.
	if match := c.checkImageHash(ctx, post, ws, &sig); match != nil {
		return match, sig, nil
	}

	// 6. Vision quality filter: a post whose every image is a text card or
	// graphic is not news.
	if match := c.checkPhotographs(ctx, post); match != nil {
		return match, sig, nil
	}

	// 7. Entity overlap on the untranslated title.
	coreSupport, match := c.checkEntities(ctx, post, ws, &sig)
	if match != nil {
		return match, sig, nil
	}

	// 8. Semantic embedding similarity, with the bar lowered when entities
	// already agree on location or event type.
	if match := c.checkEmbedding(ctx, post, ws, coreSupport, &sig); match != nil {
		return match, sig, nil
	}

	return nil, sig, nil
}

func (c *Chain) lookup(ctx context.Context, find func() (*domain.Article, error)) (*domain.Article, error) {
	article, err := find()
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store lookup: %w", err)
	}
	return article, nil
}

func (c *Chain) checkImageHash(ctx context.Context, post domain.ScrapedPost, ws *WorkingSet, sig *Signals) *Match {
	hash, err := c.hasher.Hash(ctx, post.PrimaryImageURL())
	if err != nil {
		c.logger.Warn("image hash failed, continuing without signal",
			"url", post.PrimaryImageURL(), "error", err)
		return nil
	}
	sig.Hash = &hash

	for _, entry := range ws.Recent() {
		if entry.Hash == nil {
			continue
		}
		if dist := HammingDistance(hash, *entry.Hash); dist <= c.thresholds.HashDistance {
			return &Match{
				Reason:    domain.SkipSimilarImage,
				ArticleID: entry.ArticleID,
				Detail:    fmt.Sprintf("hamming distance %d", dist),
			}
		}
	}
	return nil
}

func (c *Chain) checkPhotographs(ctx context.Context, post domain.ScrapedPost) *Match {
	checked := 0
	for _, imageURL := range post.ImageURLs {
		isPhoto, err := c.enricher.IsPhotograph(ctx, imageURL)
		if err != nil {
			c.logger.Warn("vision check failed, continuing without signal",
				"url", imageURL, "error", err)
			continue
		}
		checked++
		if isPhoto {
			return nil
		}
	}
	if checked == 0 {
		// Every check errored; no signal, let the post through.
		return nil
	}
	return &Match{Reason: domain.SkipGraphicOnly}
}

func (c *Chain) checkEntities(ctx context.Context, post domain.ScrapedPost, ws *WorkingSet, sig *Signals) (map[string]bool, *Match) {
	entities, err := c.enricher.ExtractEntities(ctx, post.Title)
	if err != nil {
		c.logger.Warn("entity extraction failed, continuing without signal",
			"title", post.Title, "error", err)
		return nil, nil
	}
	sig.Entities = entities

	coreSupport := map[string]bool{}
	for _, entry := range ws.Recent() {
		overlap := CompareEntities(entities, entry.Entities)
		if overlap.CoreMatch {
			coreSupport[entry.ArticleID] = true
		}
		if overlap.Score >= c.thresholds.EntityOverlap {
			return coreSupport, &Match{
				Reason:    domain.SkipEntityOverlap,
				ArticleID: entry.ArticleID,
				Detail:    fmt.Sprintf("overlap score %d", overlap.Score),
			}
		}
	}
	return coreSupport, nil
}

func (c *Chain) checkEmbedding(ctx context.Context, post domain.ScrapedPost, ws *WorkingSet, coreSupport map[string]bool, sig *Signals) *Match {
	embedding, err := c.enricher.Embed(ctx, post.Title)
	if err != nil {
		c.logger.Warn("embedding failed, continuing without signal",
			"title", post.Title, "error", err)
		return nil
	}
	sig.Embedding = embedding

	for _, entry := range ws.Recent() {
		if len(entry.Embedding) == 0 {
			continue
		}
		similarity := CosineSimilarity(embedding, entry.Embedding)

		// Entity agreement raises prior confidence, so a lower bar for
		// semantic confirmation is acceptable; isolated similarity needs
		// the stricter one.
		threshold := c.thresholds.Semantic
		if coreSupport[entry.ArticleID] {
			threshold = c.thresholds.SemanticWithEntities
		}
		if similarity >= threshold {
			return &Match{
				Reason:    domain.SkipSemanticMatch,
				ArticleID: entry.ArticleID,
				Detail:    fmt.Sprintf("cosine %.3f >= %.2f", similarity, threshold),
			}
		}
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"NewsIngestor/internal/dedup"
	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

// ArticlePublisher is the claim-coordinated external publication step.
type ArticlePublisher interface {
	PublishArticle(ctx context.Context, article *domain.Article) (externalID string, err error)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source       ports.SourceAdapter
	Store        ports.ContentStore
	Enricher     ports.Enricher
	Detectors    *dedup.Chain
	Scorer       *Scorer
	Publisher    ArticlePublisher
	Sources      []ports.SourceRequest
	RecentWindow int
	Logger       *slog.Logger
}

// Pipeline implements one ingestion pass: for each source, for each scraped
// post, run the detector chain, enrich, score, create, and publish the
// high-interest survivors. Posts are processed sequentially because each
// post's checks depend on the duplicate state accumulated by earlier posts
// in the same pass.
type Pipeline struct {
	source       ports.SourceAdapter
	store        ports.ContentStore
	enricher     ports.Enricher
	detectors    *dedup.Chain
	scorer       *Scorer
	publisher    ArticlePublisher
	sources      []ports.SourceRequest
	recentWindow int
	logger       *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:       deps.Source,
		store:        deps.Store,
		enricher:     deps.Enricher,
		detectors:    deps.Detectors,
		scorer:       deps.Scorer,
		publisher:    deps.Publisher,
		sources:      deps.Sources,
		recentWindow: deps.RecentWindow,
		logger:       logger,
	}
}

// Run executes one sequential pipeline pass. Per-post and per-source
// failures are logged and skipped; only store unavailability aborts the run
// and propagates to the trigger caller.
func (p *Pipeline) Run(ctx context.Context) (*domain.RunStats, error) {
	stats := domain.NewRunStats()

	recent, err := p.store.ListRecent(ctx, p.recentWindow)
	if err != nil {
		return nil, fmt.Errorf("load recent articles: %w", err)
	}

	workingSet := dedup.NewWorkingSet(p.recentWindow, recent)

	knownURLs := make(map[string]bool, len(recent))
	for _, article := range recent {
		knownURLs[article.SourceURL] = true
	}
	isKnown := func(permalink string) bool {
		if knownURLs[permalink] {
			return true
		}
		_, err := p.store.FindBySourceURL(ctx, permalink)
		return err == nil
	}

	for _, src := range p.sources {
		req := src
		req.IsKnownDuplicate = isKnown

		posts, err := p.source.FetchPosts(ctx, req)
		if err != nil {
			p.logger.Error("source fetch failed, continuing with next source",
				"source", src.Name, "error", err)
			continue
		}
		stats.Fetched += len(posts)
		p.logger.Debug("source fetched", "source", src.Name, "posts", len(posts))

		for _, post := range posts {
			if err := p.processPost(ctx, post, workingSet, knownURLs, stats); err != nil {
				return stats, fmt.Errorf("source %s: %w", src.Name, err)
			}
		}
	}

	p.logger.Info("pipeline pass complete",
		"fetched", stats.Fetched,
		"created", stats.Created,
		"published", stats.Published,
		"skipped", stats.TotalSkipped(),
		"skip_reasons", stats.Skipped)
	return stats, nil
}

func (p *Pipeline) processPost(ctx context.Context, post domain.ScrapedPost, workingSet *dedup.WorkingSet, knownURLs map[string]bool, stats *domain.RunStats) error {
	match, signals, err := p.detectors.Evaluate(ctx, post, workingSet)
	if err != nil {
		return err
	}
	if match != nil {
		stats.Skip(match.Reason)
		p.logger.Debug("post rejected",
			"permalink", post.Permalink,
			"reason", match.Reason,
			"matched_article", match.ArticleID,
			"detail", match.Detail)
		return nil
	}

	enrichment, err := p.enricher.ClassifyAndTranslate(ctx, post.Title, post.Text, signals.Embedding)
	if err != nil {
		// Per-post collaborator failure: the post is dropped, the pass goes on.
		p.logger.Warn("enrichment failed, dropping post", "permalink", post.Permalink, "error", err)
		return nil
	}
	if !enrichment.IsNews {
		stats.Skip(domain.SkipNotNews)
		return nil
	}

	score := p.scorer.Score(enrichment.BaseScore, enrichment.Title, enrichment.Category)

	article := &domain.Article{
		ID:              uuid.NewString(),
		Title:           enrichment.Title,
		Body:            enrichment.Body,
		Excerpt:         enrichment.Excerpt,
		Category:        enrichment.Category,
		SourceURL:       post.Permalink,
		CanonicalID:     post.CanonicalID,
		PrimaryImageURL: post.PrimaryImageURL(),
		ImageURLs:       post.ImageURLs,
		ImageHash:       signals.Hash,
		Embedding:       pickEmbedding(signals.Embedding, enrichment.Embedding),
		Entities:        pickEntities(signals.Entities, enrichment.Entities),
		InterestScore:   score,
		Published:       score >= AutoPublishScore,
	}

	if err := p.store.CreateArticle(ctx, article); err != nil {
		if errors.Is(err, ports.ErrDuplicateKey) {
			// A concurrent pass won the insert race; the uniqueness
			// constraint is the duplicate signal here.
			stats.Skip(domain.SkipCreateConflict)
			p.logger.Info("create conflict treated as duplicate", "permalink", post.Permalink)
			return nil
		}
		return fmt.Errorf("create article: %w", err)
	}

	workingSet.Append(article)
	knownURLs[article.SourceURL] = true
	stats.Created++

	if !article.Published {
		p.logger.Info("article stored as draft",
			"article", article.ID, "score", score, "title", article.Title)
		return nil
	}

	externalID, err := p.publisher.PublishArticle(ctx, article)
	if err != nil {
		p.logger.Error("publication failed", "article", article.ID, "error", err)
		return nil
	}
	if externalID != "" {
		stats.Published++
	}
	return nil
}

func pickEmbedding(fromChain, fromEnrichment []float32) []float32 {
	if len(fromChain) > 0 {
		return fromChain
	}
	return fromEnrichment
}

func pickEntities(fromChain, fromEnrichment *domain.EntitySet) *domain.EntitySet {
	if !fromChain.IsEmpty() {
		return fromChain
	}
	return fromEnrichment
}

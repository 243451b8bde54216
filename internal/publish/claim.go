// Package publish coordinates the at-most-once external publication of an
// article: atomic claim, external post, atomic finalize. The store carries
// the three-state machine; this package only sequences the transitions.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

// ErrFinalizeMismatch reports that the external post was created but the
// claim token no longer held the lock at finalize time. The external post is
// orphaned; operators must reconcile by hand.
var ErrFinalizeMismatch = errors.New("finalize token mismatch, external post orphaned")

// Limiter paces external posts.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Coordinator drives the claim → post → finalize sequence.
type Coordinator struct {
	store       ports.ContentStore
	distributor ports.Distributor
	limiter     Limiter
	staleAfter  time.Duration
	logger      *slog.Logger
	newToken    func() string
}

// NewCoordinator wires the claim dependencies.
func NewCoordinator(store ports.ContentStore, distributor ports.Distributor, limiter Limiter, staleAfter time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:       store,
		distributor: distributor,
		limiter:     limiter,
		staleAfter:  staleAfter,
		logger:      logger,
		newToken:    uuid.NewString,
	}
}

// PublishArticle publishes the article to the external channel at most once.
// Returns the external post id on success, an empty id when publication was
// skipped (already posted, or another caller is mid-publish), and an error
// only when something actually went wrong.
func (c *Coordinator) PublishArticle(ctx context.Context, article *domain.Article) (string, error) {
	token := c.newToken()

	claimed, err := c.store.ClaimForPublication(ctx, article.ID, token, c.staleAfter)
	if errors.Is(err, ports.ErrAlreadyPosted) {
		c.logger.Debug("article already posted", "article", article.ID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		// Expected contention: another caller holds a live claim.
		c.logger.Info("publication claim contended, skipping", "article", article.ID)
		return "", nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.release(ctx, article.ID, token)
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	externalID, err := c.distributor.Publish(ctx, article.PrimaryImageURL, article.ImageURLs, buildMessage(article))
	if err != nil {
		// No external post was created; reopen for a later attempt.
		c.release(ctx, article.ID, token)
		return "", fmt.Errorf("distribute: %w", err)
	}

	finalized, err := c.store.FinalizePublication(ctx, article.ID, token, externalID)
	if err != nil {
		c.logger.Error("finalize failed after external post, possible orphan",
			"article", article.ID, "external_id", externalID, "error", err)
		return "", fmt.Errorf("finalize: %w", err)
	}
	if !finalized {
		// The claim was lost or stolen between claim and finalize. Do not
		// delete the external post and do not retry: surface it.
		c.logger.Warn("finalize token mismatch, leaving external post orphaned",
			"article", article.ID, "external_id", externalID)
		return "", fmt.Errorf("article %s: %w", article.ID, ErrFinalizeMismatch)
	}

	c.logger.Info("article published", "article", article.ID, "external_id", externalID)
	return externalID, nil
}

func (c *Coordinator) release(ctx context.Context, articleID, token string) {
	if err := c.store.ReleasePublicationLock(context.WithoutCancel(ctx), articleID, token); err != nil {
		c.logger.Warn("release publication lock failed", "article", articleID, "error", err)
	}
}

func buildMessage(article *domain.Article) string {
	message := article.Title
	if article.Excerpt != "" {
		message += "\n\n" + article.Excerpt
	}
	if article.SourceURL != "" {
		message += "\n\n" + article.SourceURL
	}
	return message
}

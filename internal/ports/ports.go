package ports

import (
	"context"
	"errors"
	"time"

	"NewsIngestor/internal/domain"
)

// ErrNotFound is returned by store lookups when no article matches.
var ErrNotFound = errors.New("article not found")

// ErrDuplicateKey is returned by CreateArticle when the store's uniqueness
// constraint on source URL or canonical id rejects the insert. Callers treat
// it as a duplicate signal discovered too late, never as a fatal error.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrAlreadyPosted distinguishes "the article is done" from "someone else is
// mid-publish" when a publication claim fails.
var ErrAlreadyPosted = errors.New("already posted")

// SourceRequest carries everything a source adapter needs for one page poll.
type SourceRequest struct {
	Name     string
	URL      string
	Scanner  string
	MaxPages int
	Options  map[string]string

	// IsKnownDuplicate lets the adapter stop paginating early once several
	// consecutive posts are already known.
	IsKnownDuplicate func(permalink string) bool
}

// SourceAdapter pulls raw posts from one source page.
type SourceAdapter interface {
	FetchPosts(ctx context.Context, req SourceRequest) ([]domain.ScrapedPost, error)
}

// Enrichment is the combined result of the language-model enrichment call.
type Enrichment struct {
	Title     string
	Body      string
	Excerpt   string
	Category  string
	IsNews    bool
	BaseScore int // 1..5
	Entities  *domain.EntitySet
	Embedding []float32
}

// Enricher is the black-box language-model collaborator.
type Enricher interface {
	// ClassifyAndTranslate enriches an untranslated post; a precomputed
	// title embedding may be passed to avoid a second embedding call.
	ClassifyAndTranslate(ctx context.Context, title, body string, embedding []float32) (Enrichment, error)

	// IsPhotograph reports whether the image is a real photo rather than a
	// text card or graphic.
	IsPhotograph(ctx context.Context, imageURL string) (bool, error)

	// ExtractEntities pulls locations, event types, organizations and people
	// from an untranslated title.
	ExtractEntities(ctx context.Context, title string) (*domain.EntitySet, error)

	// Embed returns an embedding vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImageHasher fetches an image and computes its perceptual hash.
type ImageHasher interface {
	Hash(ctx context.Context, imageURL string) (uint64, error)
}

// ContentStore is the persistence contract the pipeline depends on. All
// mutating operations that affect duplicate detection or publication are
// single atomic conditional statements in the implementation.
type ContentStore interface {
	FindByCanonicalID(ctx context.Context, canonicalID string) (*domain.Article, error)
	FindBySourceURL(ctx context.Context, sourceURL string) (*domain.Article, error)
	FindByImageURL(ctx context.Context, imageURL string) (*domain.Article, error)

	// ListRecent returns the newest articles with their duplicate signals
	// (hash, embedding, entities) loaded, newest first.
	ListRecent(ctx context.Context, limit int) ([]domain.Article, error)

	// CreateArticle inserts a new article; returns ErrDuplicateKey when the
	// source URL or canonical id already exists.
	CreateArticle(ctx context.Context, article *domain.Article) error

	// ClaimForPublication atomically claims the article's distribution lock
	// with the given token. Succeeds only when the lock is empty or holds a
	// pending claim older than staleAfter. Returns ErrAlreadyPosted when the
	// article already carries an external post id.
	ClaimForPublication(ctx context.Context, articleID, token string, staleAfter time.Duration) (bool, error)

	// FinalizePublication swaps the caller's pending token for the external
	// post id. Returns false when the token no longer holds the claim.
	FinalizePublication(ctx context.Context, articleID, token, externalID string) (bool, error)

	// ReleasePublicationLock clears the claim if the token still holds it,
	// reopening the article for a later attempt.
	ReleasePublicationLock(ctx context.Context, articleID, token string) error
}

// Distributor publishes an article to the external channel. The call is
// non-idempotent and may partially fail; idempotency is the publication
// claim's job, not the distributor's.
type Distributor interface {
	Publish(ctx context.Context, primaryImage string, images []string, message string) (externalID string, err error)
}

// Scheduler triggers recurring pipeline passes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

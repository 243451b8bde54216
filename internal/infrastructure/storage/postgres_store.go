package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

// pendingPrefix marks a distribution lock that is claimed but not yet
// finalized with an external post id.
const pendingPrefix = "pending:"

// uniqueViolation is the Postgres error code for unique-constraint failures.
const uniqueViolation = "23505"

var articleColumns = []string{
	"id", "title", "body", "excerpt", "category",
	"source_url", "canonical_id", "primary_image_url", "image_urls",
	"image_hash", "embedding", "entities", "interest_score", "published",
	"distribution_lock", "distribution_locked_at", "created_at",
}

// PostgresStore implements ports.ContentStore on a sql.DB handle. Every
// mutating operation that guards correctness is a single conditional
// statement; there is no application-level read-then-write anywhere here.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ContentStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to Postgres and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// FindByCanonicalID looks up an article by its canonical source post id.
func (s *PostgresStore) FindByCanonicalID(ctx context.Context, canonicalID string) (*domain.Article, error) {
	return s.findOne(ctx, sq.Eq{"canonical_id": canonicalID})
}

// FindBySourceURL looks up an article by its unique permalink.
func (s *PostgresStore) FindBySourceURL(ctx context.Context, sourceURL string) (*domain.Article, error) {
	return s.findOne(ctx, sq.Eq{"source_url": sourceURL})
}

// FindByImageURL matches the exact URL against the primary image and the
// image set.
func (s *PostgresStore) FindByImageURL(ctx context.Context, imageURL string) (*domain.Article, error) {
	return s.findOne(ctx, sq.Or{
		sq.Eq{"primary_image_url": imageURL},
		sq.Expr("? = ANY(image_urls)", imageURL),
	})
}

func (s *PostgresStore) findOne(ctx context.Context, pred any) (*domain.Article, error) {
	query, args, err := s.sb.Select(articleColumns...).
		From("articles").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	article, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query article: %w", err)
	}
	return article, nil
}

// ListRecent returns the newest articles with their duplicate signals,
// newest first.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]domain.Article, error) {
	query, args, err := s.sb.Select(articleColumns...).
		From("articles").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var articles []domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, *article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return articles, nil
}

// CreateArticle inserts a new article. A unique-constraint violation on
// source URL or canonical id comes back as ports.ErrDuplicateKey so the
// pipeline can treat a lost race as a late duplicate signal.
func (s *PostgresStore) CreateArticle(ctx context.Context, article *domain.Article) error {
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}

	entitiesJSON, err := marshalEntities(article.Entities)
	if err != nil {
		return err
	}

	query, args, err := s.sb.Insert("articles").
		Columns("id", "title", "body", "excerpt", "category",
			"source_url", "canonical_id", "primary_image_url", "image_urls",
			"image_hash", "embedding", "entities", "interest_score", "published",
			"created_at").
		Values(article.ID, article.Title, article.Body, article.Excerpt, article.Category,
			article.SourceURL, nullString(article.CanonicalID), article.PrimaryImageURL,
			pq.StringArray(article.ImageURLs),
			nullHash(article.ImageHash), embeddingValue(article.Embedding), entitiesJSON,
			article.InterestScore, article.Published, article.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("insert article %s: %w", article.SourceURL, ports.ErrDuplicateKey)
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

// ClaimForPublication atomically writes a pending token into the
// distribution lock. The conditional WHERE makes concurrent claimers race on
// a single UPDATE; exactly one of them sees rowsAffected == 1.
func (s *PostgresStore) ClaimForPublication(ctx context.Context, articleID, token string, staleAfter time.Duration) (bool, error) {
	pending := pendingPrefix + token

	res, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET distribution_lock = $2, distribution_locked_at = NOW()
		WHERE id = $1
		  AND (distribution_lock IS NULL
		       OR (distribution_lock LIKE 'pending:%'
		           AND distribution_locked_at < NOW() - $3 * INTERVAL '1 second'))`,
		articleID, pending, staleAfter.Seconds())
	if err != nil {
		return false, fmt.Errorf("claim article %s: %w", articleID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim article %s: %w", articleID, err)
	}
	if affected == 1 {
		return true, nil
	}

	// Lost the claim; report "already posted" separately from "someone else
	// is mid-publish" so callers can tell a no-op from a retry-later.
	var lock sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT distribution_lock FROM articles WHERE id = $1`, articleID).Scan(&lock)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ports.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("inspect claim %s: %w", articleID, err)
	}
	if lock.Valid && lock.String != "" && !strings.HasPrefix(lock.String, pendingPrefix) {
		return false, ports.ErrAlreadyPosted
	}
	return false, nil
}

// FinalizePublication swaps the caller's pending token for the external post
// id. False means the token no longer holds the claim and the external post
// is orphaned; that is the caller's integrity warning, not ours.
func (s *PostgresStore) FinalizePublication(ctx context.Context, articleID, token, externalID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET distribution_lock = $3, distribution_locked_at = NULL
		WHERE id = $1 AND distribution_lock = $2`,
		articleID, pendingPrefix+token, externalID)
	if err != nil {
		return false, fmt.Errorf("finalize article %s: %w", articleID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize article %s: %w", articleID, err)
	}
	return affected == 1, nil
}

// ReleasePublicationLock reopens the article for a later attempt if the
// token still holds the claim.
func (s *PostgresStore) ReleasePublicationLock(ctx context.Context, articleID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE articles
		SET distribution_lock = NULL, distribution_locked_at = NULL
		WHERE id = $1 AND distribution_lock = $2`,
		articleID, pendingPrefix+token)
	if err != nil {
		return fmt.Errorf("release article %s: %w", articleID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*domain.Article, error) {
	var (
		article      domain.Article
		canonicalID  sql.NullString
		imageURLs    pq.StringArray
		imageHash    sql.NullInt64
		embedding    pq.Float32Array
		entitiesJSON []byte
		lock         sql.NullString
		lockedAt     sql.NullTime
	)

	err := row.Scan(
		&article.ID, &article.Title, &article.Body, &article.Excerpt, &article.Category,
		&article.SourceURL, &canonicalID, &article.PrimaryImageURL, &imageURLs,
		&imageHash, &embedding, &entitiesJSON, &article.InterestScore, &article.Published,
		&lock, &lockedAt, &article.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	article.CanonicalID = canonicalID.String
	article.ImageURLs = imageURLs
	if imageHash.Valid {
		hash := uint64(imageHash.Int64)
		article.ImageHash = &hash
	}
	article.Embedding = embedding
	if len(entitiesJSON) > 0 {
		var entities domain.EntitySet
		if err := json.Unmarshal(entitiesJSON, &entities); err != nil {
			return nil, fmt.Errorf("decode entities: %w", err)
		}
		article.Entities = &entities
	}
	article.DistributionLock = lock.String
	if lockedAt.Valid {
		t := lockedAt.Time
		article.DistributionLockedAt = &t
	}
	return &article, nil
}

func marshalEntities(entities *domain.EntitySet) (any, error) {
	if entities.IsEmpty() {
		return nil, nil
	}
	raw, err := json.Marshal(entities)
	if err != nil {
		return nil, fmt.Errorf("encode entities: %w", err)
	}
	return raw, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullHash(hash *uint64) any {
	if hash == nil {
		return nil
	}
	return int64(*hash)
}

func embeddingValue(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pq.Float32Array(embedding)
}

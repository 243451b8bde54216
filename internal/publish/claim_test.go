package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

const pendingPrefix = "pending:"

// memStore implements the content store's claim semantics in memory with the
// same atomicity guarantees the conditional UPDATEs give: each operation is
// one critical section.
type memStore struct {
	mu       sync.Mutex
	articles map[string]*domain.Article
	now      func() time.Time
}

func newMemStore(articles ...*domain.Article) *memStore {
	s := &memStore{articles: map[string]*domain.Article{}, now: time.Now}
	for _, a := range articles {
		s.articles[a.ID] = a
	}
	return s
}

func (s *memStore) FindByCanonicalID(ctx context.Context, id string) (*domain.Article, error) {
	return nil, ports.ErrNotFound
}

func (s *memStore) FindBySourceURL(ctx context.Context, url string) (*domain.Article, error) {
	return nil, ports.ErrNotFound
}

func (s *memStore) FindByImageURL(ctx context.Context, url string) (*domain.Article, error) {
	return nil, ports.ErrNotFound
}

func (s *memStore) ListRecent(ctx context.Context, limit int) ([]domain.Article, error) {
	return nil, nil
}

func (s *memStore) CreateArticle(ctx context.Context, a *domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = a
	return nil
}

func (s *memStore) ClaimForPublication(ctx context.Context, id, token string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[id]
	if !ok {
		return false, ports.ErrNotFound
	}

	switch {
	case a.DistributionLock == "":
		// Unclaimed.
	case strings.HasPrefix(a.DistributionLock, pendingPrefix):
		if a.DistributionLockedAt == nil || s.now().Sub(*a.DistributionLockedAt) < staleAfter {
			return false, nil
		}
		// Stale pending claim: take over.
	default:
		return false, ports.ErrAlreadyPosted
	}

	a.DistributionLock = pendingPrefix + token
	lockedAt := s.now()
	a.DistributionLockedAt = &lockedAt
	return true, nil
}

func (s *memStore) FinalizePublication(ctx context.Context, id, token, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[id]
	if !ok || a.DistributionLock != pendingPrefix+token {
		return false, nil
	}
	a.DistributionLock = externalID
	a.DistributionLockedAt = nil
	return true, nil
}

func (s *memStore) ReleasePublicationLock(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.articles[id]; ok && a.DistributionLock == pendingPrefix+token {
		a.DistributionLock = ""
		a.DistributionLockedAt = nil
	}
	return nil
}

func (s *memStore) lockValue(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.articles[id].DistributionLock
}

type countingDistributor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (d *countingDistributor) Publish(ctx context.Context, primary string, images []string, message string) (string, error) {
	d.mu.Lock()
	d.calls++
	calls := d.calls
	d.mu.Unlock()
	if d.fail {
		return "", errors.New("channel unavailable")
	}
	return fmt.Sprintf("ext-%d", calls), nil
}

func (d *countingDistributor) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testArticle() *domain.Article {
	return &domain.Article{
		ID:              "article-1",
		Title:           "Ferry aground off Coral Island",
		SourceURL:       "https://facebook.com/p/1",
		PrimaryImageURL: "https://cdn.example.com/a.jpg",
		ImageURLs:       []string{"https://cdn.example.com/a.jpg"},
	}
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	store := newMemStore(testArticle())

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := store.ClaimForPublication(context.Background(),
				"article-1", fmt.Sprintf("token-%d", n), 30*time.Minute)
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", winners)
	}
}

func TestFinalizeIntegrity(t *testing.T) {
	t.Parallel()

	store := newMemStore(testArticle())

	ok, err := store.ClaimForPublication(context.Background(), "article-1", "token-a", 30*time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}

	// A foreign token must fail without mutating state.
	ok, err = store.FinalizePublication(context.Background(), "article-1", "token-b", "ext-1")
	if err != nil {
		t.Fatalf("finalize error: %v", err)
	}
	if ok {
		t.Fatal("foreign token must not finalize")
	}
	if got := store.lockValue("article-1"); got != pendingPrefix+"token-a" {
		t.Fatalf("failed finalize mutated state: %q", got)
	}

	ok, err = store.FinalizePublication(context.Background(), "article-1", "token-a", "ext-1")
	if err != nil || !ok {
		t.Fatalf("holder finalize failed: ok=%v err=%v", ok, err)
	}
	if got := store.lockValue("article-1"); got != "ext-1" {
		t.Fatalf("expected posted state ext-1, got %q", got)
	}
}

func TestReleaseReopensClaim(t *testing.T) {
	t.Parallel()

	store := newMemStore(testArticle())

	if ok, _ := store.ClaimForPublication(context.Background(), "article-1", "token-a", 30*time.Minute); !ok {
		t.Fatal("initial claim failed")
	}
	if err := store.ReleasePublicationLock(context.Background(), "article-1", "token-a"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err := store.ClaimForPublication(context.Background(), "article-1", "token-b", 30*time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim after release failed: ok=%v err=%v", ok, err)
	}
}

func TestStaleClaimTakeover(t *testing.T) {
	t.Parallel()

	store := newMemStore(testArticle())

	base := time.Now()
	store.now = func() time.Time { return base }
	if ok, _ := store.ClaimForPublication(context.Background(), "article-1", "token-a", 30*time.Minute); !ok {
		t.Fatal("initial claim failed")
	}

	// A live claim blocks takeover.
	store.now = func() time.Time { return base.Add(10 * time.Minute) }
	if ok, _ := store.ClaimForPublication(context.Background(), "article-1", "token-b", 30*time.Minute); ok {
		t.Fatal("live claim must not be taken over")
	}

	// Past the staleness window a new caller may claim without a release.
	store.now = func() time.Time { return base.Add(31 * time.Minute) }
	ok, err := store.ClaimForPublication(context.Background(), "article-1", "token-b", 30*time.Minute)
	if err != nil || !ok {
		t.Fatalf("stale claim takeover failed: ok=%v err=%v", ok, err)
	}
}

func TestCoordinatorPublishesAtMostOnce(t *testing.T) {
	t.Parallel()

	article := testArticle()
	store := newMemStore(article)
	distributor := &countingDistributor{}
	coordinator := NewCoordinator(store, distributor, nil, 30*time.Minute, nil)

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := coordinator.PublishArticle(context.Background(), article); err != nil {
				t.Errorf("publish: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := distributor.count(); got != 1 {
		t.Fatalf("expected exactly one external post, got %d", got)
	}
	if got := store.lockValue("article-1"); got != "ext-1" {
		t.Fatalf("expected finalized external id, got %q", got)
	}

	// A later retry observes "already posted" and does nothing.
	externalID, err := coordinator.PublishArticle(context.Background(), article)
	if err != nil {
		t.Fatalf("retry after post: %v", err)
	}
	if externalID != "" {
		t.Fatalf("retry must be a no-op, got id %q", externalID)
	}
	if got := distributor.count(); got != 1 {
		t.Fatalf("retry created a second external post: %d", got)
	}
}

func TestCoordinatorReleasesOnDistributeFailure(t *testing.T) {
	t.Parallel()

	article := testArticle()
	store := newMemStore(article)
	distributor := &countingDistributor{fail: true}
	coordinator := NewCoordinator(store, distributor, nil, 30*time.Minute, nil)

	if _, err := coordinator.PublishArticle(context.Background(), article); err == nil {
		t.Fatal("expected error from failing distributor")
	}
	if got := store.lockValue("article-1"); got != "" {
		t.Fatalf("claim must be released after distribute failure, got %q", got)
	}

	// The failure is transient: the next attempt goes through.
	distributor.fail = false
	externalID, err := coordinator.PublishArticle(context.Background(), article)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if externalID == "" {
		t.Fatal("second attempt should publish")
	}
}

type mismatchStore struct {
	*memStore
}

func (s *mismatchStore) FinalizePublication(ctx context.Context, id, token, externalID string) (bool, error) {
	return false, nil
}

func TestCoordinatorSurfacesFinalizeMismatch(t *testing.T) {
	t.Parallel()

	article := testArticle()
	store := &mismatchStore{newMemStore(article)}
	distributor := &countingDistributor{}
	coordinator := NewCoordinator(store, distributor, nil, 30*time.Minute, nil)

	_, err := coordinator.PublishArticle(context.Background(), article)
	if !errors.Is(err, ErrFinalizeMismatch) {
		t.Fatalf("expected finalize mismatch error, got %v", err)
	}
	if got := distributor.count(); got != 1 {
		t.Fatalf("expected the orphaned post to exist exactly once, got %d", got)
	}
}

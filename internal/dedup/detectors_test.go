package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"NewsIngestor/internal/domain"
	"NewsIngestor/internal/ports"
)

type fakeStore struct {
	byCanonical map[string]*domain.Article
	bySourceURL map[string]*domain.Article
	byImageURL  map[string]*domain.Article
	lookups     int
}

func (f *fakeStore) FindByCanonicalID(ctx context.Context, id string) (*domain.Article, error) {
	f.lookups++
	if a, ok := f.byCanonical[id]; ok {
		return a, nil
	}
	return nil, ports.ErrNotFound
}

func (f *fakeStore) FindBySourceURL(ctx context.Context, url string) (*domain.Article, error) {
	f.lookups++
	if a, ok := f.bySourceURL[url]; ok {
		return a, nil
	}
	return nil, ports.ErrNotFound
}

func (f *fakeStore) FindByImageURL(ctx context.Context, url string) (*domain.Article, error) {
	f.lookups++
	if a, ok := f.byImageURL[url]; ok {
		return a, nil
	}
	return nil, ports.ErrNotFound
}

func (f *fakeStore) ListRecent(ctx context.Context, limit int) ([]domain.Article, error) {
	return nil, nil
}

func (f *fakeStore) CreateArticle(ctx context.Context, a *domain.Article) error { return nil }

func (f *fakeStore) ClaimForPublication(ctx context.Context, id, token string, stale time.Duration) (bool, error) {
	return false, nil
}

func (f *fakeStore) FinalizePublication(ctx context.Context, id, token, externalID string) (bool, error) {
	return false, nil
}

func (f *fakeStore) ReleasePublicationLock(ctx context.Context, id, token string) error {
	return nil
}

type fakeEnricher struct {
	photo        func(url string) (bool, error)
	entities     func(title string) (*domain.EntitySet, error)
	embed        func(text string) ([]float32, error)
	classifyHits int
}

func (f *fakeEnricher) ClassifyAndTranslate(ctx context.Context, title, body string, embedding []float32) (ports.Enrichment, error) {
	f.classifyHits++
	return ports.Enrichment{IsNews: true, BaseScore: 3, Title: title, Body: body}, nil
}

func (f *fakeEnricher) IsPhotograph(ctx context.Context, imageURL string) (bool, error) {
	if f.photo == nil {
		return true, nil
	}
	return f.photo(imageURL)
}

func (f *fakeEnricher) ExtractEntities(ctx context.Context, title string) (*domain.EntitySet, error) {
	if f.entities == nil {
		return &domain.EntitySet{}, nil
	}
	return f.entities(title)
}

func (f *fakeEnricher) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embed == nil {
		return nil, errors.New("no embedding configured")
	}
	return f.embed(text)
}

type fakeHasher struct {
	hash func(url string) (uint64, error)
}

func (f *fakeHasher) Hash(ctx context.Context, imageURL string) (uint64, error) {
	if f.hash == nil {
		return 0, errors.New("no hash configured")
	}
	return f.hash(imageURL)
}

func defaultThresholds() Thresholds {
	return Thresholds{
		HashDistance:         20,
		EntityOverlap:        60,
		Semantic:             0.75,
		SemanticWithEntities: 0.55,
	}
}

func newTestChain(store *fakeStore, enricher *fakeEnricher, hasher *fakeHasher) *Chain {
	if store.byCanonical == nil {
		store.byCanonical = map[string]*domain.Article{}
	}
	if store.bySourceURL == nil {
		store.bySourceURL = map[string]*domain.Article{}
	}
	if store.byImageURL == nil {
		store.byImageURL = map[string]*domain.Article{}
	}
	return NewChain(store, enricher, hasher, defaultThresholds(), nil)
}

func photoPost() domain.ScrapedPost {
	return domain.ScrapedPost{
		Title:       "Motorbike crash on Patong hill",
		Text:        "Two injured in a crash this morning.",
		ImageURLs:   []string{"https://cdn.example.com/a.jpg"},
		Permalink:   "https://facebook.com/p/1",
		CanonicalID: "post-1",
	}
}

func TestChainQualityPreFilter(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	chain := newTestChain(store, &fakeEnricher{}, &fakeHasher{})
	ws := NewWorkingSet(100, nil)

	noImages := photoPost()
	noImages.ImageURLs = nil
	match, _, err := chain.Evaluate(context.Background(), noImages, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match == nil || match.Reason != domain.SkipNoImages {
		t.Fatalf("expected no-images skip, got %+v", match)
	}

	textPost := photoPost()
	textPost.IsTextPost = true
	match, _, err = chain.Evaluate(context.Background(), textPost, ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match == nil || match.Reason != domain.SkipTextPost {
		t.Fatalf("expected text-post skip, got %+v", match)
	}

	if store.lookups != 0 {
		t.Fatalf("quality pre-filter must not hit the store, got %d lookups", store.lookups)
	}
}

func TestChainExactMatches(t *testing.T) {
	t.Parallel()

	existing := &domain.Article{ID: "a1"}

	cases := []struct {
		name   string
		store  *fakeStore
		reason domain.SkipReason
	}{
		{"canonical", &fakeStore{byCanonical: map[string]*domain.Article{"post-1": existing}}, domain.SkipCanonicalIDSeen},
		{"source url", &fakeStore{bySourceURL: map[string]*domain.Article{"https://facebook.com/p/1": existing}}, domain.SkipSourceURLSeen},
		{"image url", &fakeStore{byImageURL: map[string]*domain.Article{"https://cdn.example.com/a.jpg": existing}}, domain.SkipImageURLSeen},
	}

	for _, tc := range cases {
		chain := newTestChain(tc.store, &fakeEnricher{}, &fakeHasher{})
		match, _, err := chain.Evaluate(context.Background(), photoPost(), NewWorkingSet(100, nil))
		if err != nil {
			t.Fatalf("%s: evaluate: %v", tc.name, err)
		}
		if match == nil || match.Reason != tc.reason {
			t.Fatalf("%s: expected %s, got %+v", tc.name, tc.reason, match)
		}
		if match.ArticleID != "a1" {
			t.Fatalf("%s: expected matched article a1, got %s", tc.name, match.ArticleID)
		}
	}
}

func TestChainPerceptualHashMatch(t *testing.T) {
	t.Parallel()

	knownHash := uint64(0)
	ws := NewWorkingSet(100, []domain.Article{{ID: "a1", ImageHash: &knownHash}})

	within := uint64(1)<<20 - 1 // distance exactly 20
	chain := newTestChain(&fakeStore{}, &fakeEnricher{}, &fakeHasher{
		hash: func(string) (uint64, error) { return within, nil },
	})

	match, sig, err := chain.Evaluate(context.Background(), photoPost(), ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match == nil || match.Reason != domain.SkipSimilarImage {
		t.Fatalf("expected similar-image skip at distance 20, got %+v", match)
	}
	if sig.Hash == nil || *sig.Hash != within {
		t.Fatal("computed hash must be returned in signals")
	}

	outside := uint64(1)<<21 - 1 // distance exactly 21
	chain = newTestChain(&fakeStore{}, &fakeEnricher{}, &fakeHasher{
		hash: func(string) (uint64, error) { return outside, nil },
	})
	match, _, err = chain.Evaluate(context.Background(), photoPost(), ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match != nil && match.Reason == domain.SkipSimilarImage {
		t.Fatal("distance 21 must not match")
	}
}

func TestChainHashFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	chain := newTestChain(&fakeStore{}, &fakeEnricher{}, &fakeHasher{
		hash: func(string) (uint64, error) { return 0, errors.New("fetch failed") },
	})

	match, sig, err := chain.Evaluate(context.Background(), photoPost(), NewWorkingSet(100, nil))
	if err != nil {
		t.Fatalf("hash failure must not abort the post: %v", err)
	}
	if match != nil {
		t.Fatalf("expected pass, got %+v", match)
	}
	if sig.Hash != nil {
		t.Fatal("failed hash must not appear in signals")
	}
}

func TestChainGraphicOnlyFilter(t *testing.T) {
	t.Parallel()

	post := photoPost()
	post.ImageURLs = []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"}

	chain := newTestChain(&fakeStore{}, &fakeEnricher{
		photo: func(string) (bool, error) { return false, nil },
	}, &fakeHasher{})

	match, _, err := chain.Evaluate(context.Background(), post, NewWorkingSet(100, nil))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match == nil || match.Reason != domain.SkipGraphicOnly {
		t.Fatalf("expected graphic-only skip, got %+v", match)
	}

	// One real photograph is enough to proceed.
	calls := 0
	chain = newTestChain(&fakeStore{}, &fakeEnricher{
		photo: func(string) (bool, error) {
			calls++
			return calls == 2, nil
		},
	}, &fakeHasher{})
	match, _, err = chain.Evaluate(context.Background(), post, NewWorkingSet(100, nil))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match != nil {
		t.Fatalf("expected pass with one photo, got %+v", match)
	}

	// All checks erroring yields no signal and lets the post through.
	chain = newTestChain(&fakeStore{}, &fakeEnricher{
		photo: func(string) (bool, error) { return false, errors.New("vision down") },
	}, &fakeHasher{})
	match, _, err = chain.Evaluate(context.Background(), post, NewWorkingSet(100, nil))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match != nil {
		t.Fatalf("expected pass when vision is down, got %+v", match)
	}
}

func TestChainEntityOverlapMatch(t *testing.T) {
	t.Parallel()

	known := &domain.EntitySet{
		Locations:  []string{"patong"},
		EventTypes: []string{"crash"},
	}
	ws := NewWorkingSet(100, []domain.Article{{ID: "a1", Entities: known}})

	chain := newTestChain(&fakeStore{}, &fakeEnricher{
		entities: func(string) (*domain.EntitySet, error) {
			// Full core agreement scores 70, over the 60 threshold.
			return &domain.EntitySet{Locations: []string{"Patong"}, EventTypes: []string{"crash"}}, nil
		},
	}, &fakeHasher{})

	match, _, err := chain.Evaluate(context.Background(), photoPost(), ws)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match == nil || match.Reason != domain.SkipEntityOverlap {
		t.Fatalf("expected entity-overlap skip, got %+v", match)
	}
	if match.ArticleID != "a1" {
		t.Fatalf("expected match on a1, got %s", match.ArticleID)
	}
}

func TestChainSemanticThresholdCoupling(t *testing.T) {
	t.Parallel()

	// cosine([0.6,0.8],[1,0]) = 0.60: between the lowered 0.55 bar and the
	// strict 0.75 bar.
	postEmbedding := []float32{0.6, 0.8}
	knownEmbedding := []float32{1, 0}

	supported := NewWorkingSet(100, []domain.Article{{
		ID:        "a1",
		Embedding: knownEmbedding,
		Entities:  &domain.EntitySet{Locations: []string{"patong", "karon", "kata"}},
	}})

	chain := newTestChain(&fakeStore{}, &fakeEnricher{
		entities: func(string) (*domain.EntitySet, error) {
			// Shared location: core support, but score 35 stays below 60.
			return &domain.EntitySet{Locations: []string{"patong"}}, nil
		},
		embed: func(string) ([]float32, error) { return postEmbedding, nil },
	}, &fakeHasher{})

	match, _, err := chain.Evaluate(context.Background(), photoPost(), supported)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match == nil || match.Reason != domain.SkipSemanticMatch {
		t.Fatalf("expected semantic match at 0.60 with entity support, got %+v", match)
	}

	unsupported := NewWorkingSet(100, []domain.Article{{
		ID:        "a1",
		Embedding: knownEmbedding,
	}})
	chain = newTestChain(&fakeStore{}, &fakeEnricher{
		entities: func(string) (*domain.EntitySet, error) { return &domain.EntitySet{}, nil },
		embed:    func(string) ([]float32, error) { return postEmbedding, nil },
	}, &fakeHasher{})

	match, _, err = chain.Evaluate(context.Background(), photoPost(), unsupported)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if match != nil {
		t.Fatalf("0.60 without entity support must not match against the 0.75 bar, got %+v", match)
	}
}

package dedup

import "NewsIngestor/internal/domain"

// Entry carries the duplicate signals of one known article.
type Entry struct {
	ArticleID string
	Hash      *uint64
	Embedding []float32
	Entities  *domain.EntitySet
}

// WorkingSet is the append-only set of duplicate signals a pipeline pass
// compares against. It is seeded from the store's recent window at run start
// and grows as the pass creates articles, so in-batch duplicates are caught
// by the same code path as historical ones.
type WorkingSet struct {
	window  int
	entries []Entry
}

// NewWorkingSet seeds a set from recent articles (newest first) with the
// given comparison window.
func NewWorkingSet(window int, recent []domain.Article) *WorkingSet {
	ws := &WorkingSet{window: window}
	// Store order is newest-first; append oldest-first so that Recent()
	// naturally favors the newest entries at the tail.
	for i := len(recent) - 1; i >= 0; i-- {
		ws.Append(&recent[i])
	}
	return ws
}

// Append records a newly known article's signals.
func (w *WorkingSet) Append(a *domain.Article) {
	w.entries = append(w.entries, Entry{
		ArticleID: a.ID,
		Hash:      a.ImageHash,
		Embedding: a.Embedding,
		Entities:  a.Entities,
	})
}

// Recent returns at most the newest `window` entries. Comparison cost stays
// bounded no matter how long the pass runs.
func (w *WorkingSet) Recent() []Entry {
	if w.window <= 0 || len(w.entries) <= w.window {
		return w.entries
	}
	return w.entries[len(w.entries)-w.window:]
}

// Len reports the total number of entries held.
func (w *WorkingSet) Len() int {
	return len(w.entries)
}

package domain

import "time"

// ScrapedPost is the raw unit handed over by a source adapter. It carries no
// identity beyond its fields and is never persisted as-is.
type ScrapedPost struct {
	Title        string
	Text         string
	ImageURLs    []string
	Permalink    string
	CanonicalID  string
	PublishedAt  time.Time
	IsTextPost   bool // colored-background text post, never real news
	LocationHint string
	HasVideo     bool
	VideoURL     string
}

// PrimaryImageURL returns the first image of the post, if any.
func (p ScrapedPost) PrimaryImageURL() string {
	if len(p.ImageURLs) == 0 {
		return ""
	}
	return p.ImageURLs[0]
}

// Article is the persistent unit of publication, created once per unique
// source permalink.
type Article struct {
	ID              string
	Title           string
	Body            string
	Excerpt         string
	Category        string
	SourceURL       string // unique
	CanonicalID     string // unique when present
	PrimaryImageURL string
	ImageURLs       []string
	ImageHash       *uint64
	Embedding       []float32
	Entities        *EntitySet
	InterestScore   int // 1..5
	Published       bool
	CreatedAt       time.Time

	// DistributionLock is the publication-claim field: empty (unclaimed),
	// a "pending:"-prefixed token (claimed), or the external post id.
	DistributionLock     string
	DistributionLockedAt *time.Time
}

// EntitySet is a coarse structured extraction from a title, used for
// same-story matching independent of wording.
type EntitySet struct {
	Locations     []string `json:"locations,omitempty"`
	EventTypes    []string `json:"event_types,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
	People        []string `json:"people,omitempty"`
}

// IsEmpty reports whether no entities were extracted at all.
func (e *EntitySet) IsEmpty() bool {
	if e == nil {
		return true
	}
	return len(e.Locations) == 0 && len(e.EventTypes) == 0 &&
		len(e.Organizations) == 0 && len(e.People) == 0
}

// SkipReason classifies why a scraped post was not turned into an article.
// The reasons feed the per-run rejection statistics.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipNoImages        SkipReason = "no_images"
	SkipTextPost        SkipReason = "text_post"
	SkipCanonicalIDSeen SkipReason = "canonical_id_seen"
	SkipSourceURLSeen   SkipReason = "source_url_seen"
	SkipImageURLSeen    SkipReason = "image_url_seen"
	SkipSimilarImage    SkipReason = "similar_image"
	SkipGraphicOnly     SkipReason = "graphic_only"
	SkipEntityOverlap   SkipReason = "entity_overlap"
	SkipSemanticMatch   SkipReason = "semantic_match"
	SkipNotNews         SkipReason = "not_news"
	SkipCreateConflict  SkipReason = "create_conflict"
)

// RunStats aggregates outcomes of one pipeline pass.
type RunStats struct {
	Fetched   int
	Created   int
	Published int
	Skipped   map[SkipReason]int
}

// NewRunStats returns an empty stats accumulator.
func NewRunStats() *RunStats {
	return &RunStats{Skipped: map[SkipReason]int{}}
}

// Skip records one rejection under the given reason.
func (s *RunStats) Skip(reason SkipReason) {
	s.Skipped[reason]++
}

// TotalSkipped sums rejections across all reasons.
func (s *RunStats) TotalSkipped() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

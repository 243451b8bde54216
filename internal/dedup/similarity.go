package dedup

import (
	"math"
	"strings"

	"NewsIngestor/internal/domain"
)

// Category weights for entity overlap. Locations and event types carry the
// most signal for "same story", so they dominate the score and also decide
// whether the lowered semantic threshold applies.
const (
	weightLocations     = 35
	weightEventTypes    = 35
	weightOrganizations = 15
	weightPeople        = 15
)

// EntityOverlap describes how strongly two entity sets agree.
type EntityOverlap struct {
	// Score is 0..100, weighted across categories.
	Score int
	// CoreMatch is true when locations or event types share at least one
	// entry; it lowers the semantic-similarity bar downstream.
	CoreMatch bool
}

// CompareEntities scores the agreement between two entity sets.
func CompareEntities(a, b *domain.EntitySet) EntityOverlap {
	if a.IsEmpty() || b.IsEmpty() {
		return EntityOverlap{}
	}

	var overlap EntityOverlap
	locs := overlapCoefficient(a.Locations, b.Locations)
	events := overlapCoefficient(a.EventTypes, b.EventTypes)
	orgs := overlapCoefficient(a.Organizations, b.Organizations)
	people := overlapCoefficient(a.People, b.People)

	score := locs*weightLocations + events*weightEventTypes +
		orgs*weightOrganizations + people*weightPeople
	overlap.Score = int(math.Round(score))
	overlap.CoreMatch = locs > 0 || events > 0
	return overlap
}

// overlapCoefficient returns |intersection| / min(|a|,|b|) over normalized
// entries, or 0 when either side is empty.
func overlapCoefficient(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[normalizeEntity(v)] = struct{}{}
	}

	matched := map[string]struct{}{}
	for _, v := range b {
		key := normalizeEntity(v)
		if _, ok := seen[key]; ok {
			matched[key] = struct{}{}
		}
	}

	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(len(matched)) / float64(smaller)
}

func normalizeEntity(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// CosineSimilarity computes cosine similarity between two vectors. Mismatched
// or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

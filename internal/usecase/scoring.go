package usecase

import "strings"

// AutoPublishScore is the single gate between "stored as draft" and
// "distributed automatically": articles scoring at or above it are published
// to the channel, the rest wait for manual review.
const AutoPublishScore = 4

const (
	minScore = 1
	maxScore = 5
)

// Scorer applies the deterministic local adjustments on top of the
// enrichment collaborator's base interest score.
type Scorer struct {
	boostKeywords map[string]int
	categoryCaps  map[string]int
}

// NewScorer builds a scorer from keyword deltas and per-category caps.
func NewScorer(boostKeywords, categoryCaps map[string]int) *Scorer {
	return &Scorer{boostKeywords: boostKeywords, categoryCaps: categoryCaps}
}

// Score combines the base score with keyword boosts/penalties and category
// caps, clamped to [1,5].
func (s *Scorer) Score(base int, title, category string) int {
	score := base

	lowerTitle := strings.ToLower(title)
	for keyword, delta := range s.boostKeywords {
		if strings.Contains(lowerTitle, strings.ToLower(keyword)) {
			score += delta
		}
	}

	if limit, ok := s.categoryCaps[strings.ToLower(category)]; ok && score > limit {
		score = limit
	}

	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

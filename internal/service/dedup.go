package service

import (
	"fmt"

	"github.com/jmin1219/voku/internal/domain"
)

const (
	// DefaultDedupThreshold is the inclusive similarity at which an incoming
	// proposition is treated as a restatement of an ACTIVE one.
	DefaultDedupThreshold = 0.95

	// similarityEpsilon absorbs float32 rounding so a pair built to sit
	// exactly on a threshold is not pushed under it.
	similarityEpsilon = 1e-6
)

// Deduplicator rejects near-identical propositions before they are stored.
// It only reads the index and never calls out to a classifier.
type Deduplicator struct {
	index     domain.SimilarityIndex
	threshold float64
}

func NewDeduplicator(index domain.SimilarityIndex, threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}
	return &Deduplicator{index: index, threshold: threshold}
}

func (d *Deduplicator) Threshold() float64 {
	return d.threshold
}

// IsDuplicate returns the best ACTIVE match when its similarity reaches the
// threshold, or nil when the embedding is new.
func (d *Deduplicator) IsDuplicate(embedding []float32) (*domain.SimilarityMatch, error) {
	matches, err := d.index.Search(embedding, 1, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("dedup search: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if matches[0].Similarity+similarityEpsilon < d.threshold {
		return nil, nil
	}
	m := matches[0]
	return &m, nil
}

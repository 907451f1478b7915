// Package mastery reads and updates per-learner concept mastery.
package mastery

import (
	"context"
	"math"

	"github.com/abhisek/tutorpolicy/internal/store"
)

// Info is one learner's standing on one concept.
type Info struct {
	Mastery  float64 `json:"mastery"`
	Attempts int     `json:"attempts"`
	Correct  int     `json:"correct"`
}

// Map holds mastery by concept name. Absent concepts are unknown, which
// is distinct from a zero score.
type Map map[string]Info

// Lookup returns the info for concept.
func (m Map) Lookup(concept string) (Info, bool) {
	if m == nil {
		return Info{}, false
	}
	info, ok := m[concept]
	return info, ok
}

// Score returns the mastery score for concept, or nil when unknown or
// not a finite number.
func (m Map) Score(concept string) *float64 {
	info, ok := m.Lookup(concept)
	if !ok || math.IsNaN(info.Mastery) || math.IsInf(info.Mastery, 0) {
		return nil
	}
	v := info.Mastery
	return &v
}

// Reader loads a snapshot of mastery for a learner.
type Reader interface {
	MasteryFor(ctx context.Context, userID string, concepts []string) (Map, error)
}

// StoreReader adapts a store.MasteryRepo to Reader.
type StoreReader struct {
	repo store.MasteryRepo
}

// NewStoreReader wraps repo.
func NewStoreReader(repo store.MasteryRepo) *StoreReader {
	return &StoreReader{repo: repo}
}

func (r *StoreReader) MasteryFor(ctx context.Context, userID string, concepts []string) (Map, error) {
	recs, err := r.repo.MasteryFor(ctx, userID, concepts)
	if err != nil {
		return nil, err
	}
	out := make(Map, len(recs))
	for c, rec := range recs {
		out[c] = Info{Mastery: rec.Mastery, Attempts: rec.Attempts, Correct: rec.Correct}
	}
	return out, nil
}

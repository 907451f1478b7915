package mastery

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/store"
)

// UpdaterConfig tunes how interaction signals move mastery.
type UpdaterConfig struct {
	LearningRate float64 // scales the summed signal
	DecayFactor  float64 // applied above DecayAbove, progress is slower near the top
	DecayAbove   float64
	MinUpdate    float64 // summed signals weaker than this are ignored
	MaxUpdate    float64 // cap on |delta| per turn
}

// DefaultUpdaterConfig returns the standard tuning.
func DefaultUpdaterConfig() UpdaterConfig {
	return UpdaterConfig{
		LearningRate: 0.1,
		DecayFactor:  0.95,
		DecayAbove:   0.7,
		MinUpdate:    0.05,
		MaxUpdate:    0.3,
	}
}

// Signals are the observations of one turn that bear on mastery.
type Signals struct {
	Intent                   classifier.Intent
	Affect                   classifier.Affect
	AnswerCorrect            *bool
	ExplanationQuality       float64
	ClassificationConfidence float64
}

// Update is a computed mastery change.
type Update struct {
	Concept    string  `json:"concept"`
	Delta      float64 `json:"delta"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Correct    *bool   `json:"correct,omitempty"`
}

// Writer persists mastery updates. store.MasteryRepo satisfies it.
type Writer interface {
	ApplyMasteryUpdate(ctx context.Context, userID, concept string, delta float64, correct *bool, confidence float64) (store.MasteryRecord, error)
}

// Updater turns interaction signals into mastery deltas.
type Updater struct {
	cfg UpdaterConfig
}

// NewUpdater creates an Updater.
func NewUpdater(cfg UpdaterConfig) *Updater {
	return &Updater{cfg: cfg}
}

// Compute derives the mastery change for concept from one turn's signals.
func (u *Updater) Compute(concept string, s Signals, current float64) Update {
	var (
		raw     float64
		reasons []string
	)

	switch s.Affect {
	case classifier.AffectEngaged:
		raw += 0.1
		reasons = append(reasons, "engaged_affect")
	case classifier.AffectConfused, classifier.AffectFrustrated:
		raw -= 0.05
		reasons = append(reasons, string(s.Affect)+"_affect")
	}

	var correct *bool
	if s.Intent == classifier.IntentAnswer && s.AnswerCorrect != nil {
		v := *s.AnswerCorrect
		correct = &v
		if v {
			raw += 0.15
			reasons = append(reasons, "correct_answer")
		} else {
			raw -= 0.1
			reasons = append(reasons, "incorrect_answer")
		}
	}

	if s.Intent == classifier.IntentReflection && s.ExplanationQuality > 0.7 {
		raw += 0.2
		reasons = append(reasons, "quality_explanation")
	}

	// The threshold applies to the summed signal; scaling first would
	// zero every realistic update at the default learning rate.
	delta := 0.0
	if abs(raw) >= u.cfg.MinUpdate {
		delta = raw
		if current > u.cfg.DecayAbove {
			delta *= u.cfg.DecayFactor
		}
		delta *= u.cfg.LearningRate
		if delta > u.cfg.MaxUpdate {
			delta = u.cfg.MaxUpdate
		}
		if delta < -u.cfg.MaxUpdate {
			delta = -u.cfg.MaxUpdate
		}
	}

	reason := "no_signal"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, ", ")
	}
	return Update{
		Concept:    concept,
		Delta:      delta,
		Reason:     reason,
		Confidence: updateConfidence(s),
		Correct:    correct,
	}
}

// Apply persists upd. Updates with no delta and no assessed answer are
// skipped and report applied=false.
func (u *Updater) Apply(ctx context.Context, w Writer, userID string, upd Update) (store.MasteryRecord, bool, error) {
	if upd.Concept == "" || (upd.Delta == 0 && upd.Correct == nil) {
		return store.MasteryRecord{}, false, nil
	}
	rec, err := w.ApplyMasteryUpdate(ctx, userID, upd.Concept, upd.Delta, upd.Correct, upd.Confidence)
	if err != nil {
		return rec, false, fmt.Errorf("apply mastery update for %s: %w", upd.Concept, err)
	}
	return rec, true, nil
}

func updateConfidence(s Signals) float64 {
	c := 0.5
	if s.AnswerCorrect != nil {
		c += 0.3
	}
	switch s.Affect {
	case classifier.AffectEngaged, classifier.AffectConfused, classifier.AffectFrustrated:
		c += 0.1
	}
	if s.ClassificationConfidence > 0.8 {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

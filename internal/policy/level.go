// Package policy holds the pure decision logic of a tutor turn: level
// bucketing, focus selection, the cold-start gate, the action state
// machine and the per-session policy state it reads and updates.
package policy

import (
	"math"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/mastery"
)

// Level is a learner's standing on a concept.
type Level string

const (
	LevelBeginner   Level = "beginner"
	LevelDeveloping Level = "developing"
	LevelProficient Level = "proficient"
	LevelMastering  Level = "mastering"
)

// ParseLevel maps a string to a Level, defaulting to beginner.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDeveloping:
		return LevelDeveloping
	case LevelProficient:
		return LevelProficient
	case LevelMastering:
		return LevelMastering
	default:
		return LevelBeginner
	}
}

// LevelFor buckets a mastery score. Missing or non-finite scores are
// beginner; scores outside [0,1] fall to the nearest bucket.
func LevelFor(score *float64) Level {
	if score == nil || math.IsNaN(*score) || math.IsInf(*score, 0) {
		return LevelBeginner
	}
	switch s := *score; {
	case s < 0.3:
		return LevelBeginner
	case s < 0.6:
		return LevelDeveloping
	case s < 0.8:
		return LevelProficient
	default:
		return LevelMastering
	}
}

// LevelOf is LevelFor over a concept's entry in m.
func LevelOf(m mastery.Map, concept string) Level {
	return LevelFor(m.Score(concept))
}

// Pedagogy roles of retrieved passages.
const (
	RoleDefinition  = "definition"
	RoleExplanation = "explanation"
	RoleExample     = "example"
	RoleApplication = "application"
	RoleDerivation  = "derivation"
	RoleProof       = "proof"
)

// RoleSequence is the preferred teaching order of passage roles for a level.
func RoleSequence(l Level) []string {
	switch l {
	case LevelBeginner, LevelDeveloping:
		return []string{RoleDefinition, RoleExplanation, RoleExample}
	case LevelProficient:
		return []string{RoleExample, RoleApplication, RoleDerivation}
	default:
		return []string{RoleDerivation, RoleProof, RoleApplication}
	}
}

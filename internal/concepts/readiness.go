package concepts

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/mastery"
)

// CheckerConfig sets the readiness thresholds.
type CheckerConfig struct {
	Enabled          bool
	MasteryThreshold float64 // prerequisites below this are weak
	WeakThreshold    float64 // weak prerequisites below this still call for review
	MaxWeak          int     // more weak prerequisites than this is not ready
}

// DefaultCheckerConfig returns the standard thresholds, disabled.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		MasteryThreshold: 0.6,
		WeakThreshold:    0.4,
		MaxWeak:          2,
	}
}

// CheckerConfigFromEnv overlays TUTOR_PREREQ_* variables on the defaults.
func CheckerConfigFromEnv() CheckerConfig {
	cfg := DefaultCheckerConfig()
	if v := os.Getenv("TUTOR_PREREQ_CHECK_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	if f, err := strconv.ParseFloat(os.Getenv("TUTOR_PREREQ_MASTERY_THRESHOLD"), 64); err == nil {
		cfg.MasteryThreshold = f
	}
	if f, err := strconv.ParseFloat(os.Getenv("TUTOR_PREREQ_WEAK_THRESHOLD"), 64); err == nil {
		cfg.WeakThreshold = f
	}
	if n, err := strconv.Atoi(os.Getenv("TUTOR_PREREQ_MAX_WEAK")); err == nil && n >= 0 {
		cfg.MaxWeak = n
	}
	return cfg
}

// Readiness is the verdict for one concept.
type Readiness struct {
	Ready          bool     `json:"ready"`
	Confidence     float64  `json:"confidence"`
	Missing        []string `json:"missing,omitempty"`
	Weak           []string `json:"weak,omitempty"`
	Recommendation string   `json:"recommendation"`
	ShouldReview   bool     `json:"should_review"`
}

// Checker decides whether prerequisites are solid enough to teach a concept.
// A concept's prerequisites are the chain entries that precede it.
type Checker struct {
	cfg CheckerConfig
}

func NewChecker(cfg CheckerConfig) *Checker {
	return &Checker{cfg: cfg}
}

// Enabled reports whether prerequisite-aware substitution is switched on.
func (c *Checker) Enabled() bool {
	return c != nil && c.cfg.Enabled
}

// Check judges concept against the chain entries before it. Unknown
// mastery counts as zero.
func (c *Checker) Check(concept string, chain []string, m mastery.Map) Readiness {
	var missing, weak []string
	for _, p := range prereqsOf(concept, chain) {
		score := scoreOrZero(m, p)
		switch {
		case score == 0:
			missing = append(missing, p)
		case score < c.cfg.MasteryThreshold:
			weak = append(weak, p)
		}
	}

	switch {
	case len(missing) > 0:
		return Readiness{
			Confidence:     0,
			Missing:        missing,
			Weak:           weak,
			Recommendation: fmt.Sprintf("Review prerequisites first: %s", strings.Join(firstN(missing, 2), ", ")),
			ShouldReview:   true,
		}
	case len(weak) > c.cfg.MaxWeak:
		return Readiness{
			Confidence:     0.3,
			Weak:           weak,
			Recommendation: fmt.Sprintf("Strengthen understanding of: %s", strings.Join(firstN(weak, 2), ", ")),
			ShouldReview:   true,
		}
	case len(weak) > 0:
		return Readiness{
			Ready:          true,
			Confidence:     0.7,
			Weak:           weak,
			Recommendation: fmt.Sprintf("Proceed with caution; review %s if needed", weak[0]),
			ShouldReview:   c.anyBelow(weak, m, c.cfg.WeakThreshold),
		}
	default:
		return Readiness{Ready: true, Confidence: 1, Recommendation: "Learner is ready for this concept"}
	}
}

// NextReady returns the first chain concept not yet mastered (> 0.8) whose
// prerequisites pass Check, else the first with mastery below 0.8, else "".
func (c *Checker) NextReady(chain []string, m mastery.Map) string {
	for _, concept := range chain {
		if scoreOrZero(m, concept) > 0.8 {
			continue
		}
		if c.Check(concept, chain, m).Ready {
			return concept
		}
	}
	for _, concept := range chain {
		if scoreOrZero(m, concept) < 0.8 {
			return concept
		}
	}
	return ""
}

// ReviewPath lists the prerequisites of target below the mastery threshold.
func (c *Checker) ReviewPath(target string, chain []string, m mastery.Map) []string {
	var out []string
	for _, p := range prereqsOf(target, chain) {
		if scoreOrZero(m, p) < c.cfg.MasteryThreshold {
			out = append(out, p)
		}
	}
	return out
}

func (c *Checker) anyBelow(concepts []string, m mastery.Map, threshold float64) bool {
	for _, p := range concepts {
		if scoreOrZero(m, p) < threshold {
			return true
		}
	}
	return false
}

func prereqsOf(concept string, chain []string) []string {
	for i, c := range chain {
		if c == concept {
			return chain[:i]
		}
	}
	return nil
}

func scoreOrZero(m mastery.Map, concept string) float64 {
	if s := m.Score(concept); s != nil {
		return *s
	}
	return 0
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

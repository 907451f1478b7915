package policy

import (
	"strings"

	"github.com/abhisek/tutorpolicy/internal/mastery"
)

// NeedsColdStart reports whether concept calls for a check-in before
// teaching: it has not completed one this session and the learner has no
// attempts or a mastery below 0.15. Unknown concepts always need one.
func NeedsColdStart(concept string, m mastery.Map, s State) bool {
	if concept == "" || s.ColdStartDone(concept) {
		return false
	}
	info, ok := m.Lookup(concept)
	if !ok {
		return true
	}
	return info.Attempts < 1 || info.Mastery < 0.15
}

// SelectFocus picks the concept this turn addresses. The classifier's
// concept wins unless it is nearly mastered; then the first chain entry
// that is unknown or below 0.8; then the first non-empty fallback.
func SelectFocus(primary string, chain []string, m mastery.Map, fallbacks []string) string {
	primary = strings.TrimSpace(primary)
	if primary != "" {
		if info, ok := m.Lookup(primary); !ok || info.Mastery < 0.85 {
			return primary
		}
	}
	for _, c := range chain {
		if s := m.Score(c); s == nil || *s < 0.8 {
			return c
		}
	}
	for _, c := range fallbacks {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	if primary != "" {
		return primary
	}
	if len(chain) > 0 {
		return chain[0]
	}
	return ""
}

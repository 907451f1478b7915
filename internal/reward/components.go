package reward

import (
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

// Input is one candidate response in its situation.
type Input struct {
	Observation tutor.Observation
	Response    string

	// CitedIDs overrides the ids cited in the observation when the
	// response carries its own.
	CitedIDs []string
}

func (in Input) cited() []string {
	if len(in.CitedIDs) > 0 {
		return in.CitedIDs
	}
	return in.Observation.CitedIDs()
}

// Component is one scored facet of a response.
type Component struct {
	Score   float64        `json:"score"`
	Details map[string]any `json:"details"`
	Flags   []string       `json:"flags"`
}

// Scorer rates one facet of a response.
type Scorer interface {
	Score(in Input) Component
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(in Input) Component

func (f ScorerFunc) Score(in Input) Component { return f(in) }

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func containsAny(lowered string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(lowered, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var exampleWord = regexp.MustCompile(`\bexample\b`)

// Rubric features.
const (
	FeatureDirectAnswer = "direct_answer"
	FeatureExample      = "example"
	FeatureReasoning    = "reasoning"
	FeatureFormative    = "formative"
)

func rubricFeatures(cfg Config, in Input) map[string]float64 {
	lowered := strings.ToLower(in.Response)
	concept := strings.ToLower(in.Observation.Concept())

	direct := (concept != "" && strings.Contains(lowered, concept)) || containsAny(lowered, cfg.DirectMarkers)
	example := containsAny(lowered, cfg.ExampleMarkers) || exampleWord.MatchString(lowered)
	reasoning := containsAny(lowered, cfg.ReasoningMarkers)
	formative := strings.HasSuffix(strings.TrimSpace(lowered), "?") || containsAny(lowered, cfg.SuggestionMarkers)

	return map[string]float64{
		FeatureDirectAnswer: boolScore(direct),
		FeatureExample:      boolScore(example),
		FeatureReasoning:    boolScore(reasoning),
		FeatureFormative:    boolScore(formative),
	}
}

// Rubric checks for a direct answer, an example, reasoning and a
// formative prompt. The formative prompt counts three quarters.
func Rubric(cfg Config) Scorer {
	return ScorerFunc(func(in Input) Component {
		f := rubricFeatures(cfg, in)
		score := (f[FeatureDirectAnswer] + f[FeatureExample] + f[FeatureReasoning] + 0.75*f[FeatureFormative]) / 3.75

		var flags []string
		if score < 0.5 {
			flags = append(flags, "rubric_incomplete")
		}
		return Component{
			Score: round4(score),
			Details: map[string]any{
				"focus_concept": in.Observation.Concept(),
				"features":      f,
			},
			Flags: flags,
		}
	})
}

// Intent bands.
const (
	BandPreferred      = "preferred"
	BandAcceptable     = "acceptable"
	BandFallback       = "fallback"
	BandMismatch       = "mismatch"
	BandAffectOverride = "affect_override"
)

// IntentPriorities ranks the actions that suit each intent, best first.
var IntentPriorities = map[classifier.Intent][]policy.Action{
	classifier.IntentQuestion:   {policy.ActionExplain, policy.ActionHint, policy.ActionWorkedExample},
	classifier.IntentAnswer:     {policy.ActionReflect, policy.ActionAsk, policy.ActionReview},
	classifier.IntentReflection: {policy.ActionReflect, policy.ActionAsk, policy.ActionReview},
	classifier.IntentOffTopic:   {policy.ActionReview, policy.ActionAsk, policy.ActionExplain},
	classifier.IntentGreeting:   {policy.ActionAsk, policy.ActionExplain},
	classifier.IntentUnknown:    {policy.ActionExplain, policy.ActionAsk, policy.ActionReview},
}

var bandScores = []struct {
	band  string
	score float64
}{
	{BandPreferred, 1.0},
	{BandAcceptable, 0.8},
	{BandFallback, 0.6},
}

// Intent rates how well the chosen action suits the learner's intent. A
// distressed learner always gets at least 0.7 for an explanation.
func Intent(cfg Config) Scorer {
	return ScorerFunc(func(in Input) Component {
		intent := in.Observation.Classifier.Intent
		affect := in.Observation.Classifier.Affect
		action := in.Observation.Action.Type

		allowed, ok := IntentPriorities[intent]
		if !ok {
			allowed = IntentPriorities[classifier.IntentUnknown]
		}

		score, band := 0.2, BandMismatch
		if i := slices.Index(allowed, action); i >= 0 && i < len(bandScores) {
			score, band = bandScores[i].score, bandScores[i].band
		}
		if affect.Distressed() && action == policy.ActionExplain && score < 0.7 {
			score, band = 0.7, BandAffectOverride
		}

		var flags []string
		if score < 0.6 {
			flags = append(flags, "intent_action_mismatch")
		}
		names := make([]string, len(allowed))
		for i, a := range allowed {
			names[i] = string(a)
		}
		return Component{
			Score: round4(score),
			Details: map[string]any{
				"intent":          string(intent),
				"affect":          string(affect),
				"action_type":     string(action),
				"band":            band,
				"allowed_actions": names,
			},
			Flags: flags,
		}
	})
}

// Gating penalizes responses that skip the focus concept or drift to
// concepts later on the learning path.
func Gating(cfg Config) Scorer {
	return ScorerFunc(func(in Input) Component {
		lowered := strings.ToLower(in.Response)
		focus := in.Observation.Concept()
		path := in.Observation.Tutor.LearningPath

		score := 1.0
		var flags []string
		violations := []string{}

		if focus != "" && !strings.Contains(lowered, strings.ToLower(focus)) {
			score -= 0.4
			violations = append(violations, "focus_concept_missing")
		}

		drift := []string{}
		if i := slices.IndexFunc(path, func(c string) bool { return strings.EqualFold(c, focus) }); focus != "" && i >= 0 {
			for _, term := range path[i+1:] {
				if term != "" && strings.Contains(lowered, strings.ToLower(term)) {
					drift = append(drift, term)
				}
			}
		}
		if len(drift) > 0 {
			score -= math.Min(cfg.AdvancedTermPenalty, 0.6)
			violations = append(violations, "advanced_terms:"+strings.Join(drift, ","))
			flags = append(flags, "advanced_concept_drift")
		}

		score = math.Max(score, 0)
		if score < 0.5 {
			flags = append(flags, "prereq_gating_failed")
		}
		return Component{
			Score: round4(score),
			Details: map[string]any{
				"focus_concept":           focus,
				"learning_path":           path,
				"advanced_terms_detected": drift,
				"violations":              violations,
			},
			Flags: flags,
		}
	})
}

// Grounding compares the cited chunk ids with the retrieved ones.
func Grounding(cfg Config) Scorer {
	return ScorerFunc(func(in Input) Component {
		retrieved := in.Observation.Retrieval.ChunkIDs
		cited := in.cited()

		unknown := []string{}
		for _, id := range cited {
			if !slices.Contains(retrieved, id) {
				unknown = append(unknown, id)
			}
		}
		missing := []string{}
		for _, id := range retrieved {
			if !slices.Contains(cited, id) {
				missing = append(missing, id)
			}
		}

		var score float64
		var flags []string
		switch {
		case len(cited) > 0 && len(unknown) > 0:
			score = 0.4
			flags = append(flags, "unknown_grounding_ids")
		case len(cited) > 0 && len(missing) > 0:
			score = 0.85
		case len(cited) > 0:
			score = 1.0
		case len(retrieved) > 0:
			score = 0.6
		default:
			score = 0.5
		}
		if score < 0.6 {
			flags = append(flags, "grounding_low")
		}
		return Component{
			Score: round4(score),
			Details: map[string]any{
				"retrieved_ids": retrieved,
				"cited_ids":     cited,
				"missing_ids":   missing,
				"unknown_ids":   unknown,
			},
			Flags: flags,
		}
	})
}

var sentenceBreak = regexp.MustCompile(`[.!?]+\s*`)

func avgSentenceLength(text string) float64 {
	var lengths []int
	for _, s := range sentenceBreak.Split(strings.TrimSpace(text), -1) {
		if s != "" {
			lengths = append(lengths, len(strings.Fields(s)))
		}
	}
	if len(lengths) == 0 {
		return float64(len(strings.Fields(text)))
	}
	total := 0
	for _, n := range lengths {
		total += n
	}
	return float64(total) / float64(len(lengths))
}

// Style checks length, sentence length and banned phrases.
func Style(cfg Config) Scorer {
	return ScorerFunc(func(in Input) Component {
		words := len(strings.Fields(in.Response))
		avg := avgSentenceLength(in.Response)

		score := 1.0
		var flags []string
		if words < cfg.MinWords {
			score -= math.Min(0.5, float64(cfg.MinWords-words)/float64(cfg.MinWords))
			flags = append(flags, "response_too_short")
		}
		if words > cfg.MaxWords {
			score -= math.Min(0.4, float64(words-cfg.MaxWords)/float64(cfg.MaxWords))
			flags = append(flags, "response_too_long")
		}
		if avg > 32 {
			score -= 0.1
			flags = append(flags, "long_sentences")
		}

		lowered := strings.ToLower(in.Response)
		banned := []string{}
		for _, p := range cfg.BannedPhrases {
			if p != "" && strings.Contains(lowered, strings.ToLower(p)) {
				banned = append(banned, p)
			}
		}
		if len(banned) > 0 {
			score = math.Min(score, 0.2)
			flags = append(flags, "banned_phrase")
		}

		return Component{
			Score: round4(clamp01(score)),
			Details: map[string]any{
				"word_count":          words,
				"avg_sentence_length": avg,
				"banned_hits":         banned,
			},
			Flags: flags,
		}
	})
}

package reward

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/policy"
)

// StepScore is one step of the stepwise rubric.
type StepScore struct {
	Step     string            `json:"step"`
	Score    float64           `json:"score"`
	Weight   float64           `json:"weight"`
	Evidence map[string]string `json:"evidence"`
	Feedback string            `json:"feedback"`
}

var stepLabels = map[string]string{
	StepUnderstand: "Student Understanding",
	StepPedagogy:   "Pedagogy Selection",
	StepRetrieve:   "Content Retrieval",
	StepStructure:  "Response Structure",
	StepOutput:     "Output Quality",
	StepFormative:  "Formative Assessment",
}

// chunkDifficulty lists the chunk difficulties that suit each level.
var chunkDifficulty = map[policy.Level][]string{
	policy.LevelBeginner:   {"introductory"},
	policy.LevelDeveloping: {"introductory", "intermediate"},
	policy.LevelProficient: {"intermediate"},
	policy.LevelMastering:  {"intermediate", "advanced"},
}

var flowMarkers = [][]string{
	{"first", "initially", "to start"},
	{"then", "next", "after"},
	{"finally", "in conclusion", "overall"},
}

var (
	reflectionPrompts = []string{"what do you think", "can you explain", "how would you", "try"}
	nextStepMarkers   = []string{"next", "then", "after this", "once you understand"}
)

// Stepwise grades the turn as six reasoning steps, from understanding
// the learner to checking their understanding, and combines them with
// the configured step weights.
func Stepwise(cfg Config) Scorer {
	weights := cfg.normalizedStepWeights()
	return ScorerFunc(func(in Input) Component {
		steps := []StepScore{
			understandStep(in),
			pedagogyStep(in),
			retrieveStep(in),
			structureStep(in),
			outputStep(cfg, in),
			formativeStep(in),
		}

		var overall float64
		strong, weak := []string{}, []string{}
		scoreMap := make(map[string]map[string]float64, len(steps))
		for i := range steps {
			s := &steps[i]
			s.Score = min(1, s.Score)
			s.Weight = weights[s.Step]
			s.Feedback = stepFeedback(stepLabels[s.Step], s.Score, s.Evidence)
			overall += s.Score * s.Weight
			if s.Score > 0.8 {
				strong = append(strong, s.Step)
			}
			if s.Score < 0.5 {
				weak = append(weak, s.Step)
			}
			scoreMap[s.Step] = map[string]float64{"score": s.Score, "weight": s.Weight}
		}

		var flags []string
		if len(weak) >= 2 {
			flags = append(flags, "stepwise_needs_improvement")
		}
		return Component{
			Score: round4(overall),
			Details: map[string]any{
				"step_scores":     steps,
				"step_scores_map": scoreMap,
				"feedback":        overallFeedback(steps, weak),
				"strong_steps":    strong,
				"weak_steps":      weak,
			},
			Flags: flags,
		}
	})
}

func understandStep(in Input) StepScore {
	obs := in.Observation
	s := StepScore{Step: StepUnderstand, Evidence: map[string]string{}}
	switch conf := obs.Classifier.Confidence; {
	case conf > 0.7:
		s.Score += 0.4
		s.Evidence["classification"] = "high_confidence"
	case conf > 0.5:
		s.Score += 0.2
		s.Evidence["classification"] = "medium_confidence"
	default:
		s.Evidence["classification"] = "low_confidence"
	}
	if n := len(obs.Tutor.MasterySnapshot); n > 0 {
		s.Score += 0.3
		s.Evidence["mastery"] = fmt.Sprintf("%d fields", n)
	}
	if n := len(obs.Tutor.LearningPath); n > 0 {
		s.Score += 0.3
		s.Evidence["learning_path"] = fmt.Sprintf("%d concepts", n)
	}
	return s
}

func stepLevel(in Input) policy.Level {
	return policy.ParseLevel(string(in.Observation.Tutor.ConceptLevel))
}

func pedagogyStep(in Input) StepScore {
	obs := in.Observation
	action := obs.Action.Type
	s := StepScore{Step: StepPedagogy, Evidence: map[string]string{}}

	switch affect := obs.Classifier.Affect; {
	case (affect == classifier.AffectConfused || affect == classifier.AffectFrustrated) &&
		(action == policy.ActionHint || action == policy.ActionExplain):
		s.Score += 0.3
		s.Evidence["affect_match"] = "appropriate_for_confusion"
	case affect == classifier.AffectEngaged && (action == policy.ActionAsk || action == policy.ActionReflect):
		s.Score += 0.3
		s.Evidence["affect_match"] = "appropriate_for_engagement"
	}

	switch intent := obs.Classifier.Intent; {
	case intent == classifier.IntentQuestion && (action == policy.ActionExplain || action == policy.ActionHint):
		s.Score += 0.3
		s.Evidence["intent_match"] = "answering_question"
	case intent == classifier.IntentAnswer && (action == policy.ActionReflect || action == policy.ActionAsk):
		s.Score += 0.3
		s.Evidence["intent_match"] = "prompting_reflection"
	}

	expected := policy.RoleSequence(stepLevel(in))
	overlap := 0
	for _, r := range expected {
		if slices.Contains(obs.Retrieval.PedagogyRoles, r) {
			overlap++
		}
	}
	s.Score += 0.4 * float64(overlap) / float64(len(expected))
	s.Evidence["pedagogy_roles"] = fmt.Sprintf("%d/%d appropriate", overlap, len(expected))
	return s
}

func retrieveStep(in Input) StepScore {
	ret := in.Observation.Retrieval
	s := StepScore{Step: StepRetrieve, Evidence: map[string]string{}}

	switch n := len(ret.ChunkIDs); {
	case n >= 3:
		s.Score += 0.3
		s.Evidence["chunk_count"] = fmt.Sprintf("%d chunks", n)
	case n >= 1:
		s.Score += 0.15
		s.Evidence["chunk_count"] = fmt.Sprintf("%d chunks (low)", n)
	default:
		s.Evidence["chunk_count"] = "no_chunks"
	}

	head := ret.Chunks[:min(3, len(ret.Chunks))]
	if focus := strings.ToLower(strings.TrimSpace(in.Observation.Tutor.FocusConcept)); focus != "" && len(head) > 0 {
		mentions := 0
		for _, c := range head {
			if strings.Contains(strings.ToLower(c.Snippet), focus) {
				mentions++
			}
		}
		if mentions > 0 {
			s.Score += 0.3 * float64(mentions) / float64(len(head))
			s.Evidence["concept_mentions"] = fmt.Sprintf("%d/%d", mentions, len(head))
		}
	}

	expected, ok := chunkDifficulty[stepLevel(in)]
	if !ok {
		expected = []string{"intermediate"}
	}
	match := len(head) > 0
	for _, c := range head {
		d := strings.ToLower(strings.TrimSpace(c.Difficulty))
		if d == "" {
			d = "intermediate"
		}
		if !slices.Contains(expected, d) {
			match = false
			break
		}
	}
	if match {
		s.Score += 0.4
		s.Evidence["difficulty"] = "appropriate"
	} else {
		s.Evidence["difficulty"] = "may_be_too_advanced"
	}
	return s
}

func structureStep(in Input) StepScore {
	text := in.Response
	s := StepScore{Step: StepStructure, Evidence: map[string]string{}}

	switch words := len(strings.Fields(text)); {
	case words >= 50 && words <= 200:
		s.Score += 0.4
		s.Evidence["length"] = fmt.Sprintf("%d words (good)", words)
	case words >= 30 && words <= 250:
		s.Score += 0.2
		s.Evidence["length"] = fmt.Sprintf("%d words (acceptable)", words)
	default:
		s.Evidence["length"] = fmt.Sprintf("%d words (too_short/long)", words)
	}

	if n := len(strings.Split(text, "\n\n")); n >= 2 {
		s.Score += 0.3
		s.Evidence["structure"] = fmt.Sprintf("%d paragraphs", n)
	}

	lowered := strings.ToLower(text)
	stages := 0
	for _, group := range flowMarkers {
		if containsAny(lowered, group) {
			stages++
		}
	}
	if stages >= 2 {
		s.Score += 0.3
		s.Evidence["flow"] = fmt.Sprintf("%d/3 stages marked", stages)
	}
	return s
}

func outputStep(cfg Config, in Input) StepScore {
	f := rubricFeatures(cfg, in)
	var sum float64
	for _, v := range f {
		sum += v
	}
	return StepScore{
		Step:  StepOutput,
		Score: sum / float64(len(f)),
		Evidence: map[string]string{
			FeatureDirectAnswer: fmt.Sprint(f[FeatureDirectAnswer]),
			FeatureExample:      fmt.Sprint(f[FeatureExample]),
			FeatureReasoning:    fmt.Sprint(f[FeatureReasoning]),
		},
	}
}

func formativeStep(in Input) StepScore {
	s := StepScore{Step: StepFormative, Evidence: map[string]string{}}
	if strings.HasSuffix(strings.TrimSpace(in.Response), "?") {
		s.Score += 0.5
		s.Evidence["question"] = "present"
	}
	lowered := strings.ToLower(in.Response)
	if containsAny(lowered, reflectionPrompts) {
		s.Score += 0.3
		s.Evidence["reflection_prompt"] = "present"
	}
	if containsAny(lowered, nextStepMarkers) {
		s.Score += 0.2
		s.Evidence["next_steps"] = "present"
	}
	return s
}

func formatEvidence(ev map[string]string) string {
	keys := slices.Sorted(maps.Keys(ev))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + ev[k]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func stepFeedback(label string, score float64, ev map[string]string) string {
	switch {
	case score > 0.8:
		return fmt.Sprintf("%s: Excellent (%.2f)", label, score)
	case score > 0.6:
		return fmt.Sprintf("%s: Good (%.2f) - %s", label, score, formatEvidence(ev))
	case score > 0.4:
		return fmt.Sprintf("%s: Needs improvement (%.2f) - %s", label, score, formatEvidence(ev))
	default:
		return fmt.Sprintf("%s: Poor (%.2f) - Critical issues: %s", label, score, formatEvidence(ev))
	}
}

func overallFeedback(steps []StepScore, weak []string) string {
	if len(weak) == 0 {
		return "Strong performance across all reasoning steps."
	}
	lines := []string{"Areas for improvement:"}
	for _, s := range steps {
		if slices.Contains(weak, s.Step) {
			lines = append(lines, "- "+s.Feedback)
		}
	}
	return strings.Join(lines, "\n")
}

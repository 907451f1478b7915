package reward

import (
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/mastery"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

const goodResponse = "Limits describe the value a function approaches as the input gets close to a point. " +
	"This matters because continuity and rates of change are built on it. " +
	"For example, as x approaches 2, the expression x squared approaches 4.\n\n" +
	"First look at values from the left, then from the right. " +
	"What do you think the limit of 1/x is as x grows?"

func limitsObservation() tutor.Observation {
	ids := []string{"lim-1", "lim-2"}
	return tutor.Observation{
		Classifier: classifier.Classification{
			Intent:     classifier.IntentQuestion,
			Affect:     classifier.AffectNeutral,
			Confidence: 0.9,
		},
		Tutor: tutor.TutorBlock{
			FocusConcept:    "Limits",
			ConceptLevel:    policy.LevelBeginner,
			LearningPath:    []string{"Limits", "Derivatives"},
			MasterySnapshot: mastery.Map{"Limits": {Mastery: 0.2, Attempts: 1}},
		},
		Retrieval: tutor.RetrievalBlock{
			ChunkIDs:       ids,
			SourceChunkIDs: ids,
			PedagogyRoles:  policy.RoleSequence(policy.LevelBeginner),
			Chunks: []tutor.ChunkSummary{
				{ID: "lim-1", Snippet: "Limits describe the value a function approaches.", Difficulty: "introductory"},
				{ID: "lim-2", Snippet: "A worked limits example.", Difficulty: "introductory"},
			},
		},
		Action: tutor.ActionBlock{Type: policy.ActionExplain, SourceChunkIDs: ids},
	}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEngine_StrongResponseScoresFull(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	p := e.Score(Input{Observation: limitsObservation(), Response: goodResponse})

	for _, name := range Names[1:] {
		c, ok := p.Components[name]
		if !ok {
			t.Fatalf("component %s missing", name)
		}
		if c.Score != 1 {
			t.Errorf("%s = %v, want 1 (flags %v, details %v)", name, c.Score, c.Flags, c.Details)
		}
	}
	if _, ok := p.Components[NameStepwise]; ok {
		t.Errorf("stepwise reported while disabled")
	}
	if !approx(p.Total, 1) {
		t.Errorf("total = %v, want 1", p.Total)
	}
	if len(p.Flags) != 0 {
		t.Errorf("flags = %v, want none", p.Flags)
	}
}

func TestEngine_NormalizedWeightsSumToOne(t *testing.T) {
	cfgs := map[string]Config{
		"default": DefaultConfig(),
		"stepwise": func() Config {
			c := DefaultConfig()
			c.Stepwise = true
			c.Weights[NameStepwise] = 0.2
			return c
		}(),
		"export only": func() Config {
			c := DefaultConfig()
			c.ExportStepScores = true
			return c
		}(),
	}
	for name, cfg := range cfgs {
		t.Run(name, func(t *testing.T) {
			p := newEngine(t, cfg).Score(Input{Observation: limitsObservation(), Response: "Hello there"})
			var sum, total float64
			for n, w := range p.NormalizedWeights {
				sum += w
				total += w * p.Components[n].Score
			}
			if !approx(sum, 1) {
				t.Errorf("normalized weights sum = %v", sum)
			}
			if !approx(total, p.Total) {
				t.Errorf("total = %v, weighted sum = %v", p.Total, total)
			}
			if p.Total < 0 || p.Total > 1 {
				t.Errorf("total %v out of range", p.Total)
			}
		})
	}
}

func TestEngine_StepwiseWeighting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stepwise = true
	cfg.Weights[NameStepwise] = 0.2

	p := newEngine(t, cfg).Score(Input{Observation: limitsObservation(), Response: goodResponse})
	if got := p.Components[NameStepwise].Score; !approx(got, 0.895) {
		t.Fatalf("stepwise = %v, want 0.895", got)
	}
	if want := (0.2*0.895 + 1.0) / 1.2; !approx(p.Total, want) {
		t.Errorf("total = %v, want %v", p.Total, want)
	}
}

func TestEngine_ExportedStepScoresDoNotCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExportStepScores = true

	p := newEngine(t, cfg).Score(Input{Observation: limitsObservation(), Response: goodResponse})
	if _, ok := p.Components[NameStepwise]; !ok {
		t.Fatal("stepwise not exported")
	}
	if _, ok := p.NormalizedWeights[NameStepwise]; ok {
		t.Error("exported stepwise carries a normalized weight")
	}
	if !approx(p.Total, 1) {
		t.Errorf("total = %v, want 1", p.Total)
	}
}

func TestEngine_ThresholdFlags(t *testing.T) {
	p := newEngine(t, DefaultConfig()).Score(Input{Observation: limitsObservation(), Response: "Hello there"})

	for _, want := range []string{"rubric_incomplete", "rubric_below_threshold", "response_too_short", "gating_below_threshold"} {
		if !slices.Contains(p.Flags, want) {
			t.Errorf("flags %v missing %s", p.Flags, want)
		}
	}
	seen := map[string]bool{}
	for _, f := range p.Flags {
		if seen[f] {
			t.Errorf("duplicate flag %s", f)
		}
		seen[f] = true
	}
}

func TestGrounding(t *testing.T) {
	tests := []struct {
		name      string
		retrieved []string
		cited     []string
		want      float64
		flags     []string
	}{
		{"exact", []string{"a", "b"}, []string{"a", "b"}, 1.0, nil},
		{"partial", []string{"a", "b"}, []string{"a"}, 0.85, nil},
		{"unknown", []string{"a", "b"}, []string{"a", "x"}, 0.4, []string{"unknown_grounding_ids", "grounding_low"}},
		{"uncited", []string{"a"}, nil, 0.6, nil},
		{"nothing", nil, nil, 0.5, []string{"grounding_low"}},
	}
	g := Grounding(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := tutor.Observation{Retrieval: tutor.RetrievalBlock{ChunkIDs: tt.retrieved}}
			c := g.Score(Input{Observation: obs, CitedIDs: tt.cited})
			if c.Score != tt.want {
				t.Errorf("score = %v, want %v", c.Score, tt.want)
			}
			if !slices.Equal(c.Flags, tt.flags) {
				t.Errorf("flags = %v, want %v", c.Flags, tt.flags)
			}
		})
	}
}

func TestGrounding_FallsBackToObservationCitations(t *testing.T) {
	obs := limitsObservation()
	obs.Retrieval.SourceChunkIDs = nil
	obs.Action.SourceChunkIDs = []string{"lim-1"}

	c := Grounding(DefaultConfig()).Score(Input{Observation: obs})
	if c.Score != 0.85 {
		t.Errorf("score = %v, want 0.85", c.Score)
	}
}

func TestIntent(t *testing.T) {
	tests := []struct {
		intent classifier.Intent
		affect classifier.Affect
		action policy.Action
		want   float64
		band   string
	}{
		{classifier.IntentQuestion, classifier.AffectNeutral, policy.ActionExplain, 1.0, BandPreferred},
		{classifier.IntentQuestion, classifier.AffectNeutral, policy.ActionHint, 0.8, BandAcceptable},
		{classifier.IntentQuestion, classifier.AffectNeutral, policy.ActionWorkedExample, 0.6, BandFallback},
		{classifier.IntentQuestion, classifier.AffectNeutral, policy.ActionAsk, 0.2, BandMismatch},
		{classifier.IntentGreeting, classifier.AffectNeutral, policy.ActionExplain, 0.8, BandAcceptable},
		{classifier.IntentAnswer, classifier.AffectConfused, policy.ActionExplain, 0.7, BandAffectOverride},
		{classifier.IntentAnswer, classifier.AffectFrustrated, policy.ActionHint, 0.2, BandMismatch},
	}
	s := Intent(DefaultConfig())
	for _, tt := range tests {
		obs := tutor.Observation{
			Classifier: classifier.Classification{Intent: tt.intent, Affect: tt.affect},
			Action:     tutor.ActionBlock{Type: tt.action},
		}
		c := s.Score(Input{Observation: obs})
		if c.Score != tt.want || c.Details["band"] != tt.band {
			t.Errorf("%s/%s/%s = %v %v, want %v %v", tt.intent, tt.affect, tt.action, c.Score, c.Details["band"], tt.want, tt.band)
		}
		mismatch := slices.Contains(c.Flags, "intent_action_mismatch")
		if mismatch != (tt.want < 0.6) {
			t.Errorf("%s/%s: mismatch flag = %v", tt.intent, tt.action, mismatch)
		}
	}
}

func TestGating(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     float64
		flags    []string
	}{
		{"on focus", "Limits are about approaching a value.", 1.0, nil},
		{"drift", "Limits lead straight into derivatives.", 0.6, []string{"advanced_concept_drift"}},
		{"off focus with drift", "Derivatives are rates of change.", 0.2, []string{"advanced_concept_drift", "prereq_gating_failed"}},
		{"off focus", "Functions map inputs to outputs.", 0.6, nil},
	}
	s := Gating(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := s.Score(Input{Observation: limitsObservation(), Response: tt.response})
			if c.Score != tt.want {
				t.Errorf("score = %v, want %v", c.Score, tt.want)
			}
			if !slices.Equal(c.Flags, tt.flags) {
				t.Errorf("flags = %v, want %v", c.Flags, tt.flags)
			}
		})
	}
}

func TestRubric(t *testing.T) {
	s := Rubric(DefaultConfig())

	full := s.Score(Input{Observation: limitsObservation(), Response: goodResponse})
	if full.Score != 1 {
		t.Errorf("full rubric = %v, want 1", full.Score)
	}

	empty := s.Score(Input{Observation: limitsObservation(), Response: "Hello there"})
	if empty.Score != 0 || !slices.Equal(empty.Flags, []string{"rubric_incomplete"}) {
		t.Errorf("empty rubric = %v %v", empty.Score, empty.Flags)
	}

	// Formative alone counts three quarters.
	formative := s.Score(Input{Observation: limitsObservation(), Response: "Hello there?"})
	if want := round4(0.75 / 3.75); formative.Score != want {
		t.Errorf("formative only = %v, want %v", formative.Score, want)
	}
}

func TestStyle(t *testing.T) {
	s := Style(DefaultConfig())

	short := s.Score(Input{Response: "Too short."})
	if short.Score != 0.5 || !slices.Equal(short.Flags, []string{"response_too_short"}) {
		t.Errorf("short = %v %v", short.Score, short.Flags)
	}

	long := s.Score(Input{Response: strings.Repeat("word ", 400)})
	if !slices.Contains(long.Flags, "response_too_long") || !slices.Contains(long.Flags, "long_sentences") {
		t.Errorf("long flags = %v", long.Flags)
	}
	if want := round4(1 - 0.4 - 0.1); long.Score != want {
		t.Errorf("long = %v, want %v", long.Score, want)
	}

	banned := s.Score(Input{Response: "As an AI language model " + goodResponse})
	if banned.Score != 0.2 || !slices.Contains(banned.Flags, "banned_phrase") {
		t.Errorf("banned = %v %v", banned.Score, banned.Flags)
	}
}

func TestStepwise(t *testing.T) {
	c := Stepwise(DefaultConfig()).Score(Input{Observation: limitsObservation(), Response: goodResponse})
	if !approx(c.Score, 0.895) {
		t.Fatalf("score = %v, want 0.895", c.Score)
	}

	byStep := c.Details["step_scores_map"].(map[string]map[string]float64)
	want := map[string]float64{
		StepUnderstand: 1,
		StepPedagogy:   0.7,
		StepRetrieve:   0.85,
		StepStructure:  1,
		StepOutput:     1,
		StepFormative:  1,
	}
	for step, score := range want {
		if got := byStep[step]["score"]; !approx(got, score) {
			t.Errorf("%s = %v, want %v", step, got, score)
		}
	}
	if got := c.Details["feedback"]; got != "Strong performance across all reasoning steps." {
		t.Errorf("feedback = %q", got)
	}
	if len(c.Flags) != 0 {
		t.Errorf("flags = %v", c.Flags)
	}
}

func TestStepwise_WeakSteps(t *testing.T) {
	obs := tutor.Observation{Action: tutor.ActionBlock{Type: policy.ActionAsk}}
	c := Stepwise(DefaultConfig()).Score(Input{Observation: obs, Response: "ok"})

	if !slices.Contains(c.Flags, "stepwise_needs_improvement") {
		t.Errorf("flags = %v", c.Flags)
	}
	feedback, _ := c.Details["feedback"].(string)
	if !strings.HasPrefix(feedback, "Areas for improvement:\n- ") {
		t.Errorf("feedback = %q", feedback)
	}
}

func TestStepWeightsNormalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepWeights = map[string]float64{StepUnderstand: -1, StepFormative: 2}

	w := cfg.normalizedStepWeights()
	if w[StepUnderstand] != 0 || w[StepFormative] != 1 {
		t.Errorf("weights = %v", w)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero min words", func(c *Config) { c.MinWords = 0 }},
		{"max below min", func(c *Config) { c.MaxWords = c.MinWords - 1 }},
		{"penalty above one", func(c *Config) { c.AdvancedTermPenalty = 1.5 }},
		{"negative weight", func(c *Config) { c.Weights[NameStyle] = -0.1 }},
		{"unknown component", func(c *Config) { c.Weights["tone"] = 0.1 }},
		{"threshold above one", func(c *Config) { c.Thresholds[NameRubric] = 2 }},
		{"no active weight", func(c *Config) {
			for k := range c.Weights {
				c.Weights[k] = 0
			}
		}},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TUTOR_RL_W_RUBRIC", "0.5")
	t.Setenv("TUTOR_RL_T_STYLE", "0.3")
	t.Setenv("TUTOR_RL_MIN_WORDS", "10")
	t.Setenv("TUTOR_RL_BANNED_PHRASES", "foo, Bar ,")
	t.Setenv("TUTOR_RL_STEPWISE_ENABLED", "true")
	t.Setenv("TUTOR_STEP_WEIGHT_FORMATIVE", "0.5")

	cfg := ConfigFromEnv()
	if cfg.Weights[NameRubric] != 0.5 || cfg.Thresholds[NameStyle] != 0.3 {
		t.Errorf("weights %v thresholds %v", cfg.Weights, cfg.Thresholds)
	}
	if cfg.MinWords != 10 || !cfg.Stepwise {
		t.Errorf("min words %d stepwise %v", cfg.MinWords, cfg.Stepwise)
	}
	if !slices.Equal(cfg.BannedPhrases, []string{"foo", "bar"}) {
		t.Errorf("banned = %v", cfg.BannedPhrases)
	}
	if cfg.StepWeights[StepFormative] != 0.5 {
		t.Errorf("step weights = %v", cfg.StepWeights)
	}
}

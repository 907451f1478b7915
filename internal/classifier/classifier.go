// Package classifier turns a learner message into a validated intent,
// affect and concept judgment.
package classifier

import (
	"context"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/prompts"
)

// DefaultConfidence is reported when the generation service is unavailable.
const DefaultConfidence = 0.3

// Input is the context for one classification.
type Input struct {
	Message        string
	TargetConcepts []string
	LastConcept    string
}

// Config holds generation settings for the classifier.
type Config struct {
	MaxTokens   int
	Temperature float64
	ModelHint   string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   256,
		Temperature: 0.1,
	}
}

// Adapter classifies messages through the generation service.
type Adapter struct {
	svc     *llm.JSONService
	prompts *prompts.Set
	cfg     Config
	log     *logger.Logger
}

// New creates an Adapter. A nil prompt set uses the baseline.
func New(svc *llm.JSONService, set *prompts.Set, cfg Config, log *logger.Logger) *Adapter {
	if set == nil {
		set = prompts.Baseline()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Adapter{svc: svc, prompts: set, cfg: cfg, log: log}
}

// DefaultConcept is the concept assumed when the message names none.
func DefaultConcept(in Input) string {
	if c := strings.TrimSpace(in.LastConcept); c != "" {
		return c
	}
	for _, c := range in.TargetConcepts {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// Default is the judgment used when classification fails.
func Default(in Input) Classification {
	return Classification{
		Intent:     IntentUnknown,
		Affect:     AffectNeutral,
		Concept:    DefaultConcept(in),
		Confidence: DefaultConfidence,
		Fallback:   true,
	}
}

// Classify never fails: generation errors yield Default(in).
func (a *Adapter) Classify(ctx context.Context, in Input) Classification {
	def := Default(in)

	prompt, err := a.prompts.Render(prompts.Classify, prompts.Data{
		Message:        in.Message,
		TargetConcepts: prompts.ConceptList(in.TargetConcepts),
		LastConcept:    in.LastConcept,
	})
	if err != nil {
		a.log.Warn("classify prompt render failed", "fallback", "classifier_default", "error", err)
		return def
	}

	res := a.svc.Call(ctx, llm.JSONRequest{
		Purpose:    "classify",
		UserPrompt: prompt,
		Schema:     Schema,
		DefaultPayload: map[string]any{
			"intent":           string(def.Intent),
			"affect":           string(def.Affect),
			"concept":          def.Concept,
			"confidence":       def.Confidence,
			"needs_escalation": false,
		},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		ModelHint:   a.cfg.ModelHint,
	})

	out := Normalize(res.Payload, def.Concept)
	if res.Fallback {
		out.Fallback = true
		a.log.Warn("classification degraded", "fallback", "classifier_default", "reason", llm.FallbackReason(res.Err))
	}
	return out
}

// Normalize validates a raw payload. Out-of-range enums become the
// unknown/neutral variants, a blank concept becomes defaultConcept and a
// non-numeric confidence becomes 0.
func Normalize(p llm.Payload, defaultConcept string) Classification {
	esc, _ := p.Bool("needs_escalation")
	return Classification{
		Intent:          ParseIntent(p.String("intent", "")),
		Affect:          ParseAffect(p.String("affect", "")),
		Concept:         p.String("concept", defaultConcept),
		Confidence:      clamp01(p.FloatOr("confidence", 0)),
		NeedsEscalation: esc,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

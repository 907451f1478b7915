package mastery

import (
	"context"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/prompts"
)

// DefaultQuality is the answer quality assumed when no judgment is available.
const DefaultQuality = 0.5

// Assessment is the judgment of one learner answer. Correct is nil when
// correctness could not be decided.
type Assessment struct {
	Correct  *bool   `json:"correct"`
	Quality  float64 `json:"quality"`
	Fallback bool    `json:"fallback,omitempty"`
}

// AssessInput is what the assessor sees.
type AssessInput struct {
	Concept  string
	Question string // the tutor's previous prompt, if any
	Answer   string
	Context  string
}

// Assessor judges learner answers through the generation service.
type Assessor struct {
	svc     *llm.JSONService
	prompts *prompts.Set
	log     *logger.Logger
}

// NewAssessor creates an Assessor. A nil prompt set uses the baseline.
func NewAssessor(svc *llm.JSONService, set *prompts.Set, log *logger.Logger) *Assessor {
	if set == nil {
		set = prompts.Baseline()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Assessor{svc: svc, prompts: set, log: log}
}

var assessSchema = &llm.Schema{
	Name:        "assess-answer",
	Description: "Correctness and quality of a learner answer",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"correct": map[string]any{"type": []any{"boolean", "null"}},
			"quality": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required":             []any{"correct", "quality"},
		"additionalProperties": false,
	},
}

// Assess never fails; on any error the answer is unjudged with default quality.
func (a *Assessor) Assess(ctx context.Context, in AssessInput) Assessment {
	def := Assessment{Quality: DefaultQuality, Fallback: true}

	prompt, err := a.prompts.Render(prompts.Assess, prompts.Data{
		Concept:  in.Concept,
		Question: in.Question,
		Message:  in.Answer,
		Context:  in.Context,
	})
	if err != nil {
		a.log.Warn("assess prompt render failed", "fallback", "assessment_default", "error", err)
		return def
	}

	res := a.svc.Call(ctx, llm.JSONRequest{
		Purpose:        "assess",
		UserPrompt:     prompt,
		Schema:         assessSchema,
		DefaultPayload: map[string]any{"correct": nil, "quality": DefaultQuality},
		MaxTokens:      128,
	})
	if res.Fallback {
		a.log.Warn("assessment degraded", "fallback", "assessment_default", "reason", llm.FallbackReason(res.Err))
		return def
	}

	out := Assessment{Quality: clamp01(res.Payload.FloatOr("quality", DefaultQuality))}
	if v, ok := res.Payload.Bool("correct"); ok {
		out.Correct = &v
	}
	return out
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

package critic

import (
	"context"
	"errors"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/prompts"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

// ErrNoCandidates is returned when there is nothing to rank.
var ErrNoCandidates = errors.New("no candidates to rank")

// DefaultReason explains a heuristic decision.
const DefaultReason = "selected highest reward surrogate"

// Scored is a candidate as the ranker sees it.
type Scored struct {
	Action     policy.Action
	Response   string
	Reward     float64 // reward total
	Confidence float64 // critic confidence
}

// Decision is the ranking of one candidate set. Chosen indexes the
// candidates in the order they were given and Scores has one entry per
// candidate.
type Decision struct {
	Chosen     int       `json:"chosen"`
	Scores     []float64 `json:"scores"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Source     string    `json:"source"`
	PromptSet  string    `json:"prompt_set,omitempty"`
}

// HeuristicDecision scores each candidate as 0.4 + 0.5·reward +
// 0.1·confidence and picks the first highest.
func HeuristicDecision(cands []Scored) Decision {
	d := Decision{Scores: make([]float64, len(cands)), Reason: DefaultReason, Source: SourceHeuristic}
	best := -1.0
	for i, c := range cands {
		s := clamp01(0.4 + 0.5*c.Reward + 0.1*c.Confidence)
		d.Scores[i] = round4(s)
		if s > best {
			d.Chosen, best = i, s
		}
	}
	d.Confidence = round4(clamp01(best))
	return d
}

// Ranker picks the preferred candidate, consulting the generation service
// when one is configured.
type Ranker struct {
	svc     *llm.JSONService
	prompts *prompts.Set
	cfg     Config
	log     *logger.Logger
}

// NewRanker creates a Ranker. A nil or disabled service makes it
// heuristic only.
func NewRanker(svc *llm.JSONService, set *prompts.Set, cfg Config, log *logger.Logger) *Ranker {
	if set == nil {
		set = prompts.Baseline()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Ranker{svc: svc, prompts: set, cfg: cfg, log: log}
}

var preferenceSchema = &llm.Schema{
	Name:        "preference",
	Description: "Choice of the best tutor response among candidates",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"chosen": map[string]any{"type": "integer", "minimum": 0},
			"scores": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"reason":     map[string]any{"type": "string"},
		},
		"required":             []any{"chosen", "scores", "confidence", "reason"},
		"additionalProperties": false,
	},
}

// Rank returns a decision whose chosen index is always within range and
// whose score vector always has one entry per candidate.
func (r *Ranker) Rank(ctx context.Context, obs tutor.Observation, cands []Scored) (Decision, error) {
	if len(cands) == 0 {
		return Decision{}, ErrNoCandidates
	}
	def := HeuristicDecision(cands)
	def.PromptSet = r.prompts.Name()
	if !r.svc.Enabled() {
		return def, nil
	}

	entries := make([]prompts.Candidate, len(cands))
	for i, c := range cands {
		entries[i] = prompts.Candidate{
			Action:   string(c.Action),
			Reward:   c.Reward,
			Response: truncate(strings.TrimSpace(c.Response), 180),
		}
	}
	prompt, err := r.prompts.Render(prompts.Preference, prompts.Data{
		Concept:    obs.Concept(),
		Message:    obs.User.Message,
		Candidates: entries,
	})
	if err != nil {
		r.log.Warn("preference prompt render failed", "fallback", "preference_heuristic", "error", err)
		return def, nil
	}

	res := r.svc.Call(ctx, llm.JSONRequest{
		Purpose:    "preference",
		UserPrompt: prompt,
		Schema:     preferenceSchema,
		DefaultPayload: map[string]any{
			"chosen":     def.Chosen,
			"scores":     def.Scores,
			"confidence": def.Confidence,
			"reason":     def.Reason,
		},
		MaxTokens: r.cfg.MaxTokens,
		ModelHint: r.cfg.ModelHint,
	})
	if res.Fallback {
		r.log.Warn("preference degraded", "fallback", "preference_heuristic", "reason", llm.FallbackReason(res.Err))
		return def, nil
	}
	return repair(def, res.Payload, len(cands)), nil
}

// repair clamps a model decision into a valid one, keeping heuristic
// values for anything unusable.
func repair(def Decision, p llm.Payload, n int) Decision {
	chosen := int(p.FloatOr("chosen", float64(def.Chosen)))
	out := Decision{
		Chosen:     max(0, min(chosen, n-1)),
		Scores:     def.Scores,
		Confidence: round4(clamp01(p.FloatOr("confidence", def.Confidence))),
		Reason:     truncate(strings.TrimSpace(p.String("reason", "")), maxReason),
		Source:     SourceModel,
		PromptSet:  def.PromptSet,
	}
	if scores, ok := scoreVector(p, n); ok {
		out.Scores = scores
	}
	return out
}

func scoreVector(p llm.Payload, n int) ([]float64, bool) {
	raw, ok := p["scores"].([]any)
	if !ok || len(raw) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, v := range raw {
		f, ok := llm.Payload{"v": v}.Float("v")
		if !ok {
			return nil, false
		}
		out[i] = round4(clamp01(f))
	}
	return out, true
}

// Package critic judges tutor responses independently of the reward
// engine and ranks candidate responses for the same situation.
package critic

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/prompts"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

// Payload sources.
const (
	SourceHeuristic = "heuristic"
	SourceModel     = "model"
)

const (
	maxNotes       = 280
	heuristicNotes = 200
	maxReason      = 200
	contextCap     = 220
)

// Payload is a critic's judgment of one response.
type Payload struct {
	Clarity       float64 `json:"clarity"`
	Accuracy      float64 `json:"accuracy"`
	Support       float64 `json:"support"`
	Hallucination bool    `json:"hallucination_flag"`
	Confidence    float64 `json:"confidence"`
	Notes         string  `json:"notes"`

	// Source is heuristic when no model judgment was merged in.
	Source    string `json:"source"`
	PromptSet string `json:"prompt_set,omitempty"`
}

// Input is one response to judge.
type Input struct {
	Observation tutor.Observation
	Response    string
	// CitedIDs are the ids the response itself cited, if any.
	CitedIDs []string
}

// citedIDs unions the response's citations with the observed action's.
func (in Input) citedIDs() []string {
	var out []string
	for _, id := range slices.Concat(in.CitedIDs, in.Observation.Action.SourceChunkIDs) {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// Heuristic scores a response without the generation service. Clarity
// grows with length up to 120 words, accuracy rewards naming the focus
// concept and support measures citation overlap with retrieval.
func Heuristic(in Input) Payload {
	words := len(strings.Fields(in.Response))
	clarity := 0.2
	if words > 0 {
		clarity = clamp01(float64(words) / 120)
	}

	lowered := strings.ToLower(in.Response)
	focus := strings.ToLower(strings.TrimSpace(in.Observation.Tutor.FocusConcept))
	accuracy := 0.6
	if focus != "" && strings.Contains(lowered, focus) {
		accuracy = 0.85
	}
	if strings.Contains(lowered, "hallucinate") {
		accuracy = 0.4
	}

	retrieved := in.Observation.Retrieval.ChunkIDs
	cited := in.citedIDs()
	overlap := 0
	for _, id := range cited {
		if slices.Contains(retrieved, id) {
			overlap++
		}
	}
	support := 0.55
	switch {
	case len(retrieved) > 0 && len(cited) > 0:
		support = 0.6 + 0.4*float64(overlap)/float64(len(retrieved))
	case len(retrieved) > 0:
		support = 0.5
	}

	hallucination := support < 0.5 || accuracy < 0.5

	var notes []string
	if focus != "" {
		notes = append(notes, "focus="+focus)
	}
	if overlap > 0 {
		notes = append(notes, fmt.Sprintf("cited=%d", overlap))
	}
	if hallucination {
		notes = append(notes, "check grounding")
	}

	return Payload{
		Clarity:       round4(clarity),
		Accuracy:      round4(accuracy),
		Support:       round4(clamp01(support)),
		Hallucination: hallucination,
		Confidence:    round4(clamp01((clarity + accuracy + support) / 3)),
		Notes:         truncate(strings.Join(notes, ", "), heuristicNotes),
		Source:        SourceHeuristic,
	}
}

// Config holds generation settings for model judgments.
type Config struct {
	MaxTokens int
	ModelHint string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxTokens: 512}
}

// Critic merges an optional model judgment over the heuristic.
type Critic struct {
	svc     *llm.JSONService
	prompts *prompts.Set
	cfg     Config
	log     *logger.Logger
}

// New creates a Critic. A nil or disabled service makes it heuristic only.
func New(svc *llm.JSONService, set *prompts.Set, cfg Config, log *logger.Logger) *Critic {
	if set == nil {
		set = prompts.Baseline()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Critic{svc: svc, prompts: set, cfg: cfg, log: log}
}

var criticSchema = &llm.Schema{
	Name:        "critic-score",
	Description: "Quality judgment of a tutor response",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"clarity":            map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"accuracy":           map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"support":            map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"hallucination_flag": map[string]any{"type": "boolean"},
			"confidence":         map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"notes":              map[string]any{"type": "string"},
		},
		"required":             []any{"clarity", "accuracy", "support", "hallucination_flag", "confidence", "notes"},
		"additionalProperties": false,
	},
}

// Score never fails. Fields the model leaves out keep their heuristic
// values and every number is clamped to [0,1] after the merge.
func (c *Critic) Score(ctx context.Context, in Input) Payload {
	h := Heuristic(in)
	h.PromptSet = c.prompts.Name()
	if !c.svc.Enabled() {
		return h
	}

	prompt, err := c.prompts.Render(prompts.Critic, prompts.Data{
		Concept:  in.Observation.Concept(),
		Action:   string(in.Observation.Action.Type),
		Message:  in.Observation.User.Message,
		Response: orPlaceholder(strings.TrimSpace(in.Response), "(empty response)"),
		Context:  retrievedContext(in.Observation),
	})
	if err != nil {
		c.log.Warn("critic prompt render failed", "fallback", "critic_heuristic", "error", err)
		return h
	}

	res := c.svc.Call(ctx, llm.JSONRequest{
		Purpose:    "critic",
		UserPrompt: prompt,
		Schema:     criticSchema,
		DefaultPayload: map[string]any{
			"clarity":            h.Clarity,
			"accuracy":           h.Accuracy,
			"support":            h.Support,
			"hallucination_flag": h.Hallucination,
			"confidence":         h.Confidence,
			"notes":              h.Notes,
		},
		MaxTokens: c.cfg.MaxTokens,
		ModelHint: c.cfg.ModelHint,
	})
	if res.Fallback {
		c.log.Warn("critic degraded", "fallback", "critic_heuristic", "reason", llm.FallbackReason(res.Err))
		return h
	}
	return merge(h, res.Payload)
}

func merge(h Payload, p llm.Payload) Payload {
	out := Payload{
		Clarity:       round4(clamp01(p.FloatOr("clarity", h.Clarity))),
		Accuracy:      round4(clamp01(p.FloatOr("accuracy", h.Accuracy))),
		Support:       round4(clamp01(p.FloatOr("support", h.Support))),
		Hallucination: h.Hallucination,
		Confidence:    round4(clamp01(p.FloatOr("confidence", h.Confidence))),
		Notes:         truncate(p.String("notes", h.Notes), maxNotes),
		Source:        SourceModel,
		PromptSet:     h.PromptSet,
	}
	if v, ok := p.Bool("hallucination_flag"); ok {
		out.Hallucination = v
	}
	return out
}

// retrievedContext lists the first three retrieved snippets for a prompt.
func retrievedContext(obs tutor.Observation) string {
	var lines []string
	for i, c := range obs.Retrieval.Chunks[:min(3, len(obs.Retrieval.Chunks))] {
		snippet := strings.TrimSpace(c.Snippet)
		if snippet == "" {
			continue
		}
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("chunk-%d", i+1)
		}
		lines = append(lines, fmt.Sprintf("[%s | %s] %s", id, c.PedagogyRole, truncate(snippet, contextCap)))
	}
	return orPlaceholder(strings.Join(lines, "\n"), "(no grounded snippets available)")
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}

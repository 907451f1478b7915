// Package responses builds the learner-facing text for a chosen action
// from retrieved passages and the generation service.
package responses

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/prompts"
	"github.com/abhisek/tutorpolicy/internal/retrieval"
)

// NoContextText is the response for a context-dependent action when
// retrieval returned nothing.
const NoContextText = "I couldn't find a grounded snippet yet. Let's review your materials first. Could you point me to the chapter or section?"

// NoContextConfidence is the confidence attached to NoContextText.
const NoContextConfidence = 0.2

// Default confidences per template.
const (
	ColdStartConfidence = 0.4
	FollowUpConfidence  = 0.7
	HintConfidence      = 0.5
	ReflectConfidence   = 0.6
	ExplainConfidence   = 0.5
	ReviewConfidence    = 0.5
	WorkedConfidence    = 0.5
)

// ReflectDefault is the reflection prompt used when generation fails.
const ReflectDefault = "Could you summarize what you learned just now?"

// Request is everything a template needs.
type Request struct {
	Action  policy.Action
	Mode    policy.Mode
	Concept string
	Level   policy.Level
	Message string
	Chunks  []retrieval.Chunk

	// ReviewConcept is the prerequisite a review revisits; it defaults to
	// Concept.
	ReviewConcept string
}

// Response is a built tutor message.
type Response struct {
	Text            string   `json:"text"`
	Confidence      float64  `json:"confidence"`
	CitedChunkIDs   []string `json:"cited_chunk_ids"`
	InferredConcept string   `json:"inferred_concept,omitempty"`
	Fallback        bool     `json:"fallback"`
	Example         *Example `json:"example,omitempty"`
}

// Config holds generation settings shared by every template.
type Config struct {
	MaxTokens   int
	Temperature float64
	ModelHint   string
}

// DefaultConfig returns the standard generation settings.
func DefaultConfig() Config {
	return Config{MaxTokens: 600, Temperature: 0.3}
}

// Builder dispatches to one template per action.
type Builder struct {
	svc      *llm.JSONService
	prompts  *prompts.Set
	examples *ExampleGenerator
	cfg      Config
	log      *logger.Logger
}

// NewBuilder creates a Builder. examples may be nil, in which case worked
// examples are built from the passages alone.
func NewBuilder(svc *llm.JSONService, set *prompts.Set, examples *ExampleGenerator, cfg Config, log *logger.Logger) *Builder {
	if set == nil {
		set = prompts.Baseline()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{svc: svc, prompts: set, examples: examples, cfg: cfg, log: log}
}

// WithPrompts returns a copy of b rendering from set.
func (b *Builder) WithPrompts(set *prompts.Set) *Builder {
	c := *b
	c.prompts = set
	return &c
}

// WithModel returns a copy of b that sends hint as the model for every
// call.
func (b *Builder) WithModel(hint string) *Builder {
	c := *b
	c.cfg.ModelHint = hint
	return &c
}

// Build never fails; generation problems yield the template's default.
func (b *Builder) Build(ctx context.Context, req Request) Response {
	if len(req.Chunks) == 0 && req.Action.NeedsContext() {
		return Response{
			Text:            NoContextText,
			Confidence:      NoContextConfidence,
			CitedChunkIDs:   []string{},
			InferredConcept: req.Concept,
		}
	}

	switch req.Action {
	case policy.ActionAsk:
		if req.Mode == policy.ModeColdStart {
			return b.coldStart(ctx, req)
		}
		return b.followUp(ctx, req)
	case policy.ActionHint:
		return b.text(ctx, req, prompts.Hint, fallbackText(req.Chunks), HintConfidence)
	case policy.ActionReflect:
		return b.text(ctx, req, prompts.Reflect, ReflectDefault, ReflectConfidence)
	case policy.ActionReview:
		return b.text(ctx, req, prompts.Review, reviewText(req), ReviewConfidence)
	case policy.ActionWorkedExample:
		return b.workedExample(ctx, req)
	default:
		return b.text(ctx, req, prompts.Explain, fallbackText(req.Chunks), ExplainConfidence)
	}
}

func (b *Builder) data(req Request) prompts.Data {
	concept := req.Concept
	if concept == "" {
		concept = "the concept"
	}
	review := req.ReviewConcept
	if review == "" {
		review = concept
	}
	return prompts.Data{
		Concept:       concept,
		ReviewConcept: review,
		Level:         string(req.Level),
		Message:       req.Message,
		Context:       retrieval.FormatSnippets(req.Chunks),
		BasicsFirst:   req.Mode == policy.ModeConfusionSupport,
	}
}

func (b *Builder) coldStart(ctx context.Context, req Request) Response {
	def := "What is a key idea here?"
	if req.Concept != "" {
		def = fmt.Sprintf("What is a key idea about %s?", req.Concept)
	}
	data := b.data(req)
	data.Level = string(policy.LevelBeginner)
	data.Context = ""
	data.ColdStart = true
	return b.ask(ctx, req, data, def, ColdStartConfidence, "respond-cold-start")
}

func (b *Builder) followUp(ctx context.Context, req Request) Response {
	def := "Can you summarize what you learned?"
	if req.Concept != "" {
		def = fmt.Sprintf("Can you explain %s in your own words?", req.Concept)
	}
	return b.ask(ctx, req, b.data(req), def, FollowUpConfidence, "respond-ask")
}

func (b *Builder) ask(ctx context.Context, req Request, data prompts.Data, def string, conf float64, purpose string) Response {
	out := Response{
		Text:            def,
		Confidence:      conf,
		CitedChunkIDs:   retrieval.IDs(req.Chunks),
		InferredConcept: req.Concept,
	}
	prompt, err := b.prompts.Render(prompts.Ask, data)
	if err != nil {
		b.log.Warn("ask prompt render failed", "fallback", "default_question", "error", err)
		out.Fallback = true
		return out
	}
	res := b.svc.Call(ctx, llm.JSONRequest{
		Purpose:    purpose,
		UserPrompt: prompt,
		Schema:     AskSchema,
		DefaultPayload: map[string]any{
			"question":   def,
			"answer":     "",
			"confidence": conf,
			"options":    []any{},
		},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
		ModelHint:   b.cfg.ModelHint,
	})
	out.Text = res.Payload.String("question", def)
	out.Confidence = confidence(res.Payload, conf)
	out.Fallback = res.Fallback
	return out
}

func (b *Builder) text(ctx context.Context, req Request, key, def string, conf float64) Response {
	out := Response{
		Text:            def,
		Confidence:      conf,
		CitedChunkIDs:   retrieval.IDs(req.Chunks),
		InferredConcept: req.Concept,
	}
	prompt, err := b.prompts.Render(key, b.data(req))
	if err != nil {
		b.log.Warn("response prompt render failed", "prompt", key, "fallback", "default_response", "error", err)
		out.Fallback = true
		return out
	}
	res := b.svc.Call(ctx, llm.JSONRequest{
		Purpose:    "respond-" + key,
		UserPrompt: prompt,
		Schema:     TextSchema,
		DefaultPayload: map[string]any{
			"response":   def,
			"confidence": conf,
		},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
		ModelHint:   b.cfg.ModelHint,
	})
	out.Text = res.Payload.String("response", def)
	out.Confidence = confidence(res.Payload, conf)
	out.CitedChunkIDs = citations(res.Payload.Strings("citations"), req.Chunks)
	out.Fallback = res.Fallback
	return out
}

func (b *Builder) workedExample(ctx context.Context, req Request) Response {
	def := fallbackText(req.Chunks)
	var ex *Example
	if b.examples != nil {
		e := b.examples.Generate(ctx, ExampleRequest{
			Concept:     req.Concept,
			Difficulty:  string(req.Level),
			ContextType: "worked_example",
			Chunks:      req.Chunks,
		})
		if b.examples.Acceptable(e) {
			ex = &e
			def = e.Render()
		}
	}

	out := Response{
		Text:            def,
		Confidence:      WorkedConfidence,
		CitedChunkIDs:   retrieval.IDs(req.Chunks),
		InferredConcept: req.Concept,
		Example:         ex,
	}
	data := b.data(req)
	if ex != nil {
		data.Example = ex.Text
	}
	prompt, err := b.prompts.Render(prompts.WorkedExample, data)
	if err != nil {
		b.log.Warn("worked example prompt render failed", "fallback", "default_response", "error", err)
		out.Fallback = true
		return out
	}
	res := b.svc.Call(ctx, llm.JSONRequest{
		Purpose:    "respond-" + prompts.WorkedExample,
		UserPrompt: prompt,
		Schema:     TextSchema,
		DefaultPayload: map[string]any{
			"response":   def,
			"confidence": WorkedConfidence,
		},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
		ModelHint:   b.cfg.ModelHint,
	})
	out.Text = res.Payload.String("response", def)
	out.Confidence = confidence(res.Payload, WorkedConfidence)
	out.CitedChunkIDs = citations(res.Payload.Strings("citations"), req.Chunks)
	out.Fallback = res.Fallback
	return out
}

// fallbackText quotes the top passage, or says nothing was found.
func fallbackText(chunks []retrieval.Chunk) string {
	if len(chunks) > 0 {
		if top := strings.TrimSpace(chunks[0].Snippet); top != "" {
			return "Here's what your materials say about this topic:\n\n" + top +
				"\n\nLet me know if you'd like a different angle."
		}
	}
	return "I couldn't find a grounded snippet yet. Let's review the relevant materials together. " +
		"Do you recall which section covers this concept?"
}

func reviewText(req Request) string {
	review := req.ReviewConcept
	if review == "" {
		return fallbackText(req.Chunks)
	}
	return fmt.Sprintf("Before we go further, let's revisit %s.\n\n%s", review, fallbackText(req.Chunks))
}

// confidence reads the payload confidence, treating zero or a non-number
// as absent, and clamps it to [0,1].
func confidence(p llm.Payload, def float64) float64 {
	v, ok := p.Float("confidence")
	if !ok || v == 0 {
		v = def
	}
	return clamp01(v)
}

// citations keeps the cited ids that were actually supplied. When the
// model cited nothing usable, every supplied id is attributed.
func citations(cited []string, chunks []retrieval.Chunk) []string {
	supplied := retrieval.IDs(chunks)
	known := make(map[string]bool, len(supplied))
	for _, id := range supplied {
		known[id] = true
	}
	var out []string
	seen := make(map[string]bool, len(cited))
	for _, id := range cited {
		if known[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return supplied
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

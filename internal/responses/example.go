package responses

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/prompts"
	"github.com/abhisek/tutorpolicy/internal/retrieval"
)

// ExampleConfig tunes example generation.
type ExampleConfig struct {
	CacheSize     int
	MinRelevance  float64
	MinConfidence float64
	MaxTokens     int
	Temperature   float64
	ModelHint     string
}

// DefaultExampleConfig returns the standard thresholds.
func DefaultExampleConfig() ExampleConfig {
	return ExampleConfig{
		CacheSize:     100,
		MinRelevance:  0.6,
		MinConfidence: 0.5,
		MaxTokens:     300,
		Temperature:   0.4,
	}
}

// ExampleConfigFromEnv overlays TUTOR_EXAMPLE_* variables. Unparseable
// values keep the default.
func ExampleConfigFromEnv() ExampleConfig {
	cfg := DefaultExampleConfig()
	if f, err := strconv.ParseFloat(os.Getenv("TUTOR_EXAMPLE_MIN_RELEVANCE"), 64); err == nil {
		cfg.MinRelevance = f
	}
	if f, err := strconv.ParseFloat(os.Getenv("TUTOR_EXAMPLE_MIN_CONFIDENCE"), 64); err == nil {
		cfg.MinConfidence = f
	}
	if n, err := strconv.Atoi(os.Getenv("TUTOR_EXAMPLE_CACHE_SIZE")); err == nil && n > 0 {
		cfg.CacheSize = n
	}
	return cfg
}

// ExampleRequest describes the example wanted.
type ExampleRequest struct {
	Concept       string
	Difficulty    string
	ContextType   string
	Background    string
	Prerequisites []string
	Avoid         []string
	Chunks        []retrieval.Chunk
}

// Example is a generated illustration of a concept.
type Example struct {
	Text        string  `json:"example"`
	Explanation string  `json:"explanation"`
	Relevance   float64 `json:"relevance"`
	Confidence  float64 `json:"confidence"`
	Difficulty  string  `json:"difficulty,omitempty"`
	ContextType string  `json:"context_type,omitempty"`
	Fallback    bool    `json:"fallback,omitempty"`
}

// Render formats the example for a learner.
func (e Example) Render() string {
	return fmt.Sprintf("Example: %s\n\nWhy this helps: %s", e.Text, e.Explanation)
}

// ExampleCache is the bounded LRU cache owned by one ExampleGenerator.
type ExampleCache = lru.Cache[string, Example]

// NewExampleCache creates a cache holding at most size examples.
func NewExampleCache(size int) (*ExampleCache, error) {
	if size <= 0 {
		size = DefaultExampleConfig().CacheSize
	}
	return lru.New[string, Example](size)
}

// ExampleGenerator produces concrete examples through the generation
// service, caching successful results.
type ExampleGenerator struct {
	svc     *llm.JSONService
	prompts *prompts.Set
	cache   *ExampleCache
	cfg     ExampleConfig
	log     *logger.Logger
}

// NewExampleGenerator creates a generator. A nil cache gets one sized by
// cfg.CacheSize.
func NewExampleGenerator(svc *llm.JSONService, set *prompts.Set, cache *ExampleCache, cfg ExampleConfig, log *logger.Logger) (*ExampleGenerator, error) {
	if set == nil {
		set = prompts.Baseline()
	}
	if log == nil {
		log = logger.Nop()
	}
	if cache == nil {
		c, err := NewExampleCache(cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("example cache: %w", err)
		}
		cache = c
	}
	return &ExampleGenerator{svc: svc, prompts: set, cache: cache, cfg: cfg, log: log}, nil
}

// Acceptable reports whether e clears the relevance and confidence floors.
func (g *ExampleGenerator) Acceptable(e Example) bool {
	return e.Relevance >= g.cfg.MinRelevance && e.Confidence >= g.cfg.MinConfidence
}

func exampleKey(req ExampleRequest) string {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return strings.Join([]string{
		norm(req.Concept),
		norm(req.Difficulty),
		norm(req.ContextType),
		norm(req.Background),
		strings.Join(req.Prerequisites, ","),
		strings.Join(req.Avoid, ","),
	}, "|")
}

// chunkContext lists the first three snippets, each cut to 200 bytes.
func chunkContext(chunks []retrieval.Chunk) string {
	var items []string
	for _, c := range chunks[:min(3, len(chunks))] {
		snippet := c.Snippet
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		if snippet != "" {
			items = append(items, "- "+snippet)
		}
	}
	if len(items) == 0 {
		return "(none provided)"
	}
	return strings.Join(items, "\n")
}

// Generate returns an example for req. Results from the generation
// service are cached; fallback examples are not.
func (g *ExampleGenerator) Generate(ctx context.Context, req ExampleRequest) Example {
	key := exampleKey(req)
	if e, ok := g.cache.Get(key); ok {
		return e
	}

	background := req.Background
	if background == "" {
		background = "general"
	}
	def := Example{
		Text:        fmt.Sprintf("Consider how %s appears in everyday situations.", req.Concept),
		Explanation: "This connects to the concept by highlighting the core relation.",
		Relevance:   0.6,
		Confidence:  0.5,
	}
	e := g.call(ctx, "example", prompts.Data{
		Concept:       req.Concept,
		Level:         req.Difficulty,
		ContextType:   req.ContextType,
		Background:    background,
		Prerequisites: strings.Join(req.Prerequisites, ", "),
		Avoid:         strings.Join(req.Avoid, ", "),
		Context:       chunkContext(req.Chunks),
	}, def)
	e.Difficulty = req.Difficulty
	e.ContextType = req.ContextType

	if !e.Fallback {
		g.cache.Add(key, e)
	}
	return e
}

// Bridge returns an example that introduces to through the already-known
// from. Bridges are not cached.
func (g *ExampleGenerator) Bridge(ctx context.Context, from, to, level string, chunks []retrieval.Chunk) Example {
	def := Example{
		Text:        fmt.Sprintf("Think of %s as an extension of %s.", to, from),
		Explanation: "This builds on the known idea to introduce the new one.",
		Relevance:   0.6,
		Confidence:  0.5,
	}
	e := g.call(ctx, "bridge-example", prompts.Data{
		Concept:     to,
		FromConcept: from,
		Level:       level,
		Context:     chunkContext(chunks),
	}, def)
	e.Difficulty = level
	e.ContextType = "bridge"
	return e
}

func (g *ExampleGenerator) call(ctx context.Context, purpose string, data prompts.Data, def Example) Example {
	prompt, err := g.prompts.Render(prompts.Example, data)
	if err != nil {
		g.log.Warn("example prompt render failed", "fallback", "default_example", "error", err)
		def.Fallback = true
		return def
	}
	res := g.svc.Call(ctx, llm.JSONRequest{
		Purpose:    purpose,
		UserPrompt: prompt,
		Schema:     ExampleSchema,
		DefaultPayload: map[string]any{
			"example":     def.Text,
			"explanation": def.Explanation,
			"relevance":   def.Relevance,
			"confidence":  def.Confidence,
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		ModelHint:   g.cfg.ModelHint,
	})
	return Example{
		Text:        res.Payload.String("example", def.Text),
		Explanation: res.Payload.String("explanation", def.Explanation),
		Relevance:   res.Payload.FloatOr("relevance", def.Relevance),
		Confidence:  res.Payload.FloatOr("confidence", def.Confidence),
		Fallback:    res.Fallback,
	}
}

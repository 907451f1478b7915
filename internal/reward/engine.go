// Package reward scores a tutor response against its situation with six
// rule-based components and combines them into one weighted total.
package reward

import (
	"slices"
)

// Payload is the full scoring of one response.
type Payload struct {
	Components        map[string]Component `json:"components"`
	Total             float64              `json:"total"`
	Weights           map[string]float64   `json:"weights"`
	NormalizedWeights map[string]float64   `json:"normalized_weights"`
	Flags             []string             `json:"flags"`
}

// Engine runs every component and aggregates them.
type Engine struct {
	cfg     Config
	scorers map[string]Scorer
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg: cfg,
		scorers: map[string]Scorer{
			NameStepwise:  Stepwise(cfg),
			NameRubric:    Rubric(cfg),
			NameIntent:    Intent(cfg),
			NameGating:    Gating(cfg),
			NameGrounding: Grounding(cfg),
			NameStyle:     Style(cfg),
		},
	}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Score rates one response. Weights are normalized over the components
// that count toward the total; an exported stepwise score is reported
// with zero weight.
func (e *Engine) Score(in Input) Payload {
	active := e.cfg.active()

	weights := make(map[string]float64, len(Names))
	for _, name := range Names {
		weights[name] = e.cfg.Weights[name]
	}
	var sum float64
	for _, name := range active {
		sum += max(0, weights[name])
	}
	normalized := make(map[string]float64, len(active))
	for _, name := range active {
		if sum > 0 {
			normalized[name] = max(0, weights[name]) / sum
		} else {
			normalized[name] = 1 / float64(len(active))
		}
	}

	p := Payload{
		Components:        make(map[string]Component, len(Names)),
		Weights:           weights,
		NormalizedWeights: normalized,
		Flags:             []string{},
	}
	for _, name := range e.cfg.reported() {
		c := e.scorers[name].Score(in)
		if c.Flags == nil {
			c.Flags = []string{}
		}
		w, counted := normalized[name]
		if counted {
			p.Total += w * c.Score
			if t, ok := e.cfg.Thresholds[name]; ok && c.Score < t {
				c.Flags = append(c.Flags, name+"_below_threshold")
			}
		}
		for _, f := range c.Flags {
			if !slices.Contains(p.Flags, f) {
				p.Flags = append(p.Flags, f)
			}
		}
		p.Components[name] = c
	}
	p.Total = clamp01(p.Total)
	return p
}

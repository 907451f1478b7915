package llm

// ModelCost is USD pricing per million tokens.
type ModelCost struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost prices one request.
func (c ModelCost) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*c.InputPerMTok + float64(outputTokens)*c.OutputPerMTok) / 1e6
}

// LookupCost returns pricing for a model ID or friendly name, nil when the
// model is not priced.
func LookupCost(model string) *ModelCost {
	c, ok := modelCosts[canonicalModel(model)]
	if !ok {
		return nil
	}
	return &c
}

// Prices for the models tutor turns and rollouts are usually run with.
var modelCosts = map[string]ModelCost{
	"claude-haiku-4-5-20251001":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-sonnet-4-20250514":   {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-opus-4-1-20250805":   {InputPerMTok: 15, OutputPerMTok: 75},

	"gpt-4o":       {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":  {InputPerMTok: 0.15, OutputPerMTok: 0.6},
	"gpt-4.1":      {InputPerMTok: 2, OutputPerMTok: 8},
	"gpt-4.1-mini": {InputPerMTok: 0.4, OutputPerMTok: 1.6},
	"gpt-5-mini":   {InputPerMTok: 0.25, OutputPerMTok: 2},

	"gemini-2.0-flash": {InputPerMTok: 0.1, OutputPerMTok: 0.4},
	"gemini-2.5-flash": {InputPerMTok: 0.3, OutputPerMTok: 2.5},
	"gemini-2.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 10},
}

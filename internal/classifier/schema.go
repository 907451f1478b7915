package classifier

import "github.com/abhisek/tutorpolicy/internal/llm"

func enumValues[T ~string](vals []T) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

// Schema defines the JSON schema for classification responses.
var Schema = &llm.Schema{
	Name:        "classify-message",
	Description: "Intent, affect and concept judgment for a learner message",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": enumValues(AllIntents),
			},
			"affect": map[string]any{
				"type": "string",
				"enum": enumValues(AllAffects),
			},
			"concept": map[string]any{
				"type":        "string",
				"description": "The concept the message is about, or empty if none",
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0.0,
				"maximum": 1.0,
			},
			"needs_escalation": map[string]any{
				"type":        "boolean",
				"description": "True when a human tutor should step in",
			},
		},
		"required":             []any{"intent", "affect", "concept", "confidence", "needs_escalation"},
		"additionalProperties": false,
	},
}

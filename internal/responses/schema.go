package responses

import "github.com/abhisek/tutorpolicy/internal/llm"

var confidenceProp = map[string]any{
	"type":    "number",
	"minimum": 0.0,
	"maximum": 1.0,
}

// TextSchema is shared by explain, hint, reflect, review and worked
// example responses.
var TextSchema = &llm.Schema{
	Name:        "tutor-response",
	Description: "A grounded tutor response with cited chunk ids",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"response":   map[string]any{"type": "string"},
			"confidence": confidenceProp,
			"citations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"response", "confidence"},
	},
}

// AskSchema describes a formative question.
var AskSchema = &llm.Schema{
	Name:        "tutor-question",
	Description: "One formative question about the focus concept",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question":   map[string]any{"type": "string"},
			"answer":     map[string]any{"type": "string"},
			"confidence": confidenceProp,
			"options": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"question", "confidence"},
	},
}

// ExampleSchema describes a generated example.
var ExampleSchema = &llm.Schema{
	Name:        "concept-example",
	Description: "A concrete example of a concept",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"example":     map[string]any{"type": "string"},
			"explanation": map[string]any{"type": "string"},
			"relevance":   confidenceProp,
			"confidence":  confidenceProp,
		},
		"required": []any{"example", "explanation", "relevance", "confidence"},
	},
}

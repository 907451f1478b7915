package llm

import (
	"context"
	"encoding/json"
)

// Provider sends one request to a generation backend. Vendor providers
// ask for structured output when req.Schema is set; checking the reply
// against the schema is left to WithValidation, and retries, recording
// and fallbacks to the wrappers and JSONService above them.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID is the model used when a request names none.
	ModelID() string
}

// Request describes what to send to the model.
type Request struct {
	// System is the system prompt.
	System string

	// Messages is the conversation. Tutor calls are single-turn, so this
	// usually holds one user message.
	Messages []Message

	// Schema is the JSON Schema the response must conform to. When nil the
	// response Content is the raw text.
	Schema *Schema

	// Model overrides the provider's configured model for this request.
	// Friendly names are resolved the same way as in configuration.
	Model string

	MaxTokens int

	// Temperature controls randomness, 0.0 - 1.0. Zero leaves the
	// provider default in place.
	Temperature float64
}

// Message is a single conversation message.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the model.
type Schema struct {
	// Name identifies the schema, kebab-case (e.g. "turn-classification").
	// Used as the cache key for compiled schemas.
	Name string

	Description string

	// Definition is the JSON Schema document as a map.
	Definition map[string]any
}

// Response holds the model output.
type Response struct {
	// Content is validated JSON when a Schema was supplied, otherwise the
	// raw text.
	Content json.RawMessage

	Usage Usage

	// Model is the model that actually served the request.
	Model string

	// StopReason is normalized to "end", "max_tokens" or "error".
	StopReason string
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

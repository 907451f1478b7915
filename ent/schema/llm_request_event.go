package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LLMRequestEvent is one attempt at a generation call. Retries produce one
// row each.
type LLMRequestEvent struct {
	ent.Schema
}

func (LLMRequestEvent) Mixin() []ent.Mixin {
	return []ent.Mixin{EventMixin{}}
}

func (LLMRequestEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("provider"),
		field.String("model").
			Comment("Model that served the call, or the requested one when it failed"),
		field.String("purpose").
			Comment("classify, assess, respond-<action>, critic or preference"),
		field.String("session_id").Default(""),
		field.Int("input_tokens").NonNegative().Default(0),
		field.Int("output_tokens").NonNegative().Default(0),
		field.Int64("latency_ms").NonNegative().Default(0),
		field.Bool("success"),
		field.String("error_message").Default(""),
		field.Text("request_body").
			Default("").
			Comment("Readable transcript: system prompt, messages and schema"),
		field.Text("response_body").
			Default("").
			Comment("Raw model output, kept for rejected replies too"),
	}
}

func (LLMRequestEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("purpose"),
		index.Fields("session_id"),
		index.Fields("model"),
	}
}

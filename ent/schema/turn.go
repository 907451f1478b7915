package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Turn is one learner message and the tutor's reply.
type Turn struct {
	ent.Schema
}

func (Turn) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").Unique().Immutable(),
		field.Int("turn_index").NonNegative(),
		field.Text("user_text"),
		field.String("intent"),
		field.String("affect"),
		field.String("concept").Default(""),
		field.String("action_type"),
		field.Text("response_text"),
		field.Text("source_chunk_ids").Default("[]"),
		field.Float("confidence"),
		field.Float("mastery_delta").Optional().Nillable(),
		field.String("decision_cause").Default(""),
		field.Text("degraded").Default("[]"),
		field.Time("created_at").Immutable(),
		field.String("session_id"),
	}
}

func (Turn) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", Session.Type).
			Ref("turns").
			Field("session_id").
			Unique().
			Required(),
	}
}

func (Turn) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "turn_index").Unique(),
	}
}

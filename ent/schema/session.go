package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Session is a tutoring session. Policy holds the encoded policy state.
type Session struct {
	ent.Schema
}

func (Session) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").Unique().Immutable(),
		field.String("user_id").NotEmpty(),
		field.String("resource_id").Default(""),
		field.String("status").Default("active"),
		field.Text("target_concepts").Default("[]"),
		field.Text("policy").Default("{}"),
		field.String("last_concept").Default(""),
		field.String("last_action").Default(""),
		field.Time("created_at").Immutable(),
		field.Time("updated_at"),
	}
}

func (Session) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("turns", Turn.Type),
	}
}

func (Session) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id"),
	}
}

package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ConceptMastery is a learner's standing on one concept.
type ConceptMastery struct {
	ent.Schema
}

func (ConceptMastery) Fields() []ent.Field {
	return []ent.Field{
		field.String("user_id").NotEmpty(),
		field.String("concept").NotEmpty(),
		field.Float("mastery").Default(0).Min(0).Max(1),
		field.Int("attempts").Default(0),
		field.Int("correct").Default(0),
		field.Float("confidence").Default(0),
		field.Time("updated_at"),
	}
}

func (ConceptMastery) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id", "concept").Unique(),
	}
}

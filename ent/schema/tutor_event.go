package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TutorEvent records policy decisions such as cold starts and action
// selections.
type TutorEvent struct {
	ent.Schema
}

func (TutorEvent) Mixin() []ent.Mixin {
	return []ent.Mixin{EventMixin{}}
}

func (TutorEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("session_id").NotEmpty(),
		field.String("user_id").NotEmpty(),
		field.String("kind").NotEmpty(),
		field.Text("payload").Default("{}"),
	}
}

func (TutorEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id"),
	}
}

package store

import (
	"slices"
	"testing"

	"entgo.io/ent"
	"entgo.io/ent/dialect/sql/schema"

	entschema "github.com/abhisek/tutorpolicy/ent/schema"
)

func fieldNames(groups ...[]ent.Field) []string {
	var out []string
	for _, fields := range groups {
		for _, f := range fields {
			if name := f.Descriptor().Name; name != "id" {
				out = append(out, name)
			}
		}
	}
	slices.Sort(out)
	return out
}

func columnNames(t *schema.Table) []string {
	var out []string
	for _, c := range t.Columns {
		if c.Name != "id" {
			out = append(out, c.Name)
		}
	}
	slices.Sort(out)
	return out
}

// The migrated tables must carry exactly the columns the entity schemas
// declare.
func TestTablesMatchEntitySchemas(t *testing.T) {
	mixin := entschema.EventMixin{}.Fields()
	tests := []struct {
		table  *schema.Table
		fields []string
	}{
		{SessionsTable, fieldNames(entschema.Session{}.Fields())},
		{TurnsTable, fieldNames(entschema.Turn{}.Fields())},
		{ConceptMasteryTable, fieldNames(entschema.ConceptMastery{}.Fields())},
		{LlmRequestEventsTable, fieldNames(mixin, entschema.LLMRequestEvent{}.Fields())},
		{TutorEventsTable, fieldNames(mixin, entschema.TutorEvent{}.Fields())},
	}
	for _, tt := range tests {
		t.Run(tt.table.Name, func(t *testing.T) {
			got := columnNames(tt.table)
			if !slices.Equal(got, tt.fields) {
				t.Errorf("columns = %v, entity fields = %v", got, tt.fields)
			}
		})
	}
}

package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table declarations for auto-migration. Queries are built with the ent
// SQL builder against these names.
var (
	// SessionsColumns holds the columns for the "sessions" table.
	SessionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "user_id", Type: field.TypeString},
		{Name: "resource_id", Type: field.TypeString, Default: ""},
		{Name: "status", Type: field.TypeString, Default: "active"},
		{Name: "target_concepts", Type: field.TypeString, Size: 2147483647, Default: "[]"},
		{Name: "policy", Type: field.TypeString, Size: 2147483647, Default: "{}"},
		{Name: "last_concept", Type: field.TypeString, Default: ""},
		{Name: "last_action", Type: field.TypeString, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// SessionsTable holds the schema information for the "sessions" table.
	SessionsTable = &schema.Table{
		Name:       "sessions",
		Columns:    SessionsColumns,
		PrimaryKey: []*schema.Column{SessionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "session_user_id", Unique: false, Columns: []*schema.Column{SessionsColumns[1]}},
		},
	}

	// TurnsColumns holds the columns for the "turns" table.
	TurnsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "turn_index", Type: field.TypeInt},
		{Name: "user_text", Type: field.TypeString, Size: 2147483647},
		{Name: "intent", Type: field.TypeString},
		{Name: "affect", Type: field.TypeString},
		{Name: "concept", Type: field.TypeString, Default: ""},
		{Name: "action_type", Type: field.TypeString},
		{Name: "response_text", Type: field.TypeString, Size: 2147483647},
		{Name: "source_chunk_ids", Type: field.TypeString, Size: 2147483647, Default: "[]"},
		{Name: "confidence", Type: field.TypeFloat64},
		{Name: "mastery_delta", Type: field.TypeFloat64, Nullable: true},
		{Name: "decision_cause", Type: field.TypeString, Default: ""},
		{Name: "degraded", Type: field.TypeString, Size: 2147483647, Default: "[]"},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "session_id", Type: field.TypeString},
	}
	// TurnsTable holds the schema information for the "turns" table.
	TurnsTable = &schema.Table{
		Name:       "turns",
		Columns:    TurnsColumns,
		PrimaryKey: []*schema.Column{TurnsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "turns_sessions_turns",
				Columns:    []*schema.Column{TurnsColumns[14]},
				RefColumns: []*schema.Column{SessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "turn_session_id_turn_index", Unique: true, Columns: []*schema.Column{TurnsColumns[14], TurnsColumns[1]}},
		},
	}

	// ConceptMasteryColumns holds the columns for the "concept_mastery" table.
	ConceptMasteryColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "user_id", Type: field.TypeString},
		{Name: "concept", Type: field.TypeString},
		{Name: "mastery", Type: field.TypeFloat64, Default: 0},
		{Name: "attempts", Type: field.TypeInt, Default: 0},
		{Name: "correct", Type: field.TypeInt, Default: 0},
		{Name: "confidence", Type: field.TypeFloat64, Default: 0},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// ConceptMasteryTable holds the schema information for the "concept_mastery" table.
	ConceptMasteryTable = &schema.Table{
		Name:       "concept_mastery",
		Columns:    ConceptMasteryColumns,
		PrimaryKey: []*schema.Column{ConceptMasteryColumns[0]},
		Indexes: []*schema.Index{
			{Name: "conceptmastery_user_id_concept", Unique: true, Columns: []*schema.Column{ConceptMasteryColumns[1], ConceptMasteryColumns[2]}},
		},
	}

	// LlmRequestEventsColumns holds the columns for the "llm_request_events" table.
	LlmRequestEventsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "sequence", Type: field.TypeInt64, Unique: true},
		{Name: "timestamp", Type: field.TypeTime},
		{Name: "provider", Type: field.TypeString},
		{Name: "model", Type: field.TypeString},
		{Name: "purpose", Type: field.TypeString},
		{Name: "session_id", Type: field.TypeString, Default: ""},
		{Name: "input_tokens", Type: field.TypeInt},
		{Name: "output_tokens", Type: field.TypeInt},
		{Name: "latency_ms", Type: field.TypeInt64},
		{Name: "success", Type: field.TypeBool},
		{Name: "error_message", Type: field.TypeString, Default: ""},
		{Name: "request_body", Type: field.TypeString, Size: 2147483647, Default: ""},
		{Name: "response_body", Type: field.TypeString, Size: 2147483647, Default: ""},
	}
	// LlmRequestEventsTable holds the schema information for the "llm_request_events" table.
	LlmRequestEventsTable = &schema.Table{
		Name:       "llm_request_events",
		Columns:    LlmRequestEventsColumns,
		PrimaryKey: []*schema.Column{LlmRequestEventsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "llmrequestevent_timestamp", Unique: false, Columns: []*schema.Column{LlmRequestEventsColumns[2]}},
			{Name: "llmrequestevent_purpose", Unique: false, Columns: []*schema.Column{LlmRequestEventsColumns[5]}},
			{Name: "llmrequestevent_session_id", Unique: false, Columns: []*schema.Column{LlmRequestEventsColumns[6]}},
			{Name: "llmrequestevent_model", Unique: false, Columns: []*schema.Column{LlmRequestEventsColumns[4]}},
		},
	}

	// TutorEventsColumns holds the columns for the "tutor_events" table.
	TutorEventsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "sequence", Type: field.TypeInt64, Unique: true},
		{Name: "timestamp", Type: field.TypeTime},
		{Name: "session_id", Type: field.TypeString},
		{Name: "user_id", Type: field.TypeString},
		{Name: "kind", Type: field.TypeString},
		{Name: "payload", Type: field.TypeString, Size: 2147483647, Default: "{}"},
	}
	// TutorEventsTable holds the schema information for the "tutor_events" table.
	TutorEventsTable = &schema.Table{
		Name:       "tutor_events",
		Columns:    TutorEventsColumns,
		PrimaryKey: []*schema.Column{TutorEventsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "tutorevent_session_id", Unique: false, Columns: []*schema.Column{TutorEventsColumns[3]}},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		SessionsTable,
		TurnsTable,
		ConceptMasteryTable,
		LlmRequestEventsTable,
		TutorEventsTable,
	}
)

func init() {
	TurnsTable.ForeignKeys[0].RefTable = SessionsTable
}

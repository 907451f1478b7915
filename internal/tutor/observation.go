package tutor

import (
	"strings"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/mastery"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/retrieval"
)

// ObservationVersion is the schema version written to Observation.Metadata.
const ObservationVersion = 1

// SnippetChars caps the snippet kept per chunk in an observation.
const SnippetChars = 320

// Observation is the self-contained record of one turn's situation. The
// reward engine, critic and rollout all work from it.
type Observation struct {
	Metadata   ObservationMeta           `json:"metadata"`
	User       UserBlock                 `json:"user"`
	Classifier classifier.Classification `json:"classifier"`
	Tutor      TutorBlock                `json:"tutor"`
	Retrieval  RetrievalBlock            `json:"retrieval"`
	Policy     policy.State              `json:"policy"`
	Session    SessionBlock              `json:"session"`
	Action     ActionBlock               `json:"action"`
}

type ObservationMeta struct {
	Version int `json:"version"`
}

type UserBlock struct {
	Message        string   `json:"message"`
	UserID         string   `json:"user_id,omitempty"`
	TargetConcepts []string `json:"target_concepts"`
}

type TutorBlock struct {
	FocusConcept     string       `json:"focus_concept,omitempty"`
	ConceptLevel     policy.Level `json:"concept_level,omitempty"`
	InferenceConcept string       `json:"inference_concept,omitempty"`
	LearningPath     []string     `json:"learning_path"`
	TargetConcepts   []string     `json:"target_concepts"`
	MasterySnapshot  mastery.Map  `json:"mastery_snapshot,omitempty"`
}

type RetrievalBlock struct {
	Query          string         `json:"query,omitempty"`
	ChunkIDs       []string       `json:"chunk_ids"`
	SourceChunkIDs []string       `json:"source_chunk_ids"`
	PedagogyRoles  []string       `json:"pedagogy_roles"`
	Chunks         []ChunkSummary `json:"chunks"`
}

// ChunkSummary is a retrieved chunk as recorded in an observation.
type ChunkSummary struct {
	ID           string  `json:"id"`
	PedagogyRole string  `json:"pedagogy_role,omitempty"`
	PageNumber   int     `json:"page_number,omitempty"`
	Score        float64 `json:"score"`
	Sim          float64 `json:"sim,omitempty"`
	BM25         float64 `json:"bm25,omitempty"`
	Difficulty   string  `json:"difficulty,omitempty"`
	Snippet      string  `json:"snippet,omitempty"`
}

type SessionBlock struct {
	SessionID  string `json:"session_id,omitempty"`
	TurnIndex  int    `json:"turn_index"`
	ResourceID string `json:"resource_id,omitempty"`
}

type ActionBlock struct {
	Type                policy.Action     `json:"type"`
	Cause               policy.Cause      `json:"cause,omitempty"`
	Mode                policy.Mode       `json:"mode,omitempty"`
	ColdStart           bool              `json:"cold_start"`
	Confidence          float64           `json:"confidence"`
	MasteryDelta        *float64          `json:"mastery_delta,omitempty"`
	SourceChunkIDs      []string          `json:"source_chunk_ids"`
	Params              map[string]string `json:"params,omitempty"`
	OverrideType        string            `json:"override_type,omitempty"`
	OverrideApplied     bool              `json:"override_applied"`
	AppliedOverrideType string            `json:"applied_override_type,omitempty"`
}

// Concept is the concept the observed response should address: the focus
// concept, else the concept the response was inferred to teach.
func (o Observation) Concept() string {
	if c := strings.TrimSpace(o.Tutor.FocusConcept); c != "" {
		return c
	}
	return strings.TrimSpace(o.Tutor.InferenceConcept)
}

// CitedIDs returns the ids the response cited, preferring the retrieval
// block's source ids over the action's.
func (o Observation) CitedIDs() []string {
	if len(o.Retrieval.SourceChunkIDs) > 0 {
		return o.Retrieval.SourceChunkIDs
	}
	return o.Action.SourceChunkIDs
}

// RetrievedChunks rebuilds the retrieval chunks recorded in the
// observation, for regenerating responses offline.
func (b RetrievalBlock) RetrievedChunks() []retrieval.Chunk {
	out := make([]retrieval.Chunk, 0, len(b.Chunks))
	for _, c := range b.Chunks {
		out = append(out, retrieval.Chunk{
			ID:           c.ID,
			PageNumber:   c.PageNumber,
			Snippet:      c.Snippet,
			PedagogyRole: c.PedagogyRole,
			Score:        c.Score,
			Similarity:   c.Sim,
			TextRank:     c.BM25,
			Difficulty:   c.Difficulty,
		})
	}
	return out
}

// ObservationInput carries everything a turn knows when it is recorded.
type ObservationInput struct {
	Message        string
	UserID         string
	TargetConcepts []string

	Classification   classifier.Classification
	FocusConcept     string
	Level            policy.Level
	InferenceConcept string
	LearningPath     []string
	Mastery          mastery.Map

	Query  string
	Roles  []string
	Chunks []retrieval.Chunk

	Policy     policy.State
	SessionID  string
	TurnIndex  int
	ResourceID string

	Decision       policy.Decision
	Confidence     float64
	MasteryDelta   *float64
	SourceChunkIDs []string
	Params         map[string]string
	OverrideType   string
}

// BuildObservation assembles a version 1 observation.
func BuildObservation(in ObservationInput) Observation {
	chunks := make([]ChunkSummary, 0, len(in.Chunks))
	for _, c := range in.Chunks {
		chunks = append(chunks, summarize(c))
	}
	cited := nonNil(in.SourceChunkIDs)
	applied := in.OverrideType != "" && in.Decision.Cause == policy.CauseOverride

	obs := Observation{
		Metadata: ObservationMeta{Version: ObservationVersion},
		User: UserBlock{
			Message:        in.Message,
			UserID:         in.UserID,
			TargetConcepts: nonNil(in.TargetConcepts),
		},
		Classifier: in.Classification,
		Tutor: TutorBlock{
			FocusConcept:     in.FocusConcept,
			ConceptLevel:     in.Level,
			InferenceConcept: in.InferenceConcept,
			LearningPath:     nonNil(in.LearningPath),
			TargetConcepts:   nonNil(in.TargetConcepts),
			MasterySnapshot:  in.Mastery,
		},
		Retrieval: RetrievalBlock{
			Query:          in.Query,
			ChunkIDs:       nonNil(retrieval.IDs(in.Chunks)),
			SourceChunkIDs: cited,
			PedagogyRoles:  nonNil(in.Roles),
			Chunks:         chunks,
		},
		Policy: in.Policy,
		Session: SessionBlock{
			SessionID:  in.SessionID,
			TurnIndex:  in.TurnIndex,
			ResourceID: in.ResourceID,
		},
		Action: ActionBlock{
			Type:            in.Decision.Action,
			Cause:           in.Decision.Cause,
			Mode:            in.Decision.Mode,
			ColdStart:       in.Decision.ColdStart,
			Confidence:      in.Confidence,
			MasteryDelta:    in.MasteryDelta,
			SourceChunkIDs:  cited,
			Params:          in.Params,
			OverrideType:    in.OverrideType,
			OverrideApplied: applied,
		},
	}
	if applied {
		obs.Action.AppliedOverrideType = string(in.Decision.Action)
	}
	return obs
}

func summarize(c retrieval.Chunk) ChunkSummary {
	snippet := strings.TrimSpace(c.Snippet)
	if r := []rune(snippet); len(r) > SnippetChars {
		snippet = string(r[:SnippetChars])
	}
	return ChunkSummary{
		ID:           c.ID,
		PedagogyRole: c.PedagogyRole,
		PageNumber:   c.PageNumber,
		Score:        c.Score,
		Sim:          c.Similarity,
		BM25:         c.TextRank,
		Difficulty:   c.Difficulty,
		Snippet:      snippet,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit     int       // max results (0 = unlimited)
	After     int64     // sequence > After
	Before    int64     // sequence < Before
	From      time.Time // timestamp >= From
	To        time.Time // timestamp <= To
	Purpose   string    // exact purpose match
	SessionID string    // exact session match
}

// Session is a stored tutoring session. Policy is the opaque policy-state
// document; the store never interprets it.
type Session struct {
	ID             string
	UserID         string
	ResourceID     string
	Status         string
	TargetConcepts []string
	Policy         json.RawMessage
	LastConcept    string
	LastAction     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionSpec describes a session to create when it does not exist yet.
type SessionSpec struct {
	ID             string // generated when empty
	UserID         string
	ResourceID     string
	TargetConcepts []string
	Policy         json.RawMessage
}

// TurnRecord is one persisted tutoring turn.
type TurnRecord struct {
	ID             string
	SessionID      string
	Index          int
	UserText       string
	Intent         string
	Affect         string
	Concept        string
	Action         string
	ResponseText   string
	SourceChunkIDs []string
	Confidence     float64
	MasteryDelta   *float64
	Cause          string
	Degraded       []string
	CreatedAt      time.Time
}

// SessionUpdate is written to the session row in the same transaction as
// a new turn. Empty LastConcept leaves the stored value unchanged.
type SessionUpdate struct {
	Policy      json.RawMessage
	LastConcept string
	LastAction  string
}

// TurnBuilder produces the turn to append from the session as currently
// stored and the index assigned to the new turn. It runs while the
// session is locked, so it must not call back into the store.
type TurnBuilder func(sess Session, index int) (TurnRecord, SessionUpdate, error)

// SessionRepo persists sessions and their turns.
type SessionRepo interface {
	// EnsureSession returns the session with spec.ID, creating it if absent.
	EnsureSession(ctx context.Context, spec SessionSpec) (*Session, error)

	// GetSession returns ErrNotFound when the session does not exist.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns a user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string, limit int) ([]Session, error)

	// ListTurns returns turns in index order. limit > 0 keeps the last N.
	ListTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)

	// AppendTurn assigns the next turn index and stores the built turn and
	// session update atomically. Concurrent appends to one session never
	// share an index.
	AppendTurn(ctx context.Context, sessionID string, build TurnBuilder) (*TurnRecord, *Session, error)
}

// MasteryRecord is the stored mastery of one concept for one user.
type MasteryRecord struct {
	UserID     string
	Concept    string
	Mastery    float64
	Attempts   int
	Correct    int
	Confidence float64
	UpdatedAt  time.Time
}

// MasteryRepo persists per-user concept mastery.
type MasteryRepo interface {
	// MasteryFor returns records for the named concepts, or every concept
	// of the user when concepts is empty. Unknown concepts are absent.
	MasteryFor(ctx context.Context, userID string, concepts []string) (map[string]MasteryRecord, error)

	// ApplyMasteryUpdate adds delta to the stored mastery (clamped to
	// [0,1]), counts one attempt and, when correct is non-nil and true,
	// one correct answer. Absent rows start from zero.
	ApplyMasteryUpdate(ctx context.Context, userID, concept string, delta float64, correct *bool, confidence float64) (MasteryRecord, error)

	// SetMastery overwrites a record.
	SetMastery(ctx context.Context, rec MasteryRecord) error
}

// LLMRequestEventData captures the data for a single generation request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	SessionID    string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMRequestEvent is a stored generation request event.
type LLMRequestEvent struct {
	ID        int
	Sequence  int64
	Timestamp time.Time
	LLMRequestEventData
}

// LLMPurposeUsage aggregates calls and tokens per purpose.
type LLMPurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
	Failures     int
}

// LLMModelUsage aggregates calls and tokens per model.
type LLMModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

// TutorEventData is a structured record of a tutoring decision.
type TutorEventData struct {
	SessionID string
	UserID    string
	Kind      string
	Payload   any
}

// TutorEvent is a stored tutor event.
type TutorEvent struct {
	ID        int
	Sequence  int64
	Timestamp time.Time
	SessionID string
	UserID    string
	Kind      string
	Payload   json.RawMessage
}

// EventRepo provides append and query access to events.
type EventRepo interface {
	// AppendLLMRequest records a generation call.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error

	// QueryLLMEvents returns events newest first.
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMRequestEvent, error)

	// GetLLMEvent returns nil, nil when the event does not exist.
	GetLLMEvent(ctx context.Context, id int) (*LLMRequestEvent, error)

	LLMUsageByPurpose(ctx context.Context) ([]LLMPurposeUsage, error)
	LLMUsageByModel(ctx context.Context) ([]LLMModelUsage, error)

	// AppendTutorEvent records a tutoring decision.
	AppendTutorEvent(ctx context.Context, data TutorEventData) error

	// QueryTutorEvents returns events oldest first.
	QueryTutorEvents(ctx context.Context, opts QueryOpts) ([]TutorEvent, error)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/abhisek/tutorpolicy/internal/sessionlock"
)

// builder emits SQLite flavoured statements.
var builder = entsql.Dialect(dialect.SQLite)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const appendTurnAttempts = 3

var sessionColumns = []string{
	"id", "user_id", "resource_id", "status", "target_concepts", "policy",
	"last_concept", "last_action", "created_at", "updated_at",
}

var turnColumns = []string{
	"id", "session_id", "turn_index", "user_text", "intent", "affect", "concept",
	"action_type", "response_text", "source_chunk_ids", "confidence",
	"mastery_delta", "decision_cause", "degraded", "created_at",
}

type sessionRepo struct {
	db     *sql.DB
	locker sessionlock.Locker
}

func (r *sessionRepo) EnsureSession(ctx context.Context, spec SessionSpec) (*Session, error) {
	if strings.TrimSpace(spec.UserID) == "" {
		return nil, errors.New("ensure session: user id is required")
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	policy := spec.Policy
	if len(policy) == 0 {
		policy = json.RawMessage("{}")
	}
	now := time.Now().UTC()

	query, args := builder.Insert(SessionsTable.Name).
		Columns(sessionColumns...).
		Values(id, spec.UserID, spec.ResourceID, "active", encodeStrings(spec.TargetConcepts),
			string(policy), "", "", now, now).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	sess, err := getSession(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != spec.UserID {
		return nil, fmt.Errorf("session %s belongs to a different user", id)
	}
	return sess, nil
}

func (r *sessionRepo) GetSession(ctx context.Context, id string) (*Session, error) {
	return getSession(ctx, r.db, id)
}

func getSession(ctx context.Context, q querier, id string) (*Session, error) {
	query, args := builder.Select(sessionColumns...).
		From(entsql.Table(SessionsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()
	sess, err := scanSession(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (r *sessionRepo) ListSessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	sel := builder.Select(sessionColumns...).
		From(entsql.Table(SessionsTable.Name)).
		OrderBy(entsql.Desc("updated_at"))
	if userID != "" {
		sel = sel.Where(entsql.EQ("user_id", userID))
	}
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *sessionRepo) ListTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	sel := builder.Select(turnColumns...).
		From(entsql.Table(TurnsTable.Name)).
		Where(entsql.EQ("session_id", sessionID))
	if limit > 0 {
		sel = sel.OrderBy(entsql.Desc("turn_index")).Limit(limit)
	} else {
		sel = sel.OrderBy("turn_index")
	}
	query, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (r *sessionRepo) AppendTurn(ctx context.Context, sessionID string, build TurnBuilder) (*TurnRecord, *Session, error) {
	unlock, err := r.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	defer unlock()

	// The lock covers this process (and Redis holders); the unique index
	// catches writers outside both, in which case the index is recomputed.
	for attempt := 1; ; attempt++ {
		turn, sess, err := r.appendTurnTx(ctx, sessionID, build)
		if err != nil && isUniqueViolation(err) && attempt < appendTurnAttempts {
			continue
		}
		return turn, sess, err
	}
}

func (r *sessionRepo) appendTurnTx(ctx context.Context, sessionID string, build TurnBuilder) (*TurnRecord, *Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := getSession(ctx, tx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&next)
	if err != nil {
		return nil, nil, fmt.Errorf("next turn index: %w", err)
	}

	turn, upd, err := build(*sess, next)
	if err != nil {
		return nil, nil, err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	turn.SessionID = sessionID
	turn.Index = next
	now := time.Now().UTC()
	turn.CreatedAt = now

	var delta any
	if turn.MasteryDelta != nil {
		delta = *turn.MasteryDelta
	}
	query, args := builder.Insert(TurnsTable.Name).
		Columns(turnColumns...).
		Values(turn.ID, turn.SessionID, turn.Index, turn.UserText, turn.Intent, turn.Affect,
			turn.Concept, turn.Action, turn.ResponseText, encodeStrings(turn.SourceChunkIDs),
			turn.Confidence, delta, turn.Cause, encodeStrings(turn.Degraded), now).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, nil, fmt.Errorf("insert turn: %w", err)
	}

	update := builder.Update(SessionsTable.Name).
		Set("updated_at", now).
		Where(entsql.EQ("id", sessionID))
	if len(upd.Policy) > 0 {
		update = update.Set("policy", string(upd.Policy))
		sess.Policy = upd.Policy
	}
	if upd.LastConcept != "" {
		update = update.Set("last_concept", upd.LastConcept)
		sess.LastConcept = upd.LastConcept
	}
	if upd.LastAction != "" {
		update = update.Set("last_action", upd.LastAction)
		sess.LastAction = upd.LastAction
	}
	query, args = update.Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit turn: %w", err)
	}
	sess.UpdatedAt = now
	return &turn, sess, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s               Session
		targets, policy string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.ResourceID, &s.Status, &targets, &policy,
		&s.LastConcept, &s.LastAction, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.TargetConcepts = decodeStrings(targets)
	s.Policy = json.RawMessage(policy)
	return &s, nil
}

func scanTurn(row rowScanner) (TurnRecord, error) {
	var (
		t            TurnRecord
		cited, flags string
		delta        sql.NullFloat64
	)
	err := row.Scan(&t.ID, &t.SessionID, &t.Index, &t.UserText, &t.Intent, &t.Affect, &t.Concept,
		&t.Action, &t.ResponseText, &cited, &t.Confidence, &delta, &t.Cause, &flags, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.SourceChunkIDs = decodeStrings(cited)
	t.Degraded = decodeStrings(flags)
	if delta.Valid {
		v := delta.Float64
		t.MasteryDelta = &v
	}
	return t, nil
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) []string {
	var out []string
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

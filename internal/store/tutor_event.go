package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

var tutorEventColumns = []string{"id", "sequence", "timestamp", "session_id", "user_id", "kind", "payload"}

func (r *eventRepo) AppendTutorEvent(ctx context.Context, data TutorEventData) error {
	if data.Kind == "" {
		return fmt.Errorf("append tutor event: kind is required")
	}
	payload := []byte("{}")
	if data.Payload != nil {
		b, err := json.Marshal(data.Payload)
		if err != nil {
			return fmt.Errorf("marshal tutor event payload: %w", err)
		}
		payload = b
	}

	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	query, args := builder.Insert(TutorEventsTable.Name).
		Columns(tutorEventColumns[1:]...).
		Values(seqNum, time.Now().UTC(), data.SessionID, data.UserID, data.Kind, string(payload)).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save tutor event: %w", err)
	}
	return nil
}

func (r *eventRepo) QueryTutorEvents(ctx context.Context, opts QueryOpts) ([]TutorEvent, error) {
	sel := builder.Select(tutorEventColumns...).
		From(entsql.Table(TutorEventsTable.Name)).
		OrderBy("sequence")
	if preds := eventPredicates(opts); len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	if opts.Limit > 0 {
		sel = sel.Limit(opts.Limit)
	}
	query, args := sel.Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tutor events: %w", err)
	}
	defer rows.Close()

	var out []TutorEvent
	for rows.Next() {
		var (
			e       TutorEvent
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Sequence, &e.Timestamp, &e.SessionID, &e.UserID, &e.Kind, &payload); err != nil {
			return nil, fmt.Errorf("scan tutor event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

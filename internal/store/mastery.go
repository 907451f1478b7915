package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type masteryRepo struct {
	db *sql.DB
}

var masteryColumns = []string{"user_id", "concept", "mastery", "attempts", "correct", "confidence", "updated_at"}

func (r *masteryRepo) MasteryFor(ctx context.Context, userID string, concepts []string) (map[string]MasteryRecord, error) {
	preds := []*entsql.Predicate{entsql.EQ("user_id", userID)}
	if len(concepts) > 0 {
		args := make([]any, len(concepts))
		for i, c := range concepts {
			args[i] = c
		}
		preds = append(preds, entsql.In("concept", args...))
	}
	query, args := builder.Select(masteryColumns...).
		From(entsql.Table(ConceptMasteryTable.Name)).
		Where(entsql.And(preds...)).
		Query()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mastery: %w", err)
	}
	defer rows.Close()

	out := make(map[string]MasteryRecord)
	for rows.Next() {
		rec, err := scanMastery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mastery: %w", err)
		}
		out[rec.Concept] = rec
	}
	return out, rows.Err()
}

// Raw upsert: the clamped increment has no builder equivalent.
const applyMasterySQL = `
INSERT INTO concept_mastery (user_id, concept, mastery, attempts, correct, confidence, updated_at)
VALUES (?, ?, MIN(1.0, MAX(0.0, ?)), 1, ?, ?, ?)
ON CONFLICT (user_id, concept) DO UPDATE SET
	mastery = MIN(1.0, MAX(0.0, concept_mastery.mastery + ?)),
	attempts = concept_mastery.attempts + 1,
	correct = concept_mastery.correct + excluded.correct,
	confidence = excluded.confidence,
	updated_at = excluded.updated_at
RETURNING mastery, attempts, correct, confidence`

func (r *masteryRepo) ApplyMasteryUpdate(ctx context.Context, userID, concept string, delta float64, correct *bool, confidence float64) (MasteryRecord, error) {
	rec := MasteryRecord{UserID: userID, Concept: concept}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(concept) == "" {
		return rec, errors.New("apply mastery update: user id and concept are required")
	}
	inc := 0
	if correct != nil && *correct {
		inc = 1
	}
	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, applyMasterySQL,
		userID, concept, delta, inc, confidence, now, delta,
	).Scan(&rec.Mastery, &rec.Attempts, &rec.Correct, &rec.Confidence)
	if err != nil {
		return rec, fmt.Errorf("apply mastery update: %w", err)
	}
	rec.UpdatedAt = now
	return rec, nil
}

func (r *masteryRepo) SetMastery(ctx context.Context, rec MasteryRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	query, args := builder.Insert(ConceptMasteryTable.Name).
		Columns(masteryColumns...).
		Values(rec.UserID, rec.Concept, clamp01(rec.Mastery), rec.Attempts, rec.Correct, clamp01(rec.Confidence), rec.UpdatedAt).
		OnConflict(entsql.ConflictColumns("user_id", "concept"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set mastery: %w", err)
	}
	return nil
}

func scanMastery(row rowScanner) (MasteryRecord, error) {
	var rec MasteryRecord
	err := row.Scan(&rec.UserID, &rec.Concept, &rec.Mastery, &rec.Attempts, &rec.Correct, &rec.Confidence, &rec.UpdatedAt)
	return rec, err
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

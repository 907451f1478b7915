package llm

import "context"

type contextKey string

const (
	purposeKey contextKey = "llm_purpose"
	sessionKey contextKey = "llm_session"
	modelKey   contextKey = "llm_model"
)

// WithPurpose labels generation calls made with ctx ("classify",
// "respond-explain", "critic", ...).
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

// PurposeFrom extracts the purpose label, "unknown" when unset.
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// WithSession attaches the tutor session id so request events can be
// traced back to the turn that caused them.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// SessionFrom returns the attached session id, or "".
func SessionFrom(ctx context.Context) string {
	v, _ := ctx.Value(sessionKey).(string)
	return v
}

// WithModelHint makes every generation call under ctx ask for model,
// overriding the per-request hint. Rollouts use it to pin one model per
// candidate.
func WithModelHint(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// ModelHintFrom returns the attached model hint, or "".
func ModelHintFrom(ctx context.Context) string {
	v, _ := ctx.Value(modelKey).(string)
	return v
}

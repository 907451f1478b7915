package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/store"
)

// LoggingProvider appends one llm_request_events row per attempt, tagged
// with the purpose and tutor session carried by the context.
type LoggingProvider struct {
	inner     Provider
	vendor    string
	eventRepo store.EventRepo
	log       *logger.Logger
}

// WithLogging wraps p. Failures to record are logged to log (discarded
// when nil) and never reach the caller.
func WithLogging(p Provider, vendor string, repo store.EventRepo, log *logger.Logger) Provider {
	if log == nil {
		log = logger.Nop()
	}
	return &LoggingProvider{inner: p, vendor: vendor, eventRepo: repo, log: log}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)

	ev := store.LLMRequestEventData{
		Provider:    l.vendor,
		Model:       l.inner.ModelID(),
		Purpose:     PurposeFrom(ctx),
		SessionID:   SessionFrom(ctx),
		LatencyMs:   time.Since(start).Milliseconds(),
		Success:     err == nil,
		RequestBody: transcript(req),
	}
	if req.Model != "" {
		ev.Model = req.Model
	}
	switch {
	case resp != nil:
		ev.Model = resp.Model
		ev.InputTokens = resp.Usage.InputTokens
		ev.OutputTokens = resp.Usage.OutputTokens
		ev.ResponseBody = string(resp.Content)
	case err != nil:
		ev.ResponseBody = string(rejectedContent(err))
	}
	if err != nil {
		ev.ErrorMessage = err.Error()
	}

	if logErr := l.eventRepo.AppendLLMRequest(context.WithoutCancel(ctx), ev); logErr != nil {
		l.log.Warn("record llm request event failed", "purpose", ev.Purpose, "error", logErr)
	}
	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// rejectedContent recovers what the model sent when the reply was refused.
func rejectedContent(err error) json.RawMessage {
	var invalid *ErrInvalidResponse
	if errors.As(err, &invalid) {
		return invalid.Content
	}
	var maxTok *ErrMaxTokensExceeded
	if errors.As(err, &maxTok) {
		return maxTok.Content
	}
	return nil
}

// transcript renders a request the way `tutor llm view` shows it.
func transcript(req Request) string {
	var b strings.Builder
	section := func(title, body string) {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", title, body)
	}
	if req.System != "" {
		section("system", req.System)
	}
	for _, m := range req.Messages {
		section(string(m.Role), m.Content)
	}
	if req.Schema != nil {
		if def, err := json.Marshal(req.Schema.Definition); err == nil {
			section("schema: "+req.Schema.Name, string(def))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

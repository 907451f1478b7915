package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/abhisek/tutorpolicy/internal/logger"
)

// ErrNoProvider is the fallback cause when no provider is configured.
var ErrNoProvider = errors.New("no generation provider configured")

// JSONRequest is one call to the generation service.
type JSONRequest struct {
	// Purpose labels the call in request events ("classify", "respond-explain", ...).
	Purpose string

	SystemPrompt string
	UserPrompt   string
	Schema       *Schema

	// DefaultPayload is returned on any failure and backs missing keys on
	// success.
	DefaultPayload map[string]any

	MaxTokens   int
	Temperature float64
	ModelHint   string
}

// Payload is a JSON object returned by the generation service.
type Payload map[string]any

// Result is the outcome of a JSONService call. Payload is never nil.
// Fallback reports that Payload is the request's default table, with Err
// holding the cause.
type Result struct {
	Payload  Payload
	Fallback bool
	Err      error
	Usage    Usage
}

// JSONService is the fixed request/response boundary to the generation
// service. It never returns an error: failures yield the default payload.
type JSONService struct {
	provider Provider
	timeout  time.Duration
	log      *logger.Logger
}

// NewJSONService wraps a provider. A nil provider makes every call fall
// back. A zero timeout leaves the caller's deadline in charge.
func NewJSONService(p Provider, timeout time.Duration, log *logger.Logger) *JSONService {
	if log == nil {
		log = logger.Nop()
	}
	return &JSONService{provider: p, timeout: timeout, log: log}
}

// Enabled reports whether calls can reach a provider.
func (s *JSONService) Enabled() bool {
	return s != nil && s.provider != nil
}

// Call sends the request and returns the parsed JSON object merged over the
// default payload.
func (s *JSONService) Call(ctx context.Context, req JSONRequest) Result {
	if !s.Enabled() {
		return fallback(req, ErrNoProvider)
	}

	ctx = WithPurpose(ctx, req.Purpose)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	model := req.ModelHint
	if hint := ModelHintFrom(ctx); hint != "" {
		model = hint
	}
	resp, err := s.provider.Generate(ctx, Request{
		System:      req.SystemPrompt,
		Messages:    []Message{{Role: RoleUser, Content: req.UserPrompt}},
		Schema:      req.Schema,
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		s.log.Warn("generation call failed", "purpose", req.Purpose, "fallback", "default_payload",
			"reason", FallbackReason(err), "error", err)
		return fallback(req, err)
	}

	obj, err := parseObject(resp.Content)
	if err != nil {
		s.log.Warn("generation payload unparseable", "purpose", req.Purpose, "fallback", "default_payload", "error", err)
		r := fallback(req, err)
		r.Usage = resp.Usage
		return r
	}

	merged := cloneMap(req.DefaultPayload)
	for k, v := range obj {
		if v != nil {
			merged[k] = v
		}
	}
	return Result{Payload: merged, Usage: resp.Usage}
}

func fallback(req JSONRequest, cause error) Result {
	return Result{Payload: cloneMap(req.DefaultPayload), Fallback: true, Err: cause}
}

func cloneMap(m map[string]any) Payload {
	out := make(Payload, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// parseObject decodes a JSON object, tolerating prose or code fences
// around it when the response was unstructured text.
func parseObject(raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return obj, nil
	}

	text := string(raw)
	var s string
	if json.Unmarshal(raw, &s) == nil {
		text = s
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("decode JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return obj, nil
}

// String returns the trimmed string at key, or def when absent or empty.
func (p Payload) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// Float returns the number at key. Numeric strings are parsed. ok is false
// when the value is absent or not numeric.
func (p Payload) Float(key string) (float64, bool) {
	v, present := p[key]
	if !present || v == nil {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FloatOr is Float with a default.
func (p Payload) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

// Bool returns the boolean at key. "true"/"yes"/"correct" strings count as
// true and "false"/"no" as false; anything else is not ok.
func (p Payload) Bool(key string) (bool, bool) {
	switch t := p[key].(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "correct":
			return true, true
		case "false", "no", "incorrect":
			return false, true
		}
	}
	return false, false
}

// Strings returns a string list at key, accepting a JSON array or a
// comma-separated string.
func (p Payload) Strings(key string) []string {
	var out []string
	switch t := p[key].(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range t {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(t, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

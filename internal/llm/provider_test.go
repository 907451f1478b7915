package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMockProvider_ServesQueueInOrder(t *testing.T) {
	mock := NewMockJSON(
		map[string]any{"intent": "question"},
		map[string]any{"intent": "answer"},
	)
	ctx := context.Background()

	for _, want := range []string{`{"intent":"question"}`, `{"intent":"answer"}`} {
		resp, err := mock.Generate(ctx, Request{})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if string(resp.Content) != want || resp.StopReason != "end" || resp.Model != "mock" {
			t.Fatalf("resp = %+v, want content %s", resp, want)
		}
	}

	_, err := mock.Generate(ctx, Request{})
	var unavail *ErrProviderUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("drained queue err = %T, want ErrProviderUnavailable", err)
	}
	if mock.CallCount() != 3 {
		t.Fatalf("CallCount = %d, want 3", mock.CallCount())
	}
}

func TestMockProvider_EchoesRequestedModel(t *testing.T) {
	mock := NewMockProvider(MockResponse{Content: json.RawMessage(`{}`), StopReason: "max_tokens"})
	resp, err := mock.Generate(context.Background(), Request{System: "sys", Model: "judge"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "judge" || resp.StopReason != "max_tokens" {
		t.Errorf("resp = %+v", resp)
	}
	if mock.Calls[0].System != "sys" || mock.ModelID() != "mock" {
		t.Errorf("recorded call = %+v", mock.Calls[0])
	}
}

func TestContextLabels(t *testing.T) {
	ctx := context.Background()
	if PurposeFrom(ctx) != "unknown" || SessionFrom(ctx) != "" || ModelHintFrom(ctx) != "" {
		t.Fatal("bare context carries labels")
	}
	ctx = WithModelHint(WithSession(WithPurpose(ctx, "respond-hint"), "s-1"), "claude-sonnet")
	if PurposeFrom(ctx) != "respond-hint" || SessionFrom(ctx) != "s-1" || ModelHintFrom(ctx) != "claude-sonnet" {
		t.Fatalf("labels = %q %q %q", PurposeFrom(ctx), SessionFrom(ctx), ModelHintFrom(ctx))
	}
}

func TestModelTable(t *testing.T) {
	tests := []struct {
		name  string
		table modelTable
		hint  string
		def   string
		want  string
	}{
		{"no hint keeps default", anthropicModels, "", "claude-haiku-4-5-20251001", "claude-haiku-4-5-20251001"},
		{"friendly anthropic", anthropicModels, "claude-sonnet", "x", "claude-sonnet-4-20250514"},
		{"friendly gemini", geminiModels, "gemini-pro", "x", "gemini-2.0-pro"},
		{"vendor id passes", geminiModels, "gemini-2.5-flash", "x", "gemini-2.5-flash"},
		{"nil table passes", nil, "meta-llama/llama-3-8b", "x", "meta-llama/llama-3-8b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.table.pick(Request{Model: tt.hint}, tt.def); got != tt.want {
				t.Errorf("pick(%q) = %q, want %q", tt.hint, got, tt.want)
			}
		})
	}
	if canonicalModel("claude-haiku") != "claude-haiku-4-5-20251001" {
		t.Error("canonicalModel did not resolve a friendly name")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anthropic without key", Config{Provider: "anthropic"}, true},
		{"anthropic with key", Config{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "k"}}, false},
		{"gemini without key", Config{Provider: "gemini"}, true},
		{"openrouter with key", Config{Provider: "openrouter", OpenRouter: OpenRouterConfig{APIKey: "k"}}, false},
		{"mock needs no key", Config{Provider: "mock"}, false},
		{"negative timeout", Config{Provider: "mock", Timeout: -1}, true},
		{"unknown provider", Config{Provider: "llama"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TUTOR_LLM_PROVIDER", "openai")
	t.Setenv("TUTOR_OPENAI_API_KEY", "sk-env")
	t.Setenv("TUTOR_OPENAI_MODEL", "gpt-4.1-mini")
	t.Setenv("TUTOR_LLM_TIMEOUT", "7s")
	t.Setenv("TUTOR_LLM_MAX_ATTEMPTS", "nope")

	cfg := ConfigFromEnv()
	if cfg.Provider != "openai" || cfg.OpenAI.APIKey != "sk-env" || cfg.OpenAI.Model != "gpt-4.1-mini" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Timeout.String() != "7s" || cfg.Retry.MaxAttempts != 3 {
		t.Errorf("timeout = %v attempts = %d", cfg.Timeout, cfg.Retry.MaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDiscoverConfig(t *testing.T) {
	for _, vk := range vendorKeys {
		t.Setenv(vk.env, "")
	}
	if _, ok := DiscoverConfig(); ok {
		t.Fatal("discovered a provider with no keys set")
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENROUTER_API_KEY", "sk-or")
	cfg, ok := DiscoverConfig()
	if !ok || cfg.Provider != "anthropic" || cfg.Anthropic.APIKey != "sk-ant" {
		t.Fatalf("cfg = %+v ok = %v", cfg, ok)
	}
}

func TestLookupCost(t *testing.T) {
	if c := LookupCost("gpt-4o-mini"); c == nil || c.InputPerMTok != 0.15 {
		t.Fatalf("gpt-4o-mini cost = %+v", c)
	}
	if LookupCost("gemini-flash") == nil {
		t.Fatal("friendly gemini name should resolve to a priced model")
	}
	if c := LookupCost("no-such-model"); c != nil {
		t.Fatalf("unpriced model cost = %+v", c)
	}
	if got := (ModelCost{InputPerMTok: 1, OutputPerMTok: 5}).Cost(1_000_000, 200_000); got != 2 {
		t.Errorf("Cost = %v, want 2", got)
	}
}

func TestFallbackReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNoProvider, "no_provider"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{&ErrRateLimit{Err: errors.New("429")}, "rate_limited"},
		{&ErrInvalidResponse{Err: errors.New("bad")}, "invalid_response"},
		{&ErrProviderUnavailable{}, "unavailable"},
		{&ErrMaxTokensExceeded{}, "max_tokens"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := FallbackReason(tt.err); got != tt.want {
			t.Errorf("FallbackReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

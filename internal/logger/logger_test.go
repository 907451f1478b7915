package logger

import "testing"

func TestSanitizeKVs_RedactsSecrets(t *testing.T) {
	l := Nop()
	got := l.sanitizeKVs([]any{"anthropic_api_key", "sk-123", "concept", "Limits"})
	if got[1] != "[REDACTED]" {
		t.Errorf("api key value = %v, want [REDACTED]", got[1])
	}
	if got[3] != "Limits" {
		t.Errorf("concept value = %v, want Limits", got[3])
	}
}

func TestSanitizeKVs_HashesIdentifiersWhenEnabled(t *testing.T) {
	l := Nop()
	l.redact = true
	got := l.sanitizeKVs([]any{"user_id", "u-1"})
	if got[1] == "u-1" {
		t.Fatal("expected user_id to be hashed")
	}
	if again := l.sanitizeKVs([]any{"user_id", "u-1"}); again[1] != got[1] {
		t.Errorf("hash not stable: %v vs %v", again[1], got[1])
	}
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	l := Nop()
	got := l.sanitizeKVs([]any{"a", 1, "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Errorf("got %v", got)
	}
}

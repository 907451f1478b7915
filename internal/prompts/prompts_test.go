package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBaselineRendersEveryKey(t *testing.T) {
	data := Data{
		Message:        "what is a limit?",
		TargetConcepts: "Limits",
		Concept:        "Limits",
		Level:          "beginner",
		Context:        "[Chunk 1 | c1] A limit is...",
		BasicsFirst:    true,
	}
	for key := range baselineSources {
		out, err := Baseline().Render(key, data)
		if err != nil {
			t.Errorf("render %s: %v", key, err)
			continue
		}
		if strings.TrimSpace(out) == "" {
			t.Errorf("render %s: empty output", key)
		}
	}
}

func TestRenderClassify(t *testing.T) {
	out, err := Baseline().Render(Classify, struct {
		Message, TargetConcepts, LastConcept string
	}{"I don't get derivatives", "Derivatives, Limits", "Limits"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Student message: I don't get derivatives", "Target concepts: Derivatives, Limits", "Last concept: Limits"} {
		if !strings.Contains(out, want) {
			t.Errorf("classify prompt missing %q:\n%s", want, out)
		}
	}
}

func TestRenderPreference(t *testing.T) {
	out, err := Baseline().Render(Preference, Data{
		Concept: "Limits",
		Message: "hi",
		Candidates: []Candidate{
			{Action: "explain", Reward: 0.81, Response: "A limit is..."},
			{Action: "ask", Reward: 0.5, Response: "What is a limit?"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[0] action=explain reward=0.81") || !strings.Contains(out, "[1] action=ask reward=0.50") {
		t.Errorf("unexpected preference prompt:\n%s", out)
	}
}

func TestRenderUnknownKey(t *testing.T) {
	if _, err := Baseline().Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	src := "classify: \"Classify: {{.Message}}\"\n"
	if err := os.WriteFile(filepath.Join(dir, "terse.yaml"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(dir, "terse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set.Name() != "terse" {
		t.Errorf("name = %q", set.Name())
	}
	out, _ := set.Render(Classify, map[string]string{"Message": "hello"})
	if out != "Classify: hello" {
		t.Errorf("override not applied: %q", out)
	}
	// Keys absent from the file come from the baseline.
	if _, err := set.Render(Explain, map[string]string{}); err != nil {
		t.Errorf("baseline fallback: %v", err)
	}
}

func TestLoadFallbacks(t *testing.T) {
	tests := []struct {
		name, dir, set string
	}{
		{"empty name", "/nonexistent", ""},
		{"baseline name", "/nonexistent", BaselineSet},
		{"no dir", "", "terse"},
		{"missing file", t.TempDir(), "terse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Load(tt.dir, tt.set)
			if err != nil {
				t.Fatal(err)
			}
			if set.Name() != BaselineSet {
				t.Errorf("name = %q, want baseline", set.Name())
			}
		})
	}
}

func TestLoadBadTemplate(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("classify: \"{{.Message\"\n"), 0o644)
	if _, err := Load(dir, "bad"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestConceptList(t *testing.T) {
	if got := ConceptList(nil); got != "None" {
		t.Errorf("empty = %q", got)
	}
	got := ConceptList([]string{"a", "b", "c", "d", "e", "f", "g"})
	if got != "a, b, c, d, e, f" {
		t.Errorf("truncated = %q", got)
	}
}

// Package prompts holds the named prompt templates sent to the generation
// service. A prompt set is a map of key to text/template source; the
// built-in "baseline" set can be overridden per key by <dir>/<set>.yaml.
package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt keys.
const (
	Classify      = "classify"
	Explain       = "explain"
	Ask           = "ask"
	Hint          = "hint"
	Reflect       = "reflect"
	Review        = "review"
	WorkedExample = "worked_example"
	Example       = "example"
	Assess        = "assess"
	Critic        = "critic"
	Preference    = "preference"
)

// BaselineSet is the name of the built-in prompt set.
const BaselineSet = "baseline"

// Data carries every field a prompt template may reference. Templates
// from override files are free to use any subset.
type Data struct {
	Message        string
	TargetConcepts string
	LastConcept    string
	Concept        string
	ReviewConcept  string
	FromConcept    string
	Level          string
	ContextType    string
	Background     string
	Prerequisites  string
	Avoid          string
	Context        string
	Example        string
	Question       string
	Action         string
	Response       string
	BasicsFirst    bool
	ColdStart      bool
	Candidates     []Candidate
}

// Candidate is one entry of a preference prompt.
type Candidate struct {
	Action   string
	Reward   float64
	Response string
}

// Set is a compiled prompt set.
type Set struct {
	name      string
	templates map[string]*template.Template
}

var (
	baselineOnce sync.Once
	baseline     *Set
)

// Baseline returns the built-in prompt set.
func Baseline() *Set {
	baselineOnce.Do(func() {
		s, err := compile(BaselineSet, baselineSources)
		if err != nil {
			panic(fmt.Sprintf("prompts: baseline set does not compile: %v", err))
		}
		baseline = s
	})
	return baseline
}

// Load returns the named set. Keys missing from <dir>/<name>.yaml fall
// back to the baseline. An empty name, an empty dir, or a missing file
// yields the baseline.
func Load(dir, name string) (*Set, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == BaselineSet || dir == "" {
		return Baseline(), nil
	}

	data, err := os.ReadFile(filepath.Join(dir, name+".yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return Baseline(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prompt set %s: %w", name, err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompt set %s: %w", name, err)
	}

	sources := make(map[string]string, len(baselineSources))
	for k, v := range baselineSources {
		sources[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			sources[k] = v
		}
	}
	return compile(name, sources)
}

func compile(name string, sources map[string]string) (*Set, error) {
	s := &Set{name: name, templates: make(map[string]*template.Template, len(sources))}
	for key, src := range sources {
		tmpl, err := template.New(key).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("prompt %s/%s: %w", name, key, err)
		}
		s.templates[key] = tmpl
	}
	return s, nil
}

// Name returns the set name, used to tag rollout records.
func (s *Set) Name() string {
	return s.name
}

// Render executes the template for key with data.
func (s *Set) Render(key string, data any) (string, error) {
	tmpl, ok := s.templates[key]
	if !ok {
		return "", fmt.Errorf("prompt %q not defined in set %s", key, s.name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", key, err)
	}
	return buf.String(), nil
}

// ConceptList formats up to six concepts for a prompt, or "None".
func ConceptList(concepts []string) string {
	if len(concepts) == 0 {
		return "None"
	}
	if len(concepts) > 6 {
		concepts = concepts[:6]
	}
	return strings.Join(concepts, ", ")
}

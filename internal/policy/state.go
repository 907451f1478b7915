package policy

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// StateVersion is the current PolicyState schema version.
const StateVersion = 1

// State is the per-session policy state. It is a value: mutators return a
// new State and never share slices or maps with the receiver.
//
// Keys written by other components are kept in Extra and survive a
// decode/encode round trip untouched.
type State struct {
	Version             int
	LearningPath        []string
	FocusConcept        string
	FocusLevel          Level
	ColdStart           bool
	ColdStartCompleted  []string
	ConsecutiveExplains int
	LastAction          Action

	Extra map[string]json.RawMessage
}

// NewState returns an empty state at the current version.
func NewState() State {
	return State{Version: StateVersion}
}

var knownKeys = []string{
	"version", "learning_path", "focus_concept", "focus_level", "cold_start",
	"cold_start_completed", "consecutive_explains", "last_action",
}

// ParseState decodes a stored policy. Empty input yields NewState. Fields
// of the wrong shape are reset to their zero value rather than failing.
func ParseState(raw []byte) (State, error) {
	s := NewState()
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return NewState(), fmt.Errorf("decode policy state: %w", err)
	}
	return s, nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*s = State{Version: StateVersion}
	decode := func(key string, dst any) {
		if v, ok := fields[key]; ok {
			// Tolerant: a malformed field keeps its zero value.
			_ = json.Unmarshal(v, dst)
		}
	}

	decode("version", &s.Version)
	if s.Version <= 0 {
		s.Version = StateVersion
	}
	decode("learning_path", &s.LearningPath)
	decode("focus_concept", &s.FocusConcept)
	var level string
	decode("focus_level", &level)
	if level != "" {
		s.FocusLevel = ParseLevel(level)
	}
	decode("cold_start", &s.ColdStart)
	decode("cold_start_completed", &s.ColdStartCompleted)
	s.ColdStartCompleted = dedupe(s.ColdStartCompleted)
	decode("consecutive_explains", &s.ConsecutiveExplains)
	if s.ConsecutiveExplains < 0 {
		s.ConsecutiveExplains = 0
	}
	var action string
	decode("last_action", &action)
	if a, ok := ParseAction(action); ok {
		s.LastAction = a
	}

	for k, v := range fields {
		if slices.Contains(knownKeys, k) {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]json.RawMessage)
		}
		s.Extra[k] = v
	}
	return nil
}

func (s State) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+len(knownKeys))
	for k, v := range s.Extra {
		out[k] = v
	}
	version := s.Version
	if version <= 0 {
		version = StateVersion
	}
	out["version"] = version
	out["learning_path"] = nonNil(s.LearningPath)
	out["focus_concept"] = nullable(s.FocusConcept)
	out["focus_level"] = nullable(string(s.FocusLevel))
	out["cold_start"] = s.ColdStart
	out["cold_start_completed"] = nonNil(s.ColdStartCompleted)
	out["consecutive_explains"] = s.ConsecutiveExplains
	out["last_action"] = nullable(string(s.LastAction))
	return json.Marshal(out)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.LearningPath = slices.Clone(s.LearningPath)
	c.ColdStartCompleted = slices.Clone(s.ColdStartCompleted)
	c.Extra = maps.Clone(s.Extra)
	return c
}

// ColdStartDone reports whether concept already had its check-in.
func (s State) ColdStartDone(concept string) bool {
	return slices.Contains(s.ColdStartCompleted, concept)
}

// MarkColdStart records a check-in for concept and raises the cold-start
// flag. Marking a completed concept again leaves the set unchanged.
func (s State) MarkColdStart(concept string) State {
	c := s.Clone()
	if concept != "" && !c.ColdStartDone(concept) {
		c.ColdStartCompleted = append(c.ColdStartCompleted, concept)
	}
	c.ColdStart = true
	return c
}

// RecordAction advances the consecutive-explain counter: explain after
// explain increments it, explain after anything else sets it to 1, any
// other action resets it to 0.
func (s State) RecordAction(a Action) State {
	c := s.Clone()
	switch {
	case a == ActionExplain && c.LastAction == ActionExplain:
		c.ConsecutiveExplains++
	case a == ActionExplain:
		c.ConsecutiveExplains = 1
	default:
		c.ConsecutiveExplains = 0
	}
	c.LastAction = a
	return c
}

// Update is the policy change produced by one turn.
type Update struct {
	LearningPath []string
	FocusConcept string
	FocusLevel   Level
	Action       Action

	// ColdStartConcept is set when this turn was a cold-start check-in.
	ColdStartConcept string
	ColdStart        bool
}

// Apply merges u into s. Only the named fields change; Extra and the
// completed cold-start set are carried forward.
func (s State) Apply(u Update) State {
	c := s.Clone()
	c.Version = StateVersion
	c.LearningPath = slices.Clone(u.LearningPath)
	c.FocusConcept = u.FocusConcept
	c.FocusLevel = u.FocusLevel
	if u.ColdStart {
		c = c.MarkColdStart(u.ColdStartConcept)
	} else {
		c.ColdStart = false
	}
	return c.RecordAction(u.Action)
}

func dedupe(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

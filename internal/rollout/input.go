package rollout

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/mastery"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

// Payload is the learner request behind a situation, replayed through the
// tutor when not in mock mode.
type Payload struct {
	Message        string   `json:"message"`
	UserID         string   `json:"user_id"`
	SessionID      string   `json:"session_id,omitempty"`
	ResourceID     string   `json:"resource_id,omitempty"`
	TargetConcepts []string `json:"target_concepts,omitempty"`
	FocusConcept   string   `json:"focus_concept,omitempty"`
}

// Entry is one situation to roll out.
type Entry struct {
	ID          string             `json:"id,omitempty"`
	Payload     *Payload           `json:"payload,omitempty"`
	Observation *tutor.Observation `json:"observation,omitempty"`
}

// ReadObservations reads entries from a JSON array or from JSON lines. An
// object without payload or observation keys is taken as a bare
// observation. Entries without an id are numbered from obs-1.
func ReadObservations(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("observations must be a JSON array of objects: %w", err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
		for line := 1; sc.Scan(); line++ {
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			if !json.Valid(text) {
				return nil, fmt.Errorf("observations line %d: invalid JSON", line)
			}
			raws = append(raws, append(json.RawMessage(nil), text...))
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("scan observations: %w", err)
		}
	}

	var out []Entry
	for i, raw := range raws {
		e, ok, err := decodeEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("observation %d: %w", i+1, err)
		}
		if !ok {
			continue
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("obs-%d", len(out)+1)
		}
		out = append(out, e)
	}
	return out, nil
}

// decodeEntry skips anything that is not a JSON object.
func decodeEntry(raw json.RawMessage) (Entry, bool, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil || keys == nil {
		return Entry{}, false, nil
	}
	_, hasPayload := keys["payload"]
	_, hasObs := keys["observation"]
	if hasPayload || hasObs {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return Entry{}, false, err
		}
		return e, true, nil
	}
	var obs tutor.Observation
	if err := json.Unmarshal(raw, &obs); err != nil {
		return Entry{}, false, err
	}
	return Entry{Observation: &obs}, true, nil
}

func (e Entry) payload() Payload {
	if e.Payload == nil {
		return Payload{}
	}
	return *e.Payload
}

// Evidence is what a candidate cited and how confident it was; it fills
// the action block of an incomplete observation.
type Evidence struct {
	SourceChunkIDs []string
	Confidence     float64
}

// EnsureObservation completes a possibly partial observation so every
// block the scorers read is populated. Fields already present are kept;
// override annotations are only added when override is set.
func EnsureObservation(e Entry, base *tutor.Observation, action policy.Action, slot int, ev Evidence, override string) tutor.Observation {
	var obs tutor.Observation
	if base != nil {
		obs = *base
	} else if e.Observation != nil {
		obs = *e.Observation
	}
	p := e.payload()

	if obs.Metadata.Version == 0 {
		obs.Metadata.Version = tutor.ObservationVersion
	}

	u := &obs.User
	if u.Message == "" {
		u.Message = p.Message
	}
	if u.UserID == "" {
		u.UserID = or(p.UserID, "mock-user")
	}
	if u.TargetConcepts == nil {
		u.TargetConcepts = nonNil(p.TargetConcepts)
	}

	c := &obs.Classifier
	if c.Intent == "" {
		c.Intent = classifier.IntentQuestion
	}
	if c.Affect == "" {
		c.Affect = classifier.AffectConfused
	}
	c.Intent = classifier.ParseIntent(string(c.Intent))
	c.Affect = classifier.ParseAffect(string(c.Affect))
	if c.Concept == "" && len(u.TargetConcepts) > 0 {
		c.Concept = u.TargetConcepts[0]
	}
	if c.Confidence == 0 {
		c.Confidence = 0.5
	}

	t := &obs.Tutor
	if t.FocusConcept == "" {
		t.FocusConcept = or(p.FocusConcept, c.Concept)
	}
	focus := t.FocusConcept
	if t.ConceptLevel == "" {
		t.ConceptLevel = policy.LevelBeginner
	}
	if t.InferenceConcept == "" {
		t.InferenceConcept = focus
	}
	defaultPath := u.TargetConcepts
	if len(defaultPath) == 0 && focus != "" {
		defaultPath = []string{focus}
	}
	if t.LearningPath == nil {
		t.LearningPath = nonNil(defaultPath)
	}
	if t.TargetConcepts == nil {
		t.TargetConcepts = nonNil(defaultPath)
	}
	if t.MasterySnapshot == nil && focus != "" {
		t.MasterySnapshot = mastery.Map{focus: {Mastery: 0.2}}
	}

	r := &obs.Retrieval
	if len(r.ChunkIDs) == 0 {
		r.ChunkIDs = []string{"chunk-mock-1"}
	}
	if r.SourceChunkIDs == nil {
		r.SourceChunkIDs = or2(ev.SourceChunkIDs, r.ChunkIDs)
	}
	if r.PedagogyRoles == nil {
		r.PedagogyRoles = []string{policy.RoleDefinition}
	}
	if len(r.Chunks) == 0 {
		r.Chunks = []tutor.ChunkSummary{{
			ID:           r.ChunkIDs[0],
			PedagogyRole: policy.RoleDefinition,
			Snippet:      or(p.Message, "Review the focus concept."),
			PageNumber:   1,
		}}
	}

	if obs.Policy.Version == 0 {
		obs.Policy = policy.NewState()
	}
	if obs.Policy.FocusConcept == "" {
		obs.Policy.FocusConcept = focus
	}

	s := &obs.Session
	if s.SessionID == "" {
		s.SessionID = or(p.SessionID, fmt.Sprintf("mock-session-%d", slot))
	}
	if s.ResourceID == "" {
		s.ResourceID = p.ResourceID
	}

	a := &obs.Action
	if a.Type == "" {
		a.Type = action
	}
	if a.Confidence == 0 {
		a.Confidence = ev.Confidence
	}
	if a.SourceChunkIDs == nil {
		a.SourceChunkIDs = or2(ev.SourceChunkIDs, r.ChunkIDs)
	}
	if a.Params == nil && focus != "" {
		a.Params = map[string]string{"concept": focus}
	}
	if override != "" {
		a.OverrideType = or(a.OverrideType, override)
		a.OverrideApplied = true
		a.AppliedOverrideType = or(a.AppliedOverrideType, string(a.Type))
	}
	return obs
}

func or(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func or2(s, def []string) []string {
	if len(s) == 0 {
		return def
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

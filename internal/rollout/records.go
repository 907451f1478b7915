package rollout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/abhisek/tutorpolicy/internal/critic"
	"github.com/abhisek/tutorpolicy/internal/reward"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

// CandidateMeta describes how a candidate was produced.
type CandidateMeta struct {
	SituationID    string   `json:"situation_id"`
	CandidateIndex int      `json:"candidate_index"`
	SourceChunkIDs []string `json:"source_chunk_ids"`
	Confidence     float64  `json:"confidence"`
	PromptSet      string   `json:"prompt_set,omitempty"`
	Model          string   `json:"model,omitempty"`
	Mock           bool     `json:"mock,omitempty"`
}

// Candidate is one scored response within a preference record.
type Candidate struct {
	Action   tutor.ActionBlock `json:"action"`
	Response string            `json:"response"`
	Reward   reward.Payload    `json:"reward"`
	Critic   critic.Payload    `json:"critic"`
	Meta     CandidateMeta     `json:"meta"`

	Observation tutor.Observation `json:"-"`
}

// SFTRecord is a single supervised example: one observation, the action
// taken and the response given, with its scores.
type SFTRecord struct {
	ID          string            `json:"id"`
	Observation tutor.Observation `json:"observation"`
	Action      tutor.ActionBlock `json:"action"`
	Response    string            `json:"response"`
	Reward      reward.Payload    `json:"reward"`
	Critic      critic.Payload    `json:"critic"`
	Meta        CandidateMeta     `json:"meta"`
}

// PreferenceMeta describes a whole situation.
type PreferenceMeta struct {
	SituationID string   `json:"situation_id"`
	Seed        int64    `json:"seed"`
	Mock        bool     `json:"mock"`
	PromptSet   string   `json:"prompt_set,omitempty"`
	Actions     []string `json:"actions"`
}

// PreferenceRecord lists every candidate of a situation in slot order with
// the ranker's decision.
type PreferenceRecord struct {
	ID          string            `json:"id"`
	Observation tutor.Observation `json:"observation"`
	Candidates  []Candidate       `json:"candidates"`
	Preference  critic.Decision   `json:"preference"`
	Meta        PreferenceMeta    `json:"meta"`
}

// Sink receives rollout records. Calls are serialized by the orchestrator.
type Sink interface {
	WriteSFT(SFTRecord) error
	WritePreference(PreferenceRecord) error
}

// JSONLWriter writes SFT and preference records as JSON lines to two files.
type JSONLWriter struct {
	mu   sync.Mutex
	sft  *os.File
	pref *os.File
	sEnc *json.Encoder
	pEnc *json.Encoder
}

// NewJSONLWriter creates both files, and their directories, truncating any
// previous contents.
func NewJSONLWriter(sftPath, prefPath string) (*JSONLWriter, error) {
	sft, err := create(sftPath)
	if err != nil {
		return nil, err
	}
	pref, err := create(prefPath)
	if err != nil {
		sft.Close()
		return nil, err
	}
	return &JSONLWriter{sft: sft, pref: pref, sEnc: encoder(sft), pEnc: encoder(pref)}, nil
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func encoder(f *os.File) *json.Encoder {
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return enc
}

func (w *JSONLWriter) WriteSFT(r SFTRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sEnc.Encode(r)
}

func (w *JSONLWriter) WritePreference(r PreferenceRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pEnc.Encode(r)
}

// Close closes both files.
func (w *JSONLWriter) Close() error {
	return errors.Join(w.sft.Close(), w.pref.Close())
}

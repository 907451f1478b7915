package tutor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/concepts"
	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/mastery"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/responses"
	"github.com/abhisek/tutorpolicy/internal/retrieval"
	"github.com/abhisek/tutorpolicy/internal/store"
)

var calculusCorpus = []retrieval.Chunk{
	{ID: "lim-1", ResourceID: "calc", PageNumber: 1, Snippet: "Limits describe the value a function approaches.", PedagogyRole: "definition"},
	{ID: "lim-2", ResourceID: "calc", PageNumber: 2, Snippet: "A worked limits example with a table of values.", PedagogyRole: "example"},
	{ID: "der-1", ResourceID: "calc", PageNumber: 3, Snippet: "Derivatives measure an instantaneous rate of change.", PedagogyRole: "definition"},
}

type fixture struct {
	store *store.Store
	agent *Agent
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newFixture wires an agent over an in-memory store. p may be nil, in
// which case every generation call falls back.
func newFixture(t *testing.T, p llm.Provider, corpus []retrieval.Chunk, configure ...func(*store.Store, *Deps, *Config)) *fixture {
	t.Helper()
	st := openStore(t)
	svc := llm.NewJSONService(p, 0, nil)

	deps := Deps{
		Sessions:   st.SessionRepo(),
		Events:     st.EventRepo(),
		Classifier: classifier.New(svc, nil, classifier.DefaultConfig(), nil),
		Mastery:    mastery.NewStoreReader(st.MasteryRepo()),
		Retriever:  retrieval.NewRetriever(retrieval.NewMemorySearcher(corpus), retrieval.DefaultConfig(), nil),
		Responses:  responses.NewBuilder(svc, nil, nil, responses.DefaultConfig(), nil),
	}
	cfg := DefaultConfig()
	for _, fn := range configure {
		fn(st, &deps, &cfg)
	}
	agent, err := NewAgent(deps, cfg)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	return &fixture{store: st, agent: agent}
}

func (f *fixture) setMastery(t *testing.T, user, concept string, score float64, attempts int) {
	t.Helper()
	err := f.store.MasteryRepo().SetMastery(context.Background(), store.MasteryRecord{
		UserID: user, Concept: concept, Mastery: score, Attempts: attempts,
	})
	if err != nil {
		t.Fatalf("SetMastery: %v", err)
	}
}

func (f *fixture) turn(t *testing.T, p TurnParams) *TurnResult {
	t.Helper()
	res, err := f.agent.Turn(context.Background(), p)
	if err != nil {
		t.Fatalf("Turn(%q): %v", p.Message, err)
	}
	return res
}

func TestNewAgent_RequiresCollaborators(t *testing.T) {
	if _, err := NewAgent(Deps{}, DefaultConfig()); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestTurn_RequiresInput(t *testing.T) {
	f := newFixture(t, nil, calculusCorpus)

	_, err := f.agent.Turn(context.Background(), TurnParams{UserID: "u1", Message: "   "})
	if !errors.Is(err, ErrMissingMessage) {
		t.Errorf("blank message: err = %v, want ErrMissingMessage", err)
	}
	_, err = f.agent.Turn(context.Background(), TurnParams{Message: "what is a limit?"})
	if !errors.Is(err, ErrMissingUserID) {
		t.Errorf("missing user: err = %v, want ErrMissingUserID", err)
	}
}

func TestTurn_ColdStartThenExplainLoop(t *testing.T) {
	f := newFixture(t, nil, calculusCorpus)
	base := TurnParams{UserID: "u1", SessionID: "s1", TargetConcepts: []string{"Limits"}}

	want := []struct {
		action    policy.Action
		cause     policy.Cause
		coldStart bool
	}{
		{policy.ActionAsk, policy.CauseColdStart, true},
		{policy.ActionExplain, policy.CauseExplainDefault, false},
		{policy.ActionExplain, policy.CauseExplainDefault, false},
		{policy.ActionAsk, policy.CauseConsecutiveExplains, false},
	}
	for i, w := range want {
		p := base
		p.Message = fmt.Sprintf("message %d", i)
		res := f.turn(t, p)
		if res.TurnIndex != i {
			t.Errorf("turn %d: index = %d", i, res.TurnIndex)
		}
		if res.Action != w.action || res.Cause != w.cause || res.ColdStart != w.coldStart {
			t.Errorf("turn %d: got %s/%s cold=%v, want %s/%s cold=%v",
				i, res.Action, res.Cause, res.ColdStart, w.action, w.cause, w.coldStart)
		}
		if !slices.Contains(res.Degraded, DegradedClassifier) {
			t.Errorf("turn %d: degraded = %v, want classifier flag", i, res.Degraded)
		}
		if i == 0 && res.Response != "What is a key idea about Limits?" {
			t.Errorf("cold start response = %q", res.Response)
		}
	}

	sess, err := f.store.SessionRepo().GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	state, err := policy.ParseState(sess.Policy)
	if err != nil {
		t.Fatal(err)
	}
	if state.ConsecutiveExplains != 0 || state.LastAction != policy.ActionAsk {
		t.Errorf("state after loop break = %+v", state)
	}
	if !slices.Equal(state.ColdStartCompleted, []string{"Limits"}) {
		t.Errorf("cold_start_completed = %v", state.ColdStartCompleted)
	}
	if sess.LastConcept != "Limits" || sess.LastAction != string(policy.ActionAsk) {
		t.Errorf("session last = %q/%q", sess.LastConcept, sess.LastAction)
	}

	events, err := f.store.EventRepo().QueryTutorEvents(context.Background(), store.QueryOpts{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	var coldStarts int
	for _, e := range events {
		if e.Kind == EventColdStart {
			coldStarts++
		}
	}
	if coldStarts != 1 {
		t.Errorf("cold start events = %d, want 1", coldStarts)
	}
}

func TestTurn_ProgressStages(t *testing.T) {
	f := newFixture(t, nil, calculusCorpus)
	f.setMastery(t, "u1", "Limits", 0.5, 2)

	res := f.turn(t, TurnParams{UserID: "u1", Message: "limits please", TargetConcepts: []string{"Limits"}})

	var names []string
	for _, s := range res.Progress {
		names = append(names, s.Name)
	}
	want := []string{"session", "classification", "knowledge", "retrieval", "decision", "response", "persist"}
	if !slices.Equal(names, want) {
		t.Errorf("stages = %v, want %v", names, want)
	}
	if res.Progress[1].Status != StageDegraded {
		t.Errorf("classification status = %q", res.Progress[1].Status)
	}
	if res.SessionID == "" || res.TurnID == "" {
		t.Errorf("ids not set: %+v", res)
	}
}

func TestTurn_AnswerReflectsAndUpdatesMastery(t *testing.T) {
	mock := llm.NewMockJSON(
		map[string]any{"intent": "answer", "affect": "neutral", "concept": "Limits", "confidence": 0.9, "needs_escalation": false},
		map[string]any{"response": "Nice. What made you pick that approach?", "confidence": 0.8, "citations": []string{"lim-1"}},
	)
	f := newFixture(t, mock, calculusCorpus, func(st *store.Store, d *Deps, c *Config) {
		c.MasteryUpdates = true
		d.MasteryWriter = st.MasteryRepo()
	})
	f.setMastery(t, "u1", "Limits", 0.5, 3)

	correct := true
	res := f.turn(t, TurnParams{
		UserID:         "u1",
		Message:        "The limit is 4",
		TargetConcepts: []string{"Limits"},
		AnswerCorrect:  &correct,
	})

	if res.Action != policy.ActionReflect || res.Cause != policy.CauseStudentAnswer {
		t.Fatalf("decision = %s/%s, want reflect/student_answer", res.Action, res.Cause)
	}
	if res.Response != "Nice. What made you pick that approach?" || res.Confidence != 0.8 {
		t.Errorf("response = %q (%.2f)", res.Response, res.Confidence)
	}
	if !slices.Equal(res.SourceChunkIDs, []string{"lim-1"}) {
		t.Errorf("cited = %v", res.SourceChunkIDs)
	}
	if res.Level != policy.LevelDeveloping {
		t.Errorf("level = %s", res.Level)
	}
	if len(res.Degraded) != 0 {
		t.Errorf("degraded = %v", res.Degraded)
	}
	if res.MasteryDelta == nil || math.Abs(*res.MasteryDelta-0.015) > 1e-9 {
		t.Fatalf("mastery delta = %v, want 0.015", res.MasteryDelta)
	}

	recs, err := f.store.MasteryRepo().MasteryFor(context.Background(), "u1", []string{"Limits"})
	if err != nil {
		t.Fatal(err)
	}
	rec := recs["Limits"]
	if math.Abs(rec.Mastery-0.515) > 1e-9 || rec.Attempts != 4 || rec.Correct != 1 {
		t.Errorf("stored mastery = %+v", rec)
	}
	if mock.CallCount() != 2 {
		t.Errorf("generation calls = %d, want 2", mock.CallCount())
	}

	turns, err := f.store.SessionRepo().ListTurns(context.Background(), res.SessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].MasteryDelta == nil || turns[0].Intent != "answer" {
		t.Errorf("stored turn = %+v", turns)
	}
}

func TestTurn_SkipMasteryWriteLeavesMastery(t *testing.T) {
	mock := llm.NewMockJSON(
		map[string]any{"intent": "answer", "affect": "engaged", "concept": "Limits", "confidence": 0.9, "needs_escalation": false},
		map[string]any{"response": "What made you pick that approach?", "confidence": 0.8, "citations": []string{"lim-1"}},
	)
	f := newFixture(t, mock, calculusCorpus, func(st *store.Store, d *Deps, c *Config) {
		c.MasteryUpdates = true
		d.MasteryWriter = st.MasteryRepo()
	})
	f.setMastery(t, "u1", "Limits", 0.5, 3)

	correct := true
	res := f.turn(t, TurnParams{
		UserID:           "u1",
		Message:          "The limit is 4",
		TargetConcepts:   []string{"Limits"},
		AnswerCorrect:    &correct,
		SkipMasteryWrite: true,
	})
	if res.MasteryDelta != nil {
		t.Errorf("mastery delta = %v, want none", *res.MasteryDelta)
	}

	recs, err := f.store.MasteryRepo().MasteryFor(context.Background(), "u1", []string{"Limits"})
	if err != nil {
		t.Fatal(err)
	}
	if rec := recs["Limits"]; rec.Mastery != 0.5 || rec.Attempts != 3 {
		t.Errorf("stored mastery = %+v", rec)
	}
}

func TestTurn_NoContextFallsBack(t *testing.T) {
	corpus := []retrieval.Chunk{calculusCorpus[2]}
	f := newFixture(t, nil, corpus)
	f.setMastery(t, "u1", "Limits", 0.5, 2)

	res := f.turn(t, TurnParams{UserID: "u1", Message: "tell me more", TargetConcepts: []string{"Limits"}})

	if res.Action != policy.ActionExplain {
		t.Fatalf("action = %s, want explain", res.Action)
	}
	if res.Response != responses.NoContextText || res.Confidence != responses.NoContextConfidence {
		t.Errorf("response = %q (%.2f)", res.Response, res.Confidence)
	}
	if len(res.SourceChunkIDs) != 0 {
		t.Errorf("cited = %v", res.SourceChunkIDs)
	}
	if res.Observation.Retrieval.Query != "tell me more" {
		t.Errorf("query = %q, want the message after the concept found nothing", res.Observation.Retrieval.Query)
	}
}

func TestTurn_PrerequisiteGatingReviews(t *testing.T) {
	graph, err := concepts.NewGraph([]concepts.Concept{
		{Name: "Limits"},
		{Name: "Derivatives", Prerequisites: []string{"Limits"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range []struct {
		name string
		cold bool
	}{{"known target", false}, {"cold target", true}} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, calculusCorpus, func(_ *store.Store, d *Deps, _ *Config) {
				d.Concepts = graph
				cfg := concepts.DefaultCheckerConfig()
				cfg.Enabled = true
				d.Checker = concepts.NewChecker(cfg)
			})
			// A target with no evidence would otherwise get its cold-start check-in.
			if !tt.cold {
				f.setMastery(t, "u1", "Derivatives", 0.3, 2)
			}

			res := f.turn(t, TurnParams{UserID: "u1", Message: "how do derivatives work", TargetConcepts: []string{"Derivatives"}})
			checkPrereqReview(t, res)
		})
	}
}

func checkPrereqReview(t *testing.T, res *TurnResult) {
	t.Helper()
	if res.Action != policy.ActionReview || res.Cause != policy.CausePrereqGating {
		t.Fatalf("decision = %s/%s, want review/prereq_gating", res.Action, res.Cause)
	}
	if res.ColdStart {
		t.Error("review turn reported as cold start")
	}
	if !slices.Equal(res.LearningPath, []string{"Limits", "Derivatives"}) {
		t.Errorf("learning path = %v", res.LearningPath)
	}
	if res.Concept != "Limits" {
		t.Errorf("inferred concept = %q, want the missing prerequisite", res.Concept)
	}
	if res.Readiness == nil || !slices.Equal(res.Readiness.Missing, []string{"Limits"}) {
		t.Errorf("readiness = %+v", res.Readiness)
	}
	if !strings.Contains(res.Response, "revisit Limits") {
		t.Errorf("response = %q", res.Response)
	}
	params := res.Observation.Action.Params
	if params["mode"] != string(policy.ModePrereqReview) || params["review_concept"] != "Limits" {
		t.Errorf("params = %v", params)
	}
	if res.Observation.Tutor.FocusConcept != "Derivatives" {
		t.Errorf("focus = %q", res.Observation.Tutor.FocusConcept)
	}
}

func TestTurn_Override(t *testing.T) {
	tests := []struct {
		name       string
		override   Override
		wantAction policy.Action
		wantParams map[string]string
	}{
		{
			name:       "known action",
			override:   Override{Type: "hint", Params: map[string]string{"difficulty": "hard", "colour": "blue"}},
			wantAction: policy.ActionHint,
			wantParams: map[string]string{"concept": "Limits", "level": "developing", "difficulty": "hard"},
		},
		{
			name:       "unknown action explains",
			override:   Override{Type: "dance"},
			wantAction: policy.ActionExplain,
			wantParams: map[string]string{"concept": "Limits", "level": "developing"},
		},
		{
			name:       "level param",
			override:   Override{Type: "ask", Params: map[string]string{"level": "mastering"}},
			wantAction: policy.ActionAsk,
			wantParams: map[string]string{"concept": "Limits", "level": "mastering"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, calculusCorpus)
			f.setMastery(t, "u1", "Limits", 0.5, 2)

			res := f.turn(t, TurnParams{UserID: "u1", Message: "go on", TargetConcepts: []string{"Limits"}, Override: tt.override})

			if res.Action != tt.wantAction || res.Cause != policy.CauseOverride {
				t.Errorf("decision = %s/%s", res.Action, res.Cause)
			}
			act := res.Observation.Action
			if !act.OverrideApplied || act.OverrideType != tt.override.Type || act.AppliedOverrideType != string(tt.wantAction) {
				t.Errorf("override block = %+v", act)
			}
			if len(act.Params) != len(tt.wantParams) {
				t.Errorf("params = %v, want %v", act.Params, tt.wantParams)
			}
			for k, v := range tt.wantParams {
				if act.Params[k] != v {
					t.Errorf("params[%s] = %q, want %q", k, act.Params[k], v)
				}
			}
		})
	}
}

func TestTurn_OverrideBeatsColdStart(t *testing.T) {
	f := newFixture(t, nil, calculusCorpus)

	res := f.turn(t, TurnParams{UserID: "u1", SessionID: "s1", Message: "hint please", TargetConcepts: []string{"Limits"}, Override: Override{Type: "hint"}})

	if res.Action != policy.ActionHint || res.Cause != policy.CauseOverride {
		t.Errorf("decision = %s/%s, want hint/override_request", res.Action, res.Cause)
	}
	if res.ColdStart {
		t.Error("overridden turn reported as cold start")
	}
	if !res.Observation.Action.OverrideApplied {
		t.Error("override should be reported as applied")
	}

	// The concept still owes its check-in once the learner drives the turn.
	res = f.turn(t, TurnParams{UserID: "u1", SessionID: "s1", Message: "what is a limit?", TargetConcepts: []string{"Limits"}})
	if res.Action != policy.ActionAsk || res.Cause != policy.CauseColdStart {
		t.Errorf("next decision = %s/%s, want ask/cold_start", res.Action, res.Cause)
	}

	events, err := f.store.EventRepo().QueryTutorEvents(context.Background(), store.QueryOpts{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	var decided []string
	for _, e := range events {
		if e.Kind == EventDecision {
			decided = append(decided, e.Kind)
		}
	}
	if len(decided) != 2 || decided[0] != "action_decided" {
		t.Errorf("decision events = %v", decided)
	}
}

func TestTurn_ConcurrentTurnsGetDistinctIndexes(t *testing.T) {
	f := newFixture(t, nil, calculusCorpus)
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.agent.Turn(context.Background(), TurnParams{
				UserID:         "u1",
				SessionID:      "shared",
				Message:        fmt.Sprintf("message %d", i),
				TargetConcepts: []string{"Limits"},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Turn: %v", err)
		}
	}

	turns, err := f.store.SessionRepo().ListTurns(context.Background(), "shared", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != n {
		t.Fatalf("turns = %d, want %d", len(turns), n)
	}
	for i, turn := range turns {
		if turn.Index != i {
			t.Errorf("turn %d has index %d", i, turn.Index)
		}
	}

	sess, err := f.store.SessionRepo().GetSession(context.Background(), "shared")
	if err != nil {
		t.Fatal(err)
	}
	state, _ := policy.ParseState(sess.Policy)
	if !slices.Equal(state.ColdStartCompleted, []string{"Limits"}) {
		t.Errorf("cold_start_completed = %v", state.ColdStartCompleted)
	}
}

func TestBuildObservation(t *testing.T) {
	long := strings.Repeat("é", SnippetChars+10)
	obs := BuildObservation(ObservationInput{
		Message:          "why?",
		TargetConcepts:   []string{"Limits"},
		Classification:   classifier.Classification{Intent: classifier.IntentQuestion, Affect: classifier.AffectEngaged, Concept: "Limits", Confidence: 0.8},
		InferenceConcept: "Limits",
		Chunks: []retrieval.Chunk{
			{ID: "a", Snippet: long, PedagogyRole: "definition", Score: 0.7, Similarity: 0.6, TextRank: 0.2, Difficulty: "introductory"},
			{ID: "b", Snippet: "short"},
		},
		Decision:       policy.Decision{Action: policy.ActionExplain, Cause: policy.CauseExplainDefault, Mode: policy.ModeDefault},
		SourceChunkIDs: []string{"a"},
		OverrideType:   "hint",
	})

	if obs.Metadata.Version != ObservationVersion {
		t.Errorf("version = %d", obs.Metadata.Version)
	}
	if got := len([]rune(obs.Retrieval.Chunks[0].Snippet)); got != SnippetChars {
		t.Errorf("snippet runes = %d, want %d", got, SnippetChars)
	}
	if obs.Retrieval.Chunks[0].Difficulty != "introductory" || obs.Retrieval.Chunks[0].BM25 != 0.2 {
		t.Errorf("chunk summary = %+v", obs.Retrieval.Chunks[0])
	}
	if !slices.Equal(obs.Retrieval.ChunkIDs, []string{"a", "b"}) || !slices.Equal(obs.CitedIDs(), []string{"a"}) {
		t.Errorf("ids = %v cited = %v", obs.Retrieval.ChunkIDs, obs.CitedIDs())
	}
	if obs.Concept() != "Limits" {
		t.Errorf("Concept() = %q, want inference concept when focus is empty", obs.Concept())
	}
	if obs.Action.OverrideApplied || obs.Action.AppliedOverrideType != "" {
		t.Errorf("override reported applied for a default decision: %+v", obs.Action)
	}
	if obs.Tutor.LearningPath == nil || obs.Retrieval.PedagogyRoles == nil {
		t.Error("list fields should encode as empty arrays")
	}

	back := obs.Retrieval.RetrievedChunks()
	if len(back) != 2 || back[0].Similarity != 0.6 || back[1].Snippet != "short" {
		t.Errorf("RetrievedChunks = %+v", back)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TUTOR_MASTERY_REALTIME_UPDATE", "true")
	t.Setenv("TUTOR_RAG_K", "6")

	cfg := ConfigFromEnv()
	if !cfg.MasteryUpdates || cfg.RetrievalK != 6 {
		t.Errorf("cfg = %+v", cfg)
	}
}

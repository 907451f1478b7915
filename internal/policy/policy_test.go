package policy

import (
	"encoding/json"
	"math"
	"slices"
	"testing"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/mastery"
)

func f(v float64) *float64 { return &v }

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score *float64
		want  Level
	}{
		{nil, LevelBeginner},
		{f(math.NaN()), LevelBeginner},
		{f(0), LevelBeginner},
		{f(0.29), LevelBeginner},
		{f(0.3), LevelDeveloping},
		{f(0.59), LevelDeveloping},
		{f(0.6), LevelProficient},
		{f(0.79), LevelProficient},
		{f(0.8), LevelMastering},
		{f(1.0), LevelMastering},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.want {
			v := "nil"
			if tt.score != nil {
				v = formatFloat(*tt.score)
			}
			t.Errorf("LevelFor(%s) = %s, want %s", v, got, tt.want)
		}
	}
}

func formatFloat(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestRoleSequence(t *testing.T) {
	if got := RoleSequence(LevelDeveloping); !slices.Equal(got, []string{"definition", "explanation", "example"}) {
		t.Errorf("developing = %v", got)
	}
	if got := RoleSequence(LevelProficient); !slices.Equal(got, []string{"example", "application", "derivation"}) {
		t.Errorf("proficient = %v", got)
	}
	if got := RoleSequence(LevelMastering); !slices.Equal(got, []string{"derivation", "proof", "application"}) {
		t.Errorf("mastering = %v", got)
	}
}

func TestNeedsColdStart(t *testing.T) {
	s := NewState()
	m := mastery.Map{
		"Limits":  {Mastery: 0, Attempts: 0},
		"Series":  {Mastery: 0.5, Attempts: 3},
		"Vectors": {Mastery: 0.1, Attempts: 4},
	}

	if !NeedsColdStart("Limits", m, s) {
		t.Error("zero attempts should need cold start")
	}
	if NeedsColdStart("Series", m, s) {
		t.Error("practiced concept should not need cold start")
	}
	if !NeedsColdStart("Vectors", m, s) {
		t.Error("low mastery should need cold start")
	}
	if !NeedsColdStart("Unseen", m, s) {
		t.Error("unknown concept should need cold start")
	}
	if NeedsColdStart("", m, s) {
		t.Error("empty concept never needs cold start")
	}

	s = s.MarkColdStart("Limits")
	if NeedsColdStart("Limits", m, s) {
		t.Error("completed concept should not need cold start again")
	}
}

func TestMarkColdStart_Idempotent(t *testing.T) {
	s := NewState().MarkColdStart("Limits")
	again := s.MarkColdStart("Limits")
	if !slices.Equal(again.ColdStartCompleted, []string{"Limits"}) {
		t.Errorf("completed = %v", again.ColdStartCompleted)
	}
	if !again.ColdStart {
		t.Error("cold start flag not raised")
	}
	// The receiver is untouched.
	if len(NewState().ColdStartCompleted) != 0 {
		t.Error("NewState shares state")
	}
	withEmpty := NewState().MarkColdStart("")
	if len(withEmpty.ColdStartCompleted) != 0 || !withEmpty.ColdStart {
		t.Errorf("empty concept: %+v", withEmpty)
	}
}

func TestSelectFocus(t *testing.T) {
	m := mastery.Map{
		"Limits":      {Mastery: 0.9},
		"Functions":   {Mastery: 0.95},
		"Derivatives": {Mastery: 0.5},
	}
	tests := []struct {
		name      string
		primary   string
		chain     []string
		fallbacks []string
		want      string
	}{
		{"unknown primary", "Series", []string{"Functions"}, nil, "Series"},
		{"weak primary", "Derivatives", nil, nil, "Derivatives"},
		{"mastered primary scans chain", "Limits", []string{"Functions", "Limits", "Derivatives"}, nil, "Derivatives"},
		{"chain unknown entry", "", []string{"Functions", "Integrals"}, nil, "Integrals"},
		{"fallback target", "Limits", []string{"Functions"}, []string{"", "Sequences"}, "Sequences"},
		{"primary last resort", "Limits", []string{"Functions"}, nil, "Limits"},
		{"first chain entry", "", []string{"Functions"}, nil, "Functions"},
		{"nothing", "", nil, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectFocus(tt.primary, tt.chain, m, tt.fallbacks); got != tt.want {
				t.Errorf("SelectFocus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecordAction_ConsecutiveExplains(t *testing.T) {
	s := NewState()
	s = s.RecordAction(ActionExplain)
	if s.ConsecutiveExplains != 1 {
		t.Fatalf("after first explain = %d", s.ConsecutiveExplains)
	}
	s = s.RecordAction(ActionExplain)
	if s.ConsecutiveExplains != 2 {
		t.Fatalf("after second explain = %d", s.ConsecutiveExplains)
	}

	d := Decide(Signals{Intent: classifier.IntentQuestion, Affect: classifier.AffectNeutral, HasContext: true, ConsecutiveExplains: s.ConsecutiveExplains})
	if d.Action != ActionAsk || d.Cause != CauseConsecutiveExplains {
		t.Fatalf("third turn decision = %+v", d)
	}
	s = s.RecordAction(d.Action)
	if s.ConsecutiveExplains != 0 || s.LastAction != ActionAsk {
		t.Errorf("after ask: %+v", s)
	}

	s = s.RecordAction(ActionExplain)
	if s.ConsecutiveExplains != 1 {
		t.Errorf("ask -> explain = %d, want 1", s.ConsecutiveExplains)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		s          Signals
		wantAction Action
		wantCause  Cause
	}{
		{"override beats cold start", Signals{ColdStart: true, Override: ActionHint, HasContext: true}, ActionHint, CauseOverride},
		{"override beats prereq gating", Signals{PrereqReview: true, Override: ActionReflect}, ActionReflect, CauseOverride},
		{"prereq gating beats cold start", Signals{PrereqReview: true, ColdStart: true, HasContext: true}, ActionReview, CausePrereqGating},
		{"cold start beats assessment", Signals{ColdStart: true, Intent: classifier.IntentReflection, Affect: classifier.AffectEngaged, HasContext: true, ConsecutiveExplains: 3}, ActionAsk, CauseColdStart},
		{"cold start without context", Signals{ColdStart: true}, ActionAsk, CauseColdStart},
		{"override", Signals{Override: ActionWorkedExample, Intent: classifier.IntentAnswer, HasContext: true}, ActionWorkedExample, CauseOverride},
		{"prereq gating", Signals{PrereqReview: true, Intent: classifier.IntentAnswer, HasContext: true}, ActionReview, CausePrereqGating},
		{"reflection engaged", Signals{Intent: classifier.IntentReflection, Affect: classifier.AffectEngaged, HasContext: true}, ActionAsk, CauseReflectionClaimed},
		{"reflection engaged no context", Signals{Intent: classifier.IntentReflection, Affect: classifier.AffectEngaged}, ActionExplain, CauseExplainDefault},
		{"explain cap", Signals{Intent: classifier.IntentQuestion, ConsecutiveExplains: 2, HasContext: true}, ActionAsk, CauseConsecutiveExplains},
		{"answer reflects", Signals{Intent: classifier.IntentAnswer, Affect: classifier.AffectNeutral, HasContext: true}, ActionReflect, CauseStudentAnswer},
		{"answer without context", Signals{Intent: classifier.IntentAnswer}, ActionExplain, CauseExplainDefault},
		{"confused", Signals{Intent: classifier.IntentQuestion, Affect: classifier.AffectConfused, HasContext: true}, ActionExplain, CauseConfusedBasics},
		{"unsure", Signals{Intent: classifier.IntentQuestion, Affect: classifier.AffectUnsure, HasContext: true}, ActionExplain, CauseConfusedBasics},
		{"frustrated is default", Signals{Intent: classifier.IntentQuestion, Affect: classifier.AffectFrustrated, HasContext: true}, ActionExplain, CauseExplainDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.s)
			if d.Action != tt.wantAction || d.Cause != tt.wantCause {
				t.Errorf("Decide = %+v, want %s/%s", d, tt.wantAction, tt.wantCause)
			}
			if d.ColdStart != (tt.wantCause == CauseColdStart) {
				t.Errorf("ColdStart = %v", d.ColdStart)
			}
		})
	}
}

func TestStateRoundTrip(t *testing.T) {
	s := NewState().Apply(Update{
		LearningPath:     []string{"Functions", "Limits"},
		FocusConcept:     "Limits",
		FocusLevel:       LevelDeveloping,
		Action:           ActionAsk,
		ColdStart:        true,
		ColdStartConcept: "Limits",
	})

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseState(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.LearningPath, s.LearningPath) || got.FocusConcept != "Limits" || !slices.Equal(got.ColdStartCompleted, []string{"Limits"}) {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.FocusLevel != LevelDeveloping || got.LastAction != ActionAsk || !got.ColdStart || got.Version != StateVersion {
		t.Errorf("round trip: %+v", got)
	}
}

func TestStatePreservesUnknownKeys(t *testing.T) {
	raw := []byte(`{"version":1,"strategy":"baseline","learning_path":["A"],"experiment":{"arm":2},"consecutive_explains":"bad"}`)
	s, err := ParseState(raw)
	if err != nil {
		t.Fatal(err)
	}
	if s.ConsecutiveExplains != 0 {
		t.Errorf("malformed counter = %d", s.ConsecutiveExplains)
	}
	s = s.Apply(Update{LearningPath: []string{"A", "B"}, FocusConcept: "B", Action: ActionExplain})

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatal(err)
	}
	if m["strategy"] != "baseline" {
		t.Errorf("strategy lost: %s", out)
	}
	if exp, ok := m["experiment"].(map[string]any); !ok || exp["arm"] != float64(2) {
		t.Errorf("experiment lost: %s", out)
	}
	if m["focus_concept"] != "B" || m["consecutive_explains"] != float64(1) {
		t.Errorf("update not applied: %s", out)
	}
}

func TestParseState_Empty(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("null")} {
		s, err := ParseState(raw)
		if err != nil || s.Version != StateVersion || s.FocusConcept != "" {
			t.Errorf("ParseState(%q) = %+v, %v", raw, s, err)
		}
	}
	if _, err := ParseState([]byte("[1,2]")); err == nil {
		t.Error("expected error for non-object policy")
	}
}

func TestParseAction(t *testing.T) {
	if a, ok := ParseAction(" Worked_Example "); !ok || a != ActionWorkedExample {
		t.Errorf("ParseAction = %q, %v", a, ok)
	}
	if _, ok := ParseAction("lecture"); ok {
		t.Error("unknown action accepted")
	}
	if !ActionHint.NeedsContext() || ActionAsk.NeedsContext() || ActionReflect.NeedsContext() {
		t.Error("NeedsContext wrong")
	}
}

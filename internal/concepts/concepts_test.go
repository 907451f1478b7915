package concepts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/abhisek/tutorpolicy/internal/mastery"
)

func calculusGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]Concept{
		{Name: "Functions"},
		{Name: "Algebra"},
		{Name: "Limits", Prerequisites: []string{"Functions", "Algebra"}},
		{Name: "Continuity", Prerequisites: []string{"Limits"}},
		{Name: "Derivatives", Prerequisites: []string{"Limits", "Continuity"}},
		{Name: "Integrals", Prerequisites: []string{"Derivatives"}},
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func TestNewGraph_TopologicalOrder(t *testing.T) {
	g := calculusGraph(t)
	order := g.TopologicalOrder()
	want := []string{"Algebra", "Functions", "Limits", "Continuity", "Derivatives", "Integrals"}
	if !slices.Equal(order, want) {
		t.Errorf("TopologicalOrder = %v, want %v", order, want)
	}
	if deps := g.Dependents("Limits"); !slices.Contains(deps, "Derivatives") || !slices.Contains(deps, "Continuity") {
		t.Errorf("Dependents(Limits) = %v", deps)
	}
	if got := g.Prerequisites("Derivatives"); !slices.Equal(got, []string{"Limits", "Continuity"}) {
		t.Errorf("Prerequisites(Derivatives) = %v", got)
	}
}

func TestNewGraph_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		concepts []Concept
		wantErr  string
	}{
		{"duplicate", []Concept{{Name: "A"}, {Name: "A"}}, "duplicate concept"},
		{"dangling", []Concept{{Name: "A", Prerequisites: []string{"Z"}}}, "unknown prerequisite"},
		{"cycle", []Concept{{Name: "A", Prerequisites: []string{"B"}}, {Name: "B", Prerequisites: []string{"A"}}}, "cycle detected"},
		{"empty name", []Concept{{Name: " "}}, "empty name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.concepts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGraphChain(t *testing.T) {
	g := calculusGraph(t)
	ctx := context.Background()

	got, err := g.Chain(ctx, []string{"Derivatives"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Algebra", "Functions", "Limits", "Continuity", "Derivatives"}
	if !slices.Equal(got, want) {
		t.Errorf("Chain(Derivatives) = %v, want %v", got, want)
	}

	got, _ = g.Chain(ctx, []string{"Limits", "Derivatives", "Limits", "Unknown"})
	want = []string{"Algebra", "Functions", "Limits", "Continuity", "Derivatives", "Unknown"}
	if !slices.Equal(got, want) {
		t.Errorf("Chain(multi) = %v, want %v", got, want)
	}

	g.MaxDepth = 1
	got, _ = g.Chain(ctx, []string{"Integrals"})
	if !slices.Equal(got, []string{"Derivatives", "Integrals"}) {
		t.Errorf("depth-1 chain = %v", got)
	}
}

func TestLoadGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	data := "concepts:\n  - name: Limits\n  - name: Derivatives\n    prerequisites: [Limits]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if !g.Has("Derivatives") || !slices.Equal(g.Prerequisites("Derivatives"), []string{"Limits"}) {
		t.Errorf("loaded graph missing edge: %v", g.TopologicalOrder())
	}
}

type failingLookup struct{ calls int }

func (f *failingLookup) Chain(context.Context, []string) ([]string, error) {
	f.calls++
	return nil, errors.New("graph unavailable")
}

type countingLookup struct {
	calls int
	chain []string
}

func (c *countingLookup) Chain(context.Context, []string) ([]string, error) {
	c.calls++
	return c.chain, nil
}

func TestChainOrFallback(t *testing.T) {
	ctx := context.Background()

	got, fb := ChainOrFallback(ctx, &failingLookup{}, []string{"Limits", " ", "Limits", "Series"}, nil)
	if !fb || !slices.Equal(got, []string{"Limits", "Series"}) {
		t.Errorf("failing lookup: %v fallback=%v", got, fb)
	}

	got, fb = ChainOrFallback(ctx, nil, []string{"Limits"}, nil)
	if fb || !slices.Equal(got, []string{"Limits"}) {
		t.Errorf("nil lookup: %v fallback=%v", got, fb)
	}

	// Inputs the lookup dropped are appended.
	got, fb = ChainOrFallback(ctx, &countingLookup{chain: []string{"Functions", "Limits"}}, []string{"Limits", "Series"}, nil)
	if fb || !slices.Equal(got, []string{"Functions", "Limits", "Series"}) {
		t.Errorf("merged chain: %v", got)
	}
}

func TestCachedLookup(t *testing.T) {
	next := &countingLookup{chain: []string{"Functions", "Limits"}}
	c := NewCachedLookup(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.Chain(ctx, []string{"Limits"})
		if err != nil || !slices.Equal(got, []string{"Functions", "Limits"}) {
			t.Fatalf("Chain = %v, %v", got, err)
		}
		got[0] = "mutated"
	}
	if next.calls != 1 {
		t.Errorf("underlying calls = %d, want 1", next.calls)
	}

	c.Flush()
	_, _ = c.Chain(ctx, []string{"Limits"})
	if next.calls != 2 {
		t.Errorf("calls after flush = %d, want 2", next.calls)
	}

	failing := &failingLookup{}
	fc := NewCachedLookup(failing, time.Minute)
	_, _ = fc.Chain(ctx, []string{"x"})
	_, _ = fc.Chain(ctx, []string{"x"})
	if failing.calls != 2 {
		t.Errorf("errors must not be cached, calls = %d", failing.calls)
	}
}

func TestCheckerCheck(t *testing.T) {
	c := NewChecker(DefaultCheckerConfig())
	chain := []string{"A", "B", "C", "D", "Target"}

	tests := []struct {
		name       string
		m          mastery.Map
		wantReady  bool
		wantConf   float64
		wantReview bool
	}{
		{"all solid", mastery.Map{"A": {Mastery: .9}, "B": {Mastery: .7}, "C": {Mastery: .8}, "D": {Mastery: .6}}, true, 1, false},
		{"missing prereq", mastery.Map{"A": {Mastery: .9}, "B": {Mastery: .9}, "C": {Mastery: .9}}, false, 0, true},
		{"two weak", mastery.Map{"A": {Mastery: .5}, "B": {Mastery: .5}, "C": {Mastery: .9}, "D": {Mastery: .9}}, true, .7, false},
		{"one very weak", mastery.Map{"A": {Mastery: .2}, "B": {Mastery: .9}, "C": {Mastery: .9}, "D": {Mastery: .9}}, true, .7, true},
		{"three weak", mastery.Map{"A": {Mastery: .5}, "B": {Mastery: .5}, "C": {Mastery: .5}, "D": {Mastery: .9}}, false, .3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Check("Target", chain, tt.m)
			if got.Ready != tt.wantReady || got.Confidence != tt.wantConf || got.ShouldReview != tt.wantReview {
				t.Errorf("Check = %+v", got)
			}
		})
	}

	if r := c.Check("NotInChain", chain, nil); !r.Ready || r.Confidence != 1 {
		t.Errorf("concept outside chain should be ready: %+v", r)
	}
}

func TestCheckerNextReady(t *testing.T) {
	c := NewChecker(DefaultCheckerConfig())
	chain := []string{"Functions", "Limits", "Derivatives"}

	m := mastery.Map{"Functions": {Mastery: .9}, "Limits": {Mastery: .3}}
	if got := c.NextReady(chain, m); got != "Limits" {
		t.Errorf("NextReady = %q, want Limits", got)
	}

	m = mastery.Map{"Functions": {Mastery: .9}, "Limits": {Mastery: .85}, "Derivatives": {Mastery: .95}}
	if got := c.NextReady(chain, m); got != "" {
		t.Errorf("NextReady with everything mastered = %q", got)
	}

	if got := c.NextReady(chain, nil); got != "Functions" {
		t.Errorf("NextReady with no mastery = %q, want Functions", got)
	}

	m = mastery.Map{"Functions": {Mastery: .5}, "Limits": {Mastery: .1}}
	if got := c.ReviewPath("Derivatives", chain, m); !slices.Equal(got, []string{"Functions", "Limits"}) {
		t.Errorf("ReviewPath = %v", got)
	}
}

func TestCheckerConfigFromEnv(t *testing.T) {
	t.Setenv("TUTOR_PREREQ_CHECK_ENABLED", "true")
	t.Setenv("TUTOR_PREREQ_MASTERY_THRESHOLD", "0.7")
	t.Setenv("TUTOR_PREREQ_MAX_WEAK", "1")
	cfg := CheckerConfigFromEnv()
	if !cfg.Enabled || cfg.MasteryThreshold != 0.7 || cfg.MaxWeak != 1 || cfg.WeakThreshold != 0.4 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestNeo4jConfigFromEnv(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	if _, ok := Neo4jConfigFromEnv(); ok {
		t.Fatal("expected ok=false without NEO4J_URI")
	}
	t.Setenv("NEO4J_URI", "bolt://localhost:7687")
	t.Setenv("NEO4J_TIMEOUT_SECONDS", "3")
	cfg, ok := Neo4jConfigFromEnv()
	if !ok || cfg.User != "neo4j" || cfg.Timeout != 3*time.Second || cfg.MaxDepth != DefaultMaxDepth {
		t.Errorf("cfg = %+v", cfg)
	}
	if q := chainQuery(4); !strings.Contains(q, "*0..4") {
		t.Errorf("query missing depth bound: %s", q)
	}
}

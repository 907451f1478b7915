package concepts

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Concept is a node of the prerequisite graph.
type Concept struct {
	Name          string   `yaml:"name" json:"name"`
	Prerequisites []string `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
}

// Graph is an in-memory prerequisite DAG with precomputed indices.
type Graph struct {
	byName     map[string]*Concept
	dependents map[string][]string
	topoOrder  []string
	topoIndex  map[string]int

	// MaxDepth bounds Chain traversal. Zero means DefaultMaxDepth.
	MaxDepth int
}

// NewGraph validates concepts and builds the graph. Duplicate names,
// dangling prerequisites and cycles are errors.
func NewGraph(concepts []Concept) (*Graph, error) {
	if err := validateConcepts(concepts); err != nil {
		return nil, err
	}

	g := &Graph{
		byName:     make(map[string]*Concept, len(concepts)),
		dependents: make(map[string][]string),
		topoIndex:  make(map[string]int, len(concepts)),
	}
	for i := range concepts {
		c := concepts[i]
		g.byName[c.Name] = &c
	}
	for _, c := range concepts {
		for _, p := range c.Prerequisites {
			g.dependents[p] = append(g.dependents[p], c.Name)
		}
	}

	// Kahn's algorithm with sorted queues for a deterministic order.
	inDegree := make(map[string]int, len(concepts))
	for _, c := range concepts {
		inDegree[c.Name] = len(c.Prerequisites)
	}
	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		g.topoIndex[name] = len(g.topoOrder)
		g.topoOrder = append(g.topoOrder, name)

		deps := slices.Clone(g.dependents[name])
		sort.Strings(deps)
		for _, d := range deps {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	return g, nil
}

type graphFile struct {
	Concepts []Concept `yaml:"concepts"`
}

// LoadGraph reads a YAML file of the form
//
//	concepts:
//	  - name: Derivatives
//	    prerequisites: [Limits]
func LoadGraph(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read concept graph: %w", err)
	}
	var f graphFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse concept graph %s: %w", path, err)
	}
	return NewGraph(f.Concepts)
}

// Has reports whether name is a node of the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.byName[name]
	return ok
}

// Prerequisites returns the direct prerequisites of name.
func (g *Graph) Prerequisites(name string) []string {
	c, ok := g.byName[name]
	if !ok {
		return nil
	}
	return slices.Clone(c.Prerequisites)
}

// Dependents returns the concepts that directly require name.
func (g *Graph) Dependents(name string) []string {
	return slices.Clone(g.dependents[name])
}

// TopologicalOrder returns every concept, prerequisites before dependents.
func (g *Graph) TopologicalOrder() []string {
	return slices.Clone(g.topoOrder)
}

// Chain implements Lookup. For each input it gathers ancestors up to
// MaxDepth hops, orders them topologically and appends the input itself.
// Concepts missing from the graph contribute only themselves.
func (g *Graph) Chain(ctx context.Context, concepts []string) ([]string, error) {
	depth := g.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}

	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, name := range Dedupe(concepts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ancestors := g.ancestors(name, depth)
		sort.Slice(ancestors, func(i, j int) bool {
			return g.topoIndex[ancestors[i]] < g.topoIndex[ancestors[j]]
		})
		for _, a := range ancestors {
			add(a)
		}
		add(name)
	}
	return out, nil
}

// ancestors is a breadth-first walk over prerequisite edges.
func (g *Graph) ancestors(name string, depth int) []string {
	visited := map[string]bool{name: true}
	frontier := []string{name}
	var out []string
	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, n := range frontier {
			c, ok := g.byName[n]
			if !ok {
				continue
			}
			for _, p := range c.Prerequisites {
				if visited[p] {
					continue
				}
				visited[p] = true
				out = append(out, p)
				next = append(next, p)
			}
		}
		frontier = next
	}
	return out
}

func validateConcepts(concepts []Concept) error {
	var errs []string

	names := make(map[string]bool, len(concepts))
	for _, c := range concepts {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, "concept with empty name")
			continue
		}
		if names[c.Name] {
			errs = append(errs, fmt.Sprintf("duplicate concept: %q", c.Name))
		}
		names[c.Name] = true
	}

	for _, c := range concepts {
		for _, p := range c.Prerequisites {
			if !names[p] {
				errs = append(errs, fmt.Sprintf("concept %q references unknown prerequisite %q", c.Name, p))
			}
		}
	}

	if len(errs) == 0 {
		inDegree := make(map[string]int, len(concepts))
		adj := make(map[string][]string)
		for _, c := range concepts {
			inDegree[c.Name] = len(c.Prerequisites)
			for _, p := range c.Prerequisites {
				adj[p] = append(adj[p], c.Name)
			}
		}
		var queue []string
		for _, c := range concepts {
			if inDegree[c.Name] == 0 {
				queue = append(queue, c.Name)
			}
		}
		visited := 0
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			visited++
			for _, d := range adj[n] {
				inDegree[d]--
				if inDegree[d] == 0 {
					queue = append(queue, d)
				}
			}
		}
		if visited < len(concepts) {
			var cyclic []string
			for _, c := range concepts {
				if inDegree[c.Name] > 0 {
					cyclic = append(cyclic, c.Name)
				}
			}
			errs = append(errs, fmt.Sprintf("cycle detected involving concepts: %s", strings.Join(cyclic, ", ")))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("concept graph validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Package concepts resolves ordered prerequisite chains for named concepts
// and judges whether a learner is ready for a concept given its chain.
package concepts

import (
	"context"
	"strings"

	"github.com/abhisek/tutorpolicy/internal/logger"
)

// DefaultMaxDepth bounds how many prerequisite hops a chain lookup follows.
const DefaultMaxDepth = 4

// Lookup returns the prerequisite chain for one or more concepts. The chain
// is ordered prerequisites-first, de-duplicated, and includes the inputs.
type Lookup interface {
	Chain(ctx context.Context, concepts []string) ([]string, error)
}

// Dedupe trims names, drops empties and keeps the first occurrence of each.
func Dedupe(concepts []string) []string {
	seen := make(map[string]bool, len(concepts))
	out := make([]string, 0, len(concepts))
	for _, c := range concepts {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// ChainOrFallback asks l for the chain of concepts. When the lookup fails
// the de-duplicated inputs are returned with fallback=true. A nil lookup
// is not a failure: the inputs are the chain.
func ChainOrFallback(ctx context.Context, l Lookup, concepts []string, log *logger.Logger) ([]string, bool) {
	inputs := Dedupe(concepts)
	if len(inputs) == 0 || l == nil {
		return inputs, false
	}
	chain, err := l.Chain(ctx, inputs)
	if err != nil {
		if log != nil {
			log.Warn("prerequisite lookup failed", "fallback", "input_concepts", "error", err)
		}
		return inputs, true
	}
	return mergeInputs(chain, inputs), false
}

// mergeInputs guarantees every input appears in the chain, appending the
// ones a lookup dropped.
func mergeInputs(chain, inputs []string) []string {
	out := Dedupe(chain)
	present := make(map[string]bool, len(out))
	for _, c := range out {
		present[c] = true
	}
	for _, c := range inputs {
		if !present[c] {
			out = append(out, c)
			present[c] = true
		}
	}
	return out
}

// Package retrieval fetches grounding passages for a turn from a search
// collaborator and reranks them for the learner's level.
package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// Chunk is one retrieved passage.
type Chunk struct {
	ID           string  `json:"id"`
	ResourceID   string  `json:"resource_id,omitempty"`
	PageNumber   int     `json:"page_number"`
	Snippet      string  `json:"snippet"`
	PedagogyRole string  `json:"pedagogy_role,omitempty"`
	Score        float64 `json:"score"`
	SourceOffset int     `json:"source_offset,omitempty"`
	Difficulty   string  `json:"difficulty,omitempty"`

	// Similarity and TextRank are the raw signals behind Score when the
	// searcher blends several; zero when unknown.
	Similarity float64 `json:"sim,omitempty"`
	TextRank   float64 `json:"text_rank,omitempty"`
}

// Query is a search request.
type Query struct {
	Text       string
	K          int
	ResourceID string
}

// Searcher is the search collaborator. It must tolerate K well above what
// the caller finally keeps.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Chunk, error)
}

// NeighborSource is implemented by searchers that can return the passages
// adjacent to a chunk on the same page.
type NeighborSource interface {
	Neighbors(ctx context.Context, c Chunk, window int) ([]Chunk, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IDs returns the non-empty chunk ids in order.
func IDs(chunks []Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.ID != "" {
			out = append(out, c.ID)
		}
	}
	return out
}

// FormatSnippets renders chunks as numbered context blocks for a prompt.
// Chunks without text are skipped but keep their number.
func FormatSnippets(chunks []Chunk) string {
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		snippet := strings.TrimSpace(c.Snippet)
		if snippet == "" {
			continue
		}
		label := c.ID
		if label == "" {
			label = "?"
		}
		parts = append(parts, fmt.Sprintf("[Chunk %d | %s] %s", i+1, label, snippet))
	}
	return strings.Join(parts, "\n\n")
}

type pageKey struct {
	resource string
	page     int
}

func keyOf(c Chunk) pageKey {
	return pageKey{resource: c.ResourceID, page: c.PageNumber}
}

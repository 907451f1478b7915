package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"unicode"
)

// MemorySearcher scores an in-memory corpus by token overlap with the
// query. It backs the CLI when no database is configured and the tests.
type MemorySearcher struct {
	chunks []Chunk
	tokens []map[string]bool
}

// NewMemorySearcher indexes chunks in the given order. SourceOffset orders
// passages within a page for neighbor lookups.
func NewMemorySearcher(chunks []Chunk) *MemorySearcher {
	s := &MemorySearcher{
		chunks: slices.Clone(chunks),
		tokens: make([]map[string]bool, len(chunks)),
	}
	for i, c := range s.chunks {
		s.tokens[i] = tokenSet(c.Snippet)
	}
	return s
}

// LoadJSONL reads one Chunk per line. Blank lines are skipped.
func LoadJSONL(r io.Reader) ([]Chunk, error) {
	var out []Chunk
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var c Chunk
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.ID == "" {
			c.ID = fmt.Sprintf("chunk-%d", line)
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadMemorySearcher opens a JSONL corpus file.
func LoadMemorySearcher(path string) (*MemorySearcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	chunks, err := LoadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	return NewMemorySearcher(chunks), nil
}

// Len is the corpus size.
func (s *MemorySearcher) Len() int { return len(s.chunks) }

// Search returns chunks sharing at least one token with the query, ordered
// by the share of query tokens they contain.
func (s *MemorySearcher) Search(ctx context.Context, q Query) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := tokenSet(q.Text)
	if len(query) == 0 {
		return nil, nil
	}

	var out []Chunk
	for i, c := range s.chunks {
		if q.ResourceID != "" && c.ResourceID != q.ResourceID {
			continue
		}
		hit := 0
		for tok := range query {
			if s.tokens[i][tok] {
				hit++
			}
		}
		if hit == 0 {
			continue
		}
		c.TextRank = float64(hit) / float64(len(query))
		c.Score = c.TextRank
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b Chunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if q.K > 0 && len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

// Neighbors returns up to window passages on each side of c within the
// same page, nearest first.
func (s *MemorySearcher) Neighbors(ctx context.Context, c Chunk, window int) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var page []Chunk
	for _, other := range s.chunks {
		if keyOf(other) == keyOf(c) {
			page = append(page, other)
		}
	}
	slices.SortStableFunc(page, func(a, b Chunk) int { return a.SourceOffset - b.SourceOffset })

	at := slices.IndexFunc(page, func(o Chunk) bool { return o.ID == c.ID })
	if at < 0 {
		return nil, nil
	}
	var out []Chunk
	for d := 1; d <= window; d++ {
		if at-d >= 0 {
			out = append(out, page[at-d])
		}
		if at+d < len(page) {
			out = append(out, page[at+d])
		}
	}
	return out, nil
}

func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			out[f] = true
		}
	}
	return out
}

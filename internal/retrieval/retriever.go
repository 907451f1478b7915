package retrieval

import (
	"context"
	"errors"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/abhisek/tutorpolicy/internal/logger"
)

// ErrNoSearcher is the fallback cause when no search collaborator is set.
var ErrNoSearcher = errors.New("no search collaborator configured")

// Config tunes filtering, reranking and neighbor expansion.
type Config struct {
	MinScore    float64 // relevance floor on the blended score
	MinSim      float64 // alternative floor on vector similarity
	MinTextRank float64 // alternative floor on full-text rank

	PerPage int // hits kept per (resource, page) before expansion

	NeighborWindow int // neighbors on each side; 0 disables expansion
	MaxChunks      int // total cap; K is clamped to it and neighbors fill the rest
	MaxPerPage     int // per-page cap after expansion

	HardRoleFilter bool // keep only role matches, relaxed when none match

	Timeout time.Duration
}

// DefaultConfig returns the standard retrieval tuning.
func DefaultConfig() Config {
	return Config{
		MinScore:    0.35,
		MinSim:      0.30,
		MinTextRank: 0.15,
		PerPage:     1,
		MaxChunks:   8,
		MaxPerPage:  3,
		Timeout:     5 * time.Second,
	}
}

// ConfigFromEnv overlays TUTOR_RAG_* variables on the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	setFloat := func(dst *float64, key string) {
		if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
			*dst = f
		}
	}
	setInt := func(dst *int, key string) {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
			*dst = n
		}
	}
	setFloat(&cfg.MinScore, "TUTOR_RAG_MIN_SCORE")
	setFloat(&cfg.MinSim, "TUTOR_RAG_MIN_SIM")
	setFloat(&cfg.MinTextRank, "TUTOR_RAG_MIN_TEXT_RANK")
	setInt(&cfg.NeighborWindow, "TUTOR_RAG_NEIGHBOR_WINDOW")
	setInt(&cfg.MaxChunks, "TUTOR_RAG_MAX_CHUNKS")
	setInt(&cfg.MaxPerPage, "TUTOR_RAG_MAX_PER_PAGE")
	if v := os.Getenv("TUTOR_RAG_ROLE_FILTER"); v != "" {
		cfg.HardRoleFilter, _ = strconv.ParseBool(v)
	}
	if d, err := time.ParseDuration(os.Getenv("TUTOR_RAG_TIMEOUT")); err == nil && d > 0 {
		cfg.Timeout = d
	}
	return cfg
}

// Request is one retrieval.
type Request struct {
	Query      string
	Roles      []string // desired pedagogy roles, most wanted first
	K          int      // final count before expansion; 0 means 4
	ResourceID string
}

// Result is the outcome of a retrieval. Fallback is set when the search
// collaborator failed and Chunks is empty as a consequence.
type Result struct {
	Chunks       []Chunk
	Fallback     bool
	RelaxedFloor bool
	RelaxedRoles bool
	Err          error
}

// Retriever wraps a Searcher with relevance filtering, role boosting,
// page diversification and neighbor expansion.
type Retriever struct {
	searcher Searcher
	cfg      Config
	log      *logger.Logger
}

// NewRetriever creates a Retriever. A nil searcher makes every retrieval
// fall back to no context.
func NewRetriever(s Searcher, cfg Config, log *logger.Logger) *Retriever {
	if log == nil {
		log = logger.Nop()
	}
	return &Retriever{searcher: s, cfg: cfg, log: log}
}

// RoleBoost is the score bonus for a passage whose role sits at index idx
// of the desired sequence.
func RoleBoost(idx int) float64 {
	return max(0.12, 0.25-0.05*float64(idx))
}

// Retrieve never returns an error; failures are reported in the Result.
func (r *Retriever) Retrieve(ctx context.Context, req Request) Result {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Result{}
	}
	if r.searcher == nil {
		return Result{Fallback: true, Err: ErrNoSearcher}
	}
	k := req.K
	if k <= 0 {
		k = 4
	}
	if r.cfg.MaxChunks > 0 {
		k = min(k, r.cfg.MaxChunks)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	raw, err := r.searcher.Search(ctx, Query{Text: query, K: max(4*k, 20), ResourceID: req.ResourceID})
	if err != nil {
		r.log.Warn("search failed", "fallback", "empty_context", "query", query, "error", err)
		return Result{Fallback: true, Err: err}
	}

	var res Result
	hits := r.filterRelevant(raw)
	if len(hits) == 0 && len(raw) > 0 {
		hits = slices.Clone(raw)
		res.RelaxedFloor = true
	}

	hits, res.RelaxedRoles = r.boostRoles(hits, req.Roles)
	hits = dedupeByID(hits)
	hits = diversifyByPage(hits, max(r.cfg.PerPage, 1))
	if len(hits) > k {
		hits = hits[:k]
	}

	if r.cfg.NeighborWindow > 0 {
		if ns, ok := r.searcher.(NeighborSource); ok {
			hits = r.expand(ctx, ns, hits)
		}
	}

	res.Chunks = hits
	r.log.Debug("retrieval complete", "query", query, "raw", len(raw), "kept", len(hits),
		"relaxed_floor", res.RelaxedFloor, "relaxed_roles", res.RelaxedRoles)
	return res
}

func (r *Retriever) filterRelevant(chunks []Chunk) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= r.cfg.MinScore ||
			(c.Similarity > 0 && c.Similarity >= r.cfg.MinSim) ||
			(c.TextRank > 0 && c.TextRank >= r.cfg.MinTextRank) {
			out = append(out, c)
		}
	}
	return out
}

// boostRoles adds RoleBoost to matching passages and stable-sorts by score
// descending. With a hard role filter, non-matching passages are dropped
// unless that would leave nothing.
func (r *Retriever) boostRoles(chunks []Chunk, roles []string) ([]Chunk, bool) {
	if len(chunks) == 0 {
		return chunks, false
	}
	priority := make(map[string]int, len(roles))
	for i, role := range roles {
		if _, seen := priority[role]; !seen {
			priority[role] = i
		}
	}

	relaxed := false
	candidates := chunks
	if r.cfg.HardRoleFilter && len(roles) > 0 {
		var only []Chunk
		for _, c := range chunks {
			if _, ok := priority[c.PedagogyRole]; ok {
				only = append(only, c)
			}
		}
		if len(only) > 0 {
			candidates = only
		} else {
			relaxed = true
		}
	}

	out := make([]Chunk, len(candidates))
	for i, c := range candidates {
		if idx, ok := priority[c.PedagogyRole]; ok && c.PedagogyRole != "" {
			c.Score += RoleBoost(idx)
		}
		out[i] = c
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
	return out, relaxed
}

// expand inserts same-page neighbors after each hit, bounded by the total
// and per-page caps. Every hit is kept; only neighbors are capped.
// Neighbor lookups that fail are skipped.
func (r *Retriever) expand(ctx context.Context, ns NeighborSource, hits []Chunk) []Chunk {
	total := r.cfg.MaxChunks
	if total <= 0 {
		total = len(hits)
	}
	perPage := r.cfg.MaxPerPage

	seen := make(map[string]bool, len(hits))
	pageCount := make(map[pageKey]int)
	for _, h := range hits {
		seen[h.ID] = true
		pageCount[keyOf(h)]++
	}

	out := slices.Clone(hits)
	if len(out) >= total {
		return out
	}

	for _, h := range hits {
		neighbors, err := ns.Neighbors(ctx, h, r.cfg.NeighborWindow)
		if err != nil {
			r.log.Warn("neighbor lookup failed", "chunk_id", h.ID, "error", err)
			continue
		}
		at := slices.IndexFunc(out, func(c Chunk) bool { return c.ID == h.ID }) + 1
		for _, n := range neighbors {
			if len(out) >= total {
				return out
			}
			if n.ID == "" || seen[n.ID] || keyOf(n) != keyOf(h) {
				continue
			}
			if perPage > 0 && pageCount[keyOf(n)] >= perPage {
				break
			}
			seen[n.ID] = true
			pageCount[keyOf(n)]++
			out = slices.Insert(out, at, n)
			at++
		}
	}
	return out
}

func dedupeByID(chunks []Chunk) []Chunk {
	seen := make(map[string]bool, len(chunks))
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func diversifyByPage(chunks []Chunk, perPage int) []Chunk {
	counts := make(map[pageKey]int)
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		key := keyOf(c)
		if counts[key] < perPage {
			out = append(out, c)
			counts[key]++
		}
	}
	return out
}

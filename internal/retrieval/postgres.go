package retrieval

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/abhisek/tutorpolicy/internal/logger"
)

// Hybrid blend weights for vector similarity and full-text rank.
const (
	SimWeight  = 0.7
	TextWeight = 0.3
)

// snippetChars bounds the snippet pulled from a passage's full text.
const snippetChars = 800

// PGChunk is the passages table row.
type PGChunk struct {
	ID           string          `gorm:"primaryKey;type:text"`
	ResourceID   string          `gorm:"type:text;index:idx_chunks_page,priority:1"`
	PageNumber   int             `gorm:"index:idx_chunks_page,priority:2"`
	SourceOffset int             `gorm:"index:idx_chunks_page,priority:3"`
	FullText     string          `gorm:"type:text;not null"`
	PedagogyRole string          `gorm:"type:text"`
	Difficulty   string          `gorm:"type:text"`
	Embedding    pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt    time.Time
}

// TableName pins the table name.
func (PGChunk) TableName() string { return "chunks" }

type pgRow struct {
	ID           string
	ResourceID   string
	PageNumber   int
	SourceOffset int
	Snippet      string
	PedagogyRole string
	Difficulty   string
	Sim          float64
	TextRank     float64
}

func (r pgRow) chunk() Chunk {
	c := Chunk{
		ID:           r.ID,
		ResourceID:   r.ResourceID,
		PageNumber:   r.PageNumber,
		SourceOffset: r.SourceOffset,
		Snippet:      r.Snippet,
		PedagogyRole: r.PedagogyRole,
		Difficulty:   r.Difficulty,
		Similarity:   r.Sim,
		TextRank:     r.TextRank,
	}
	if r.Sim > 0 {
		c.Score = SimWeight*r.Sim + TextWeight*r.TextRank
	} else {
		c.Score = r.TextRank
	}
	return c
}

// PGSearcher searches passages stored in Postgres. With an Embedder it
// blends pgvector cosine similarity with full-text rank; without one, or
// when embedding fails, it ranks by full text alone.
type PGSearcher struct {
	db       *gorm.DB
	embedder Embedder
	log      *logger.Logger
}

// OpenPostgres connects with gorm's postgres driver and a silent gorm
// logger.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// NewPGSearcher wraps an open database. embedder may be nil.
func NewPGSearcher(db *gorm.DB, embedder Embedder, log *logger.Logger) *PGSearcher {
	if log == nil {
		log = logger.Nop()
	}
	return &PGSearcher{db: db, embedder: embedder, log: log}
}

// NewPGSearcherFromEnv connects to TUTOR_PG_DSN. It returns nil, nil when
// the variable is unset.
func NewPGSearcherFromEnv(ctx context.Context, log *logger.Logger) (*PGSearcher, error) {
	dsn := os.Getenv("TUTOR_PG_DSN")
	if dsn == "" {
		return nil, nil
	}
	db, err := OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	emb, err := NewGeminiEmbedderFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	var e Embedder
	if emb != nil {
		e = emb
	}
	return NewPGSearcher(db, e, log), nil
}

// Migrate creates the vector extension and the passages table.
func (s *PGSearcher) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	return db.AutoMigrate(&PGChunk{})
}

const hybridSQL = `
	SELECT id, resource_id, page_number, source_offset,
	       LEFT(full_text, ?) AS snippet, pedagogy_role, difficulty,
	       1 - (embedding <=> ?) AS sim,
	       ts_rank_cd(to_tsvector('english', full_text), plainto_tsquery('english', ?)) AS text_rank
	FROM chunks
	WHERE embedding IS NOT NULL AND (? = '' OR resource_id = ?)
	ORDER BY (? * (1 - (embedding <=> ?))
	        + ? * ts_rank_cd(to_tsvector('english', full_text), plainto_tsquery('english', ?))) DESC, id
	LIMIT ?`

const textSQL = `
	SELECT id, resource_id, page_number, source_offset,
	       LEFT(full_text, ?) AS snippet, pedagogy_role, difficulty,
	       0 AS sim,
	       ts_rank_cd(to_tsvector('english', full_text), plainto_tsquery('english', ?)) AS text_rank
	FROM chunks
	WHERE to_tsvector('english', full_text) @@ plainto_tsquery('english', ?)
	  AND (? = '' OR resource_id = ?)
	ORDER BY text_rank DESC, id
	LIMIT ?`

// Search runs the hybrid query when an embedding is available.
func (s *PGSearcher) Search(ctx context.Context, q Query) ([]Chunk, error) {
	k := q.K
	if k <= 0 {
		k = 20
	}

	var rows []pgRow
	if vec := s.embed(ctx, q.Text); vec != nil {
		v := pgvector.NewVector(vec)
		err := s.db.WithContext(ctx).Raw(hybridSQL,
			snippetChars, v, q.Text, q.ResourceID, q.ResourceID,
			SimWeight, v, TextWeight, q.Text, k,
		).Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("hybrid search: %w", err)
		}
	} else {
		err := s.db.WithContext(ctx).Raw(textSQL,
			snippetChars, q.Text, q.Text, q.ResourceID, q.ResourceID, k,
		).Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("text search: %w", err)
		}
	}

	out := make([]Chunk, len(rows))
	for i, r := range rows {
		out[i] = r.chunk()
	}
	return out, nil
}

func (s *PGSearcher) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn("query embedding failed", "fallback", "text_search", "error", err)
		return nil
	}
	return vec
}

// Neighbors returns passages adjacent to c by source offset on the same
// page, nearest first.
func (s *PGSearcher) Neighbors(ctx context.Context, c Chunk, window int) ([]Chunk, error) {
	if window <= 0 {
		return nil, nil
	}
	var rows []pgRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT id, resource_id, page_number, source_offset,
		       LEFT(full_text, ?) AS snippet, pedagogy_role, difficulty
		FROM chunks
		WHERE resource_id = ? AND page_number = ? AND id <> ?
		ORDER BY ABS(source_offset - ?), source_offset
		LIMIT ?`,
		snippetChars, c.ResourceID, c.PageNumber, c.ID, c.SourceOffset, 2*window,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", c.ID, err)
	}
	out := make([]Chunk, len(rows))
	for i, r := range rows {
		out[i] = r.chunk()
	}
	return out, nil
}

// Close releases the connection pool.
func (s *PGSearcher) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

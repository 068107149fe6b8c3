// Package vector is the external similarity index for memory fragments,
// backed by Postgres with pgvector. One table serves all users; every search
// filters on the user_id metadata column.
package vector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/id"
	"github.com/vocagent/vocagent/shared/llm"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Index stores and searches embedded memory fragments.
// All methods are safe for concurrent use.
type Index struct {
	db       querier
	embedder llm.Embedder
}

func New(db querier, embedder llm.Embedder) *Index {
	return &Index{db: db, embedder: embedder}
}

// EnsureSchema creates the memory table and its HNSW cosine index.
func (ix *Index) EnsureSchema(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_records (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_memory_records_user ON memory_records (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_embedding
			ON memory_records USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, q := range stmts {
		if _, err := ix.db.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

// Add embeds content and inserts a new fragment, returning its id.
func (ix *Index) Add(ctx context.Context, userID, content string) (string, error) {
	emb, err := ix.embedder.EmbedOne(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embed fragment: %w", err)
	}

	memID := id.NewMemory()
	const q = `
		INSERT INTO memory_records (id, user_id, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = ix.db.Exec(ctx, q, memID, userID, content, pgvector.NewVector(emb), time.Now())
	if err != nil {
		return "", fmt.Errorf("insert fragment: %w", err)
	}
	return memID, nil
}

// Update re-embeds and replaces a fragment's content, scoped to the user.
func (ix *Index) Update(ctx context.Context, userID, memID, content string) error {
	emb, err := ix.embedder.EmbedOne(ctx, content)
	if err != nil {
		return fmt.Errorf("embed fragment: %w", err)
	}

	const q = `
		UPDATE memory_records
		SET content = $3, embedding = $4
		WHERE id = $1 AND user_id = $2`

	tag, err := ix.db.Exec(ctx, q, memID, userID, content, pgvector.NewVector(emb))
	if err != nil {
		return fmt.Errorf("update fragment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a fragment, scoped to the user.
func (ix *Index) Delete(ctx context.Context, userID, memID string) error {
	tag, err := ix.db.Exec(ctx,
		`DELETE FROM memory_records WHERE id = $1 AND user_id = $2`, memID, userID)
	if err != nil {
		return fmt.Errorf("delete fragment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Search embeds the query and returns the k nearest fragments for the user,
// most similar first. Score is cosine similarity in [0, 1]-ish terms
// (1 - cosine distance); thresholding is the caller's concern.
func (ix *Index) Search(ctx context.Context, userID, query string, k int) ([]*domain.MemoryHit, error) {
	emb, err := ix.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	const q = `
		SELECT id, content, created_at, embedding <=> $1 AS distance
		FROM memory_records
		WHERE user_id = $2
		ORDER BY distance
		LIMIT $3`

	rows, err := ix.db.Query(ctx, q, pgvector.NewVector(emb), userID, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.MemoryHit, error) {
		h := &domain.MemoryHit{}
		var distance float64
		if err := row.Scan(&h.UUID, &h.Content, &h.CreatedAt, &distance); err != nil {
			return nil, err
		}
		h.Score = 1 - distance
		return h, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []*domain.MemoryHit{}, nil
		}
		return nil, fmt.Errorf("scan search rows: %w", err)
	}
	if hits == nil {
		hits = []*domain.MemoryHit{}
	}
	return hits, nil
}

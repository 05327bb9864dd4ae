package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phucgpt/ragchat/internal/core"
)

// PGVectorStore keeps chunks in a Postgres table with a pgvector column and ranks them by
// cosine distance inside the database.
type PGVectorStore struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

func NewPGVectorStore(ctx context.Context, databaseURL, table string, dimension int) (*PGVectorStore, error) {
	if dimension <= 0 {
		return nil, errors.Newf("invalid embedding dimension %d", dimension)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &PGVectorStore{
		pool:      pool,
		table:     pgx.Identifier{table}.Sanitize(),
		dimension: dimension,
	}, nil
}

func (s *PGVectorStore) Close() {
	s.pool.Close()
}

func (s *PGVectorStore) EnsureCollection(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "create vector extension")
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, s.dimension))
	if err != nil {
		return errors.Wrap(err, "create chunk table")
	}
	return nil
}

func (s *PGVectorStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := fmt.Sprintf("INSERT INTO %s (id, text, source, embedding) VALUES ($1, $2, $3, $4)", s.table)
	for _, chunk := range chunks {
		if err := checkDimension(len(chunk.Embedding), s.dimension); err != nil {
			return err
		}
		id, err := uuid.Parse(chunk.ID)
		if err != nil {
			id = uuid.New()
		}
		batch.Queue(query, id, chunk.Text, chunk.Source, pgVector(chunk.Embedding))
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "insert chunks")
	}
	return nil
}

func (s *PGVectorStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE "+s.table); err != nil {
		return errors.Wrap(err, "truncate chunks")
	}
	return nil
}

func (s *PGVectorStore) Query(ctx context.Context, vector core.EmbeddingVector, topK int) ([]core.RetrievedChunk, error) {
	if err := checkDimension(len(vector), s.dimension); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT text, source, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, s.table),
		pgVector(vector), topK,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query chunks")
	}
	defer rows.Close()

	var results []core.RetrievedChunk
	for rows.Next() {
		var chunk core.RetrievedChunk
		var text *string
		if err := rows.Scan(&text, &chunk.Source, &chunk.Score); err != nil {
			return nil, errors.Wrap(err, "scan chunk")
		}
		if text == nil {
			return nil, errors.Wrapf(core.ErrSchemaViolation, "row in %s has a null %s column", s.table, TextField)
		}
		chunk.Text = *text
		results = append(results, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate chunks")
	}
	return results, nil
}

// pgVector formats a float32 slice as a pgvector-compatible string literal, e.g. "[0.1,0.2,0.3]".
func pgVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

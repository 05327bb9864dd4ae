package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/phucgpt/ragchat/internal/core"
)

// TextField is the document field every backend stores chunk text under.
const TextField = "text"

// Chunk is one piece of ingested text and its embedding.
type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Embedding []float32 `json:"-"`
}

// ChunkWriter is the write side of a vector store, used by the ingestion job.
type ChunkWriter interface {
	EnsureCollection(ctx context.Context) error
	Insert(ctx context.Context, chunks []Chunk) error
}

// Clearer is implemented by stores that can drop all chunks before a re-ingest.
type Clearer interface {
	Clear(ctx context.Context) error
}

// VectorStore is a queryable and writable chunk collection.
type VectorStore interface {
	core.VectorStore
	ChunkWriter
}

func checkDimension(got, want int) error {
	if want > 0 && got != want {
		return errors.Wrapf(core.ErrDimensionMismatch, "vector has %d dimensions, collection expects %d", got, want)
	}
	return nil
}

package knowledge

import (
	"context"
	"fmt"

	"github.com/petrelhq/petrel/pkg/config"
)

// Document is one chunk of ingested content.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// ScoredDocument is a search hit with its similarity score.
type ScoredDocument struct {
	Document
	Score float32
}

// VectorStore persists embedded documents and answers similarity queries.
// Vectors are computed externally by an Embedder.
type VectorStore interface {
	Upsert(ctx context.Context, docs []Document, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, limit int) ([]ScoredDocument, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewVectorStore builds the configured backend.
func NewVectorStore(cfg *config.VectorStoreConfig, dimensions int) (VectorStore, error) {
	switch cfg.Type {
	case config.VectorStoreChromem, "":
		return NewChromemStore(cfg)
	case config.VectorStoreQdrant:
		return NewQdrantStore(cfg, dimensions)
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.Type)
	}
}

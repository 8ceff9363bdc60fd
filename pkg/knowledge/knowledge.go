// Package knowledge ingests documents into a vector store and retrieves
// the chunks most relevant to a query. Agents inject search results into
// the system prompt as grounding context.
package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrelhq/petrel/pkg/config"
	"github.com/petrelhq/petrel/pkg/observability"
)

// Knowledge is one knowledge base: an embedder plus a vector store plus
// the sources to fill it from.
type Knowledge struct {
	cfg      *config.KnowledgeConfig
	embedder Embedder
	store    VectorStore
}

// New builds a knowledge base from config. Sources are not loaded until
// Load is called.
func New(cfg *config.KnowledgeConfig) (*Knowledge, error) {
	embedder, err := NewOpenAIEmbedder(&cfg.Embedder)
	if err != nil {
		return nil, err
	}

	store, err := NewVectorStore(&cfg.VectorStore, embedder.Dimensions())
	if err != nil {
		return nil, err
	}

	return &Knowledge{cfg: cfg, embedder: embedder, store: store}, nil
}

// newKnowledge wires explicit components, used by tests.
func newKnowledge(cfg *config.KnowledgeConfig, embedder Embedder, store VectorStore) *Knowledge {
	return &Knowledge{cfg: cfg, embedder: embedder, store: store}
}

// Load ingests every configured source. Directories are walked
// recursively; files with unsupported extensions are skipped.
func (k *Knowledge) Load(ctx context.Context) error {
	for _, source := range k.cfg.Sources {
		info, err := os.Stat(source)
		if err != nil {
			return fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if !info.IsDir() {
			if err := k.loadFile(ctx, source); err != nil {
				return err
			}
			continue
		}

		err = filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() || !supportedExtension(path) {
				return nil
			}
			return k.loadFile(ctx, path)
		})
		if err != nil {
			return fmt.Errorf("failed to walk source %s: %w", source, err)
		}
	}

	return nil
}

func (k *Knowledge) loadFile(ctx context.Context, path string) error {
	text, err := readDocument(ctx, path)
	if err != nil {
		return err
	}

	count, err := k.AddText(ctx, path, text)
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %w", path, err)
	}

	slog.Debug("loaded knowledge source", "path", path, "chunks", count)
	return nil
}

// AddText chunks, embeds, and stores one document. Returns the number of
// chunks written.
func (k *Knowledge) AddText(ctx context.Context, source, text string) (int, error) {
	chunks := splitChunks(text, k.cfg.ChunkSize, k.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := k.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, err
	}

	docs := make([]Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = Document{
			ID:      uuid.NewString(),
			Content: chunk,
			Metadata: map[string]string{
				"source": source,
				"chunk":  strconv.Itoa(i),
			},
		}
	}

	if err := k.store.Upsert(ctx, docs, vectors); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Search returns the chunks most similar to the query, best first. A
// non-positive limit falls back to the configured result limit.
func (k *Knowledge) Search(ctx context.Context, query string, limit int) ([]ScoredDocument, error) {
	tracer := observability.Tracer("petrel.knowledge")
	ctx, span := tracer.Start(ctx, observability.SpanKnowledgeSearch,
		trace.WithAttributes(attribute.Int("knowledge.limit", limit)),
	)
	defer span.End()

	if limit <= 0 {
		limit = k.cfg.ResultLimit
	}

	vector, err := k.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := k.store.Search(ctx, vector, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("knowledge.results", len(results)))
	return results, nil
}

// Count returns the number of stored chunks.
func (k *Knowledge) Count(ctx context.Context) (int, error) {
	return k.store.Count(ctx)
}

// Close releases the vector store.
func (k *Knowledge) Close() error {
	return k.store.Close()
}

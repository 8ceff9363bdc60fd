package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/petrelhq/petrel/pkg/config"
)

// ChromemStore keeps vectors in an embedded chromem-go database. With a
// configured path the database is persisted as a gob file; otherwise it
// lives in memory only. Single process, all vectors in RAM.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	path       string
	mu         sync.Mutex
}

// NewChromemStore opens (or creates) the store. An existing database file
// under cfg.Path is loaded.
func NewChromemStore(cfg *config.VectorStoreConfig) (*ChromemStore, error) {
	return newChromemStore(cfg.Path, cfg.Collection)
}

func newChromemStore(path, collection string) (*ChromemStore, error) {
	var db *chromem.DB
	var err error

	dbPath := ""
	if path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
		dbPath = filepath.Join(path, "vectors.gob")
	}

	if dbPath != "" {
		if _, statErr := os.Stat(dbPath); statErr == nil {
			db, err = chromem.NewPersistentDB(dbPath, false)
			if err != nil {
				return nil, fmt.Errorf("failed to load vector database: %w", err)
			}
		}
	}
	if db == nil {
		db = chromem.NewDB()
	}

	// Vectors are always supplied precomputed.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("no embedding function configured")
	}

	col, err := db.GetOrCreateCollection(collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", collection, err)
	}

	return &ChromemStore{db: db, collection: col, path: dbPath}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("got %d documents but %d vectors", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	out := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		out[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collection.AddDocuments(ctx, out, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}
	return s.persist()
}

func (s *ChromemStore) Search(ctx context.Context, vector []float32, limit int) ([]ScoredDocument, error) {
	// chromem errors when asked for more results than stored documents.
	if count := s.collection.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]ScoredDocument, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredDocument{
			Document: Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata},
			Score:    r.Similarity,
		})
	}
	return out, nil
}

func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

func (s *ChromemStore) persist() error {
	if s.path == "" {
		return nil
	}
	if err := s.db.Export(s.path, false, ""); err != nil {
		return fmt.Errorf("failed to persist vector database: %w", err)
	}
	return nil
}

var _ VectorStore = (*ChromemStore)(nil)

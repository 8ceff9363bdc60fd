package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelhq/petrel/pkg/config"
)

// fakeEmbedder maps keywords onto axes so similarity is predictable.
type fakeEmbedder struct{}

func (fakeEmbedder) Dimensions() int { return 3 }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vector := []float32{0.01, 0.01, 0.01}
	if strings.Contains(lower, "cat") {
		vector[0] = 1
	}
	if strings.Contains(lower, "dog") {
		vector[1] = 1
	}
	if strings.Contains(lower, "bird") {
		vector[2] = 1
	}
	return vector, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i], _ = f.Embed(ctx, text)
	}
	return vectors, nil
}

func testKnowledge(t *testing.T) *Knowledge {
	t.Helper()
	cfg := &config.KnowledgeConfig{}
	cfg.SetDefaults()

	store, err := newChromemStore("", "test")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return newKnowledge(cfg, fakeEmbedder{}, store)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	k := testKnowledge(t)

	_, err := k.AddText(ctx, "pets.txt", "cats purr when happy")
	require.NoError(t, err)
	_, err = k.AddText(ctx, "pets2.txt", "dogs bark at strangers")
	require.NoError(t, err)
	_, err = k.AddText(ctx, "pets3.txt", "birds sing at dawn")
	require.NoError(t, err)

	results, err := k.Search(ctx, "tell me about cats", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "cats purr when happy", results[0].Content)
	assert.Equal(t, "pets.txt", results[0].Metadata["source"])
	assert.Greater(t, results[0].Score, results[1].Score)

	count, err := k.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSearchEmptyStore(t *testing.T) {
	k := testKnowledge(t)

	results, err := k.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddTextChunks(t *testing.T) {
	ctx := context.Background()
	cfg := &config.KnowledgeConfig{ChunkSize: 40, ChunkOverlap: 10}
	cfg.SetDefaults()

	store, err := newChromemStore("", "test")
	require.NoError(t, err)
	k := newKnowledge(cfg, fakeEmbedder{}, store)

	text := strings.Repeat("cats and more cats. ", 20)
	count, err := k.AddText(ctx, "cats.txt", text)
	require.NoError(t, err)
	assert.Greater(t, count, 5)

	// Empty documents store nothing.
	count, err = k.AddText(ctx, "empty.txt", "   ")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cats.md"), []byte("# Cats\ncats purr"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dogs.txt"), []byte("dogs bark"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0x1}, 0o644))

	cfg := &config.KnowledgeConfig{Sources: []string{dir}}
	cfg.SetDefaults()

	store, err := newChromemStore("", "test")
	require.NoError(t, err)
	k := newKnowledge(cfg, fakeEmbedder{}, store)

	require.NoError(t, k.Load(context.Background()))

	count, err := k.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLoadMissingSource(t *testing.T) {
	cfg := &config.KnowledgeConfig{Sources: []string{"/nonexistent/path"}}
	cfg.SetDefaults()

	store, err := newChromemStore("", "test")
	require.NoError(t, err)
	k := newKnowledge(cfg, fakeEmbedder{}, store)

	require.Error(t, k.Load(context.Background()))
}

func TestChromemPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := newChromemStore(dir, "test")
	require.NoError(t, err)

	docs := []Document{{ID: "11111111-1111-1111-1111-111111111111", Content: "hello"}}
	require.NoError(t, store.Upsert(ctx, docs, [][]float32{{1, 0, 0}}))
	require.NoError(t, store.Close())

	reopened, err := newChromemStore(dir, "test")
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		// Reversed order checks index-based reassembly.
		fmt.Fprintf(w, `{"data": [
			{"embedding": [0.2, 0.2], "index": 1},
			{"embedding": [0.1, 0.1], "index": 0}
		]}`)
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		Model:   "text-embedding-3-small",
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
	})
	require.NoError(t, err)

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.1}, vectors[0])
	assert.Equal(t, []float32{0.2, 0.2}, vectors[1])
}

func TestOpenAIEmbedderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key", "type": "auth"}}`)
	}))
	defer server.Close()

	embedder, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		Model:   "text-embedding-3-small",
		APIKey:  "bad",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestEmbedderDimensions(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(&config.EmbedderConfig{Model: "text-embedding-3-large"})
	require.NoError(t, err)
	assert.Equal(t, 3072, embedder.Dimensions())

	embedder, err = NewOpenAIEmbedder(&config.EmbedderConfig{Model: "text-embedding-3-small", Dimensions: 256})
	require.NoError(t, err)
	assert.Equal(t, 256, embedder.Dimensions())
}

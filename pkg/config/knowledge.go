package config

import "fmt"

// VectorStoreType identifies a vector database backend.
type VectorStoreType string

const (
	VectorStoreChromem VectorStoreType = "chromem"
	VectorStoreQdrant  VectorStoreType = "qdrant"
)

// KnowledgeConfig configures a knowledge base: its document sources, the
// embedder that vectorizes chunks and the vector store that holds them.
type KnowledgeConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder" json:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store" json:"vector_store"`

	// Sources are files or directories to ingest. Supported formats:
	// txt, md, pdf, docx, xlsx.
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty"`

	// ChunkSize is the chunk length in runes.
	ChunkSize int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty" jsonschema:"default=2000"`

	// ChunkOverlap is the shared run length between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty" jsonschema:"default=200"`

	// ResultLimit caps search results injected into agent context.
	ResultLimit int `yaml:"result_limit,omitempty" json:"result_limit,omitempty" jsonschema:"default=5"`
}

// EmbedderConfig configures the embedding model.
type EmbedderConfig struct {
	// Provider currently supports openai (and compatible endpoints).
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"enum=openai,default=openai"`

	Model   string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"default=text-embedding-3-small"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Dimensions overrides the embedding vector size where supported.
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
}

// VectorStoreConfig configures the vector database.
type VectorStoreConfig struct {
	Type VectorStoreType `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=chromem,enum=qdrant,default=chromem"`

	// Collection names the vector collection.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"default=petrel_knowledge"`

	// Path enables file persistence for chromem. Empty means in-memory.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Host/Port/APIKey/TLS configure the qdrant gRPC client.
	Host   string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"default=localhost"`
	Port   int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"default=6334"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	TLS    bool   `yaml:"tls,omitempty" json:"tls,omitempty"`
}

func (c *KnowledgeConfig) SetDefaults() {
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "openai"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Embedder.BaseURL == "" {
		c.Embedder.BaseURL = "https://api.openai.com/v1"
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = VectorStoreChromem
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "petrel_knowledge"
	}
	if c.VectorStore.Host == "" {
		c.VectorStore.Host = "localhost"
	}
	if c.VectorStore.Port == 0 {
		c.VectorStore.Port = 6334
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.ResultLimit == 0 {
		c.ResultLimit = 5
	}
}

func (c *KnowledgeConfig) Validate() error {
	if c.Embedder.Provider != "openai" {
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}

	switch c.VectorStore.Type {
	case VectorStoreChromem, VectorStoreQdrant:
	default:
		return fmt.Errorf("unknown vector store type %q", c.VectorStore.Type)
	}

	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}

	return nil
}

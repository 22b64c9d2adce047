package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"    validate:"required"`
	Documents DocumentsConfig `koanf:"documents" validate:"required"`
	Embedder  EmbedderConfig  `koanf:"embedder"  validate:"required"`
	LLM       LLMConfig       `koanf:"llm"       validate:"required"`
	Qdrant    QdrantConfig    `koanf:"qdrant"    validate:"required"`
	Chunking  ChunkingConfig  `koanf:"chunking"  validate:"required"`
	Retrieval RetrievalConfig `koanf:"retrieval" validate:"required"`
	Retry     RetryConfig     `koanf:"retry"     validate:"required"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"             validate:"gte=1,lte=65535"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DocumentsConfig configures the on-disk document set.
type DocumentsConfig struct {
	Dir      string `koanf:"dir"       validate:"required"`
	MaxCount int    `koanf:"max_count" validate:"gt=0"`
}

// EmbedderConfig configures the embedding model provider.
type EmbedderConfig struct {
	Provider  string        `koanf:"provider"   validate:"oneof=openai googleai"`
	Model     string        `koanf:"model"      validate:"required"`
	APIKey    string        `koanf:"api_key"`
	Dimension int           `koanf:"dimension"  validate:"gt=0"`
	BatchSize int           `koanf:"batch_size" validate:"gt=0"`
	Timeout   time.Duration `koanf:"timeout"    validate:"gt=0"`
}

// LLMConfig configures the generative model provider.
type LLMConfig struct {
	Provider    string        `koanf:"provider"    validate:"oneof=openai googleai"`
	Model       string        `koanf:"model"       validate:"required"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	URL        string        `koanf:"url"        validate:"required"`
	APIKey     string        `koanf:"api_key"`
	Collection string        `koanf:"collection" validate:"required"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	Size    int `koanf:"size"    validate:"gt=0"`
	Overlap int `koanf:"overlap" validate:"gte=0"`
}

// RetrievalConfig configures similarity search behavior.
type RetrievalConfig struct {
	TopK             int     `koanf:"top_k"              validate:"gt=0"`
	MinScore         float64 `koanf:"min_score"          validate:"gte=0,lte=1"`
	MaxContextTokens int     `koanf:"max_context_tokens"`
}

// RetryConfig is the shared retry policy for outbound embedding and
// vector store calls.
type RetryConfig struct {
	Attempts    int           `koanf:"attempts"     validate:"gt=0"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
}

// Default returns the built-in configuration. Values mirror the knobs the
// service has always shipped with: 1000/200 chunking, top-4 retrieval.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Documents: DocumentsConfig{
			Dir:      "documents",
			MaxCount: 20,
		},
		Embedder: EmbedderConfig{
			Provider:  "googleai",
			Model:     "text-embedding-004",
			Dimension: 768,
			BatchSize: 16,
			Timeout:   30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "googleai",
			Model:       "gemini-2.5-flash",
			Temperature: 0,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Qdrant: QdrantConfig{
			URL:        "http://localhost:6333",
			Collection: "my_knowledge_base",
			Timeout:    15 * time.Second,
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK:             4,
			MinScore:         0,
			MaxContextTokens: 6000,
		},
		Retry: RetryConfig{
			Attempts:    3,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
		},
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("ShouldLoadDefaults", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, 1000, cfg.Chunking.Size)
		assert.Equal(t, 200, cfg.Chunking.Overlap)
		assert.Equal(t, 4, cfg.Retrieval.TopK)
		assert.Equal(t, "my_knowledge_base", cfg.Qdrant.Collection)
		assert.Equal(t, 20, cfg.Documents.MaxCount)
		assert.Equal(t, 30*time.Second, cfg.Embedder.Timeout)
	})
	t.Run("ShouldOverrideFromEnvironment", func(t *testing.T) {
		t.Setenv("ASKDOCS_QDRANT_URL", "http://qdrant.internal:6333")
		t.Setenv("ASKDOCS_RETRIEVAL_TOP_K", "8")
		t.Setenv("ASKDOCS_CHUNKING_SIZE", "512")
		t.Setenv("ASKDOCS_LLM_TIMEOUT", "30s")
		t.Setenv("ASKDOCS_EMBEDDER_TIMEOUT", "45s")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "http://qdrant.internal:6333", cfg.Qdrant.URL)
		assert.Equal(t, 8, cfg.Retrieval.TopK)
		assert.Equal(t, 512, cfg.Chunking.Size)
		assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, 45*time.Second, cfg.Embedder.Timeout)
	})
	t.Run("ShouldRejectInvalidValues", func(t *testing.T) {
		t.Setenv("ASKDOCS_SERVER_PORT", "0")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("ShouldRejectUnknownEmbedderProvider", func(t *testing.T) {
		cfg := Default()
		cfg.Embedder.Provider = "tarot"
		require.Error(t, Validate(cfg))
	})
}

func TestTransformEnvKey(t *testing.T) {
	assert.Equal(t, "retrieval.top_k", transformEnvKey("ASKDOCS_RETRIEVAL_TOP_K"))
	assert.Equal(t, "qdrant.url", transformEnvKey("ASKDOCS_QDRANT_URL"))
	assert.Equal(t, "server.port", transformEnvKey("SERVER_PORT"))
	assert.Equal(t, "", transformEnvKey(""))
}

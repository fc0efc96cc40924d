package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, MergeAppend, cfg.Ingest.MergePolicy)
	assert.Equal(t, 3, cfg.Ingest.ConflictRetries)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[storage]
backend = "memgraph"

[memgraph]
uri = "bolt://graph:7687"

[ingest]
merge_policy = "longest"
case_insensitive_names = true

[search]
lexical_weight = 1.0
semantic_weight = 0.0
proximity_weight = 0.0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemgraph, cfg.Storage.Backend)
	assert.Equal(t, "bolt://graph:7687", cfg.Memgraph.URI)
	assert.Equal(t, MergeLongest, cfg.Ingest.MergePolicy)
	assert.True(t, cfg.Ingest.CaseInsensitiveNames)
	assert.Equal(t, 1.0, cfg.Search.LexicalWeight)
	// untouched sections keep defaults
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage\nbackend="), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, kgerr.CodeConfigParseInvalidFormat, kgerr.CodeOf(err))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NEO4J_URI", "bolt://neo:7687")
	t.Setenv("NEO4J_PASSWORD", "secret")
	t.Setenv("PORT", "9000")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("INGEST_CASE_INSENSITIVE_NAMES", "true")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "bolt://neo:7687", cfg.Memgraph.URI)
	assert.Equal(t, "secret", cfg.Memgraph.Password)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.True(t, cfg.Ingest.CaseInsensitiveNames)
}

func TestApplyEnv_MemgraphAliasWins(t *testing.T) {
	t.Setenv("MEMGRAPH_URI", "bolt://mg:7687")
	t.Setenv("NEO4J_URI", "bolt://neo:7687")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "bolt://mg:7687", cfg.Memgraph.URI)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"missing sqlite path", func(c *Config) { c.Storage.SQLitePath = "" }},
		{"unknown merge policy", func(c *Config) { c.Ingest.MergePolicy = "concat" }},
		{"zero retries", func(c *Config) { c.Ingest.ConflictRetries = 0 }},
		{"negative weight", func(c *Config) { c.Search.SemanticWeight = -1 }},
		{"all weights zero", func(c *Config) {
			c.Search.LexicalWeight, c.Search.SemanticWeight, c.Search.ProximityWeight = 0, 0, 0
		}},
		{"prompt without text placeholder", func(c *Config) { c.Extraction.Prompt = "Extract from %s and %s" }},
		{"confidence out of range", func(c *Config) { c.Extraction.MinConfidence = 1.5 }},
		{"no lock shards", func(c *Config) { c.Concurrency.LockShards = 0 }},
		{"unknown cluster algorithm", func(c *Config) { c.Clusters.Algorithm = "louvain" }},
		{"cluster depth too deep", func(c *Config) { c.Clusters.Depth = 4 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, kgerr.IsValidation(err))
		})
	}
}

func TestValidate_CustomPrompt(t *testing.T) {
	cfg := Default()
	cfg.Extraction.Prompt = "Read {text} (100% of it)"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "config/config.toml", DefaultPath())

	t.Setenv("CONFIG_PATH", "/etc/kg/config.toml")
	assert.Equal(t, "/etc/kg/config.toml", DefaultPath())
}

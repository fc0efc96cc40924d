package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

const (
	BackendSQLite   = "sqlite"
	BackendMemgraph = "memgraph"

	MergeAppend  = "append"
	MergeReplace = "replace"
	MergeLongest = "longest"

	ClusterLabelPropagation = "lpa"
	ClusterComponents       = "components"
)

type ServerConfig struct {
	Port string `toml:"port"`
	Env  string `toml:"env"`
}

type StorageConfig struct {
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Placeholders substituted into the extraction prompt.
const (
	PromptSource  = "{source}"
	PromptEpisode = "{episode}"
	PromptText    = "{text}"
)

// ExtractionConfig holds the prompt used to turn episode text into a
// candidate graph. The prompt names the source description, the episode name
// and the episode body with the Prompt* placeholders; {text} is required. An
// empty prompt selects the built-in one.
type ExtractionConfig struct {
	Prompt        string  `toml:"prompt"`
	MinConfidence float64 `toml:"min_confidence"`
}

type IngestConfig struct {
	MergePolicy          string `toml:"merge_policy"`
	CaseInsensitiveNames bool   `toml:"case_insensitive_names"`
	ConflictRetries      int    `toml:"conflict_retries"`
	RetryBackoffMS       int    `toml:"retry_backoff_ms"`
}

type SearchConfig struct {
	LexicalWeight   float64 `toml:"lexical_weight"`
	SemanticWeight  float64 `toml:"semantic_weight"`
	ProximityWeight float64 `toml:"proximity_weight"`
	DefaultLimit    int     `toml:"default_limit"`
	CandidatePool   int     `toml:"candidate_pool"`
	SeedSimilarity  float64 `toml:"seed_similarity"`
}

type ConcurrencyConfig struct {
	Embed      int `toml:"embed"`
	LockShards int `toml:"lock_shards"`
}

// ClusterConfig drives entity clustering around a query: how far to walk
// from the matched entities and how the walked subgraph is partitioned.
type ClusterConfig struct {
	Algorithm     string `toml:"algorithm"`
	MaxIterations int    `toml:"max_iterations"`
	Depth         int    `toml:"depth"`
	MaxFacts      int    `toml:"max_facts"`
}

type BreakerConfig struct {
	MaxRequests     uint32  `toml:"max_requests"`
	IntervalSeconds int     `toml:"interval_seconds"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	TripRatio       float64 `toml:"trip_ratio"`
}

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	LLM         LLMConfig         `toml:"llm"`
	Memgraph    MemgraphConfig    `toml:"memgraph"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Ingest      IngestConfig      `toml:"ingest"`
	Search      SearchConfig      `toml:"search"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Clusters    ClusterConfig     `toml:"clusters"`
	Breaker     BreakerConfig     `toml:"breaker"`
}

// Default returns a configuration usable without any file: a local SQLite
// graph and an Ollama model on localhost.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8000", Env: "development"},
		Storage: StorageConfig{Backend: BackendSQLite, SQLitePath: "data/graph.db"},
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "gpt-oss:latest",
			EmbeddingModel: "nomic-embed-text",
			BaseURL:        "http://localhost:11434",
		},
		Memgraph:   MemgraphConfig{URI: "bolt://localhost:7687", User: "neo4j"},
		Extraction: ExtractionConfig{MinConfidence: 0.0},
		Ingest: IngestConfig{
			MergePolicy:     MergeAppend,
			ConflictRetries: 3,
			RetryBackoffMS:  50,
		},
		Search: SearchConfig{
			LexicalWeight:   0.5,
			SemanticWeight:  0.3,
			ProximityWeight: 0.2,
			DefaultLimit:    10,
			CandidatePool:   100,
			SeedSimilarity:  0.75,
		},
		Concurrency: ConcurrencyConfig{Embed: 4, LockShards: 256},
		Clusters: ClusterConfig{
			Algorithm:     ClusterLabelPropagation,
			MaxIterations: 20,
			Depth:         2,
			MaxFacts:      1000,
		},
		Breaker: BreakerConfig{
			MaxRequests:     1,
			IntervalSeconds: 60,
			TimeoutSeconds:  30,
			TripRatio:       0.6,
		},
	}
}

// Load reads a TOML file over the defaults. A missing file is not an error;
// the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, kgerr.Errorf(kgerr.CodeConfigLoadReadFailure, "failed to read config file '%s': %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, kgerr.Errorf(kgerr.CodeConfigParseInvalidFormat, "failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// DefaultPath is $CONFIG_PATH, or config/config.toml when unset.
func DefaultPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config/config.toml"
}

// LoadFromEnv loads DefaultPath, applies env overrides and validates the
// result.
func LoadFromEnv() (*Config, error) {
	cfg, err := Load(DefaultPath())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with any environment variables present.
func (c *Config) ApplyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Env, "APP_ENV")

	setString(&c.Storage.Backend, "GRAPH_BACKEND")
	setString(&c.Storage.SQLitePath, "SQLITE_PATH")

	setString(&c.Memgraph.URI, "MEMGRAPH_URI", "NEO4J_URI")
	setString(&c.Memgraph.User, "MEMGRAPH_USER", "NEO4J_USER")
	setString(&c.Memgraph.Password, "MEMGRAPH_PASSWORD", "NEO4J_PASSWORD")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.EmbeddingModel, "LLM_EMBEDDING_MODEL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")

	if v := os.Getenv("INGEST_MERGE_POLICY"); v != "" {
		c.Ingest.MergePolicy = v
	}
	if v, err := strconv.ParseBool(os.Getenv("INGEST_CASE_INSENSITIVE_NAMES")); err == nil {
		c.Ingest.CaseInsensitiveNames = v
	}
}

// Validate checks values that would otherwise fail deep inside a commit.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return invalid("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendMemgraph:
		if c.Memgraph.URI == "" {
			return invalid("memgraph.uri is required for the memgraph backend")
		}
	default:
		return invalid("storage.backend must be %q or %q, got %q", BackendSQLite, BackendMemgraph, c.Storage.Backend)
	}

	switch c.Ingest.MergePolicy {
	case MergeAppend, MergeReplace, MergeLongest:
	default:
		return invalid("ingest.merge_policy must be one of append, replace, longest; got %q", c.Ingest.MergePolicy)
	}

	if c.Ingest.ConflictRetries < 1 {
		return invalid("ingest.conflict_retries must be at least 1")
	}
	if c.Ingest.RetryBackoffMS < 0 {
		return invalid("ingest.retry_backoff_ms must not be negative")
	}

	s := c.Search
	if s.LexicalWeight < 0 || s.SemanticWeight < 0 || s.ProximityWeight < 0 {
		return invalid("search weights must not be negative")
	}
	if s.LexicalWeight+s.SemanticWeight+s.ProximityWeight == 0 {
		return invalid("at least one search weight must be positive")
	}
	if s.DefaultLimit < 1 || s.CandidatePool < 1 {
		return invalid("search.default_limit and search.candidate_pool must be positive")
	}

	if p := c.Extraction.Prompt; strings.TrimSpace(p) != "" && !strings.Contains(p, PromptText) {
		return invalid("extraction.prompt must contain the %s placeholder", PromptText)
	}
	if c.Extraction.MinConfidence < 0 || c.Extraction.MinConfidence > 1 {
		return invalid("extraction.min_confidence must be within [0, 1]")
	}
	if c.Concurrency.Embed < 1 {
		return invalid("concurrency.embed must be at least 1")
	}
	if c.Concurrency.LockShards < 1 {
		return invalid("concurrency.lock_shards must be at least 1")
	}

	switch c.Clusters.Algorithm {
	case ClusterLabelPropagation, ClusterComponents:
	default:
		return invalid("clusters.algorithm must be %q or %q, got %q", ClusterLabelPropagation, ClusterComponents, c.Clusters.Algorithm)
	}
	if c.Clusters.Depth < 1 || c.Clusters.Depth > 3 {
		return invalid("clusters.depth must be within [1, 3]")
	}
	if c.Clusters.MaxIterations < 1 || c.Clusters.MaxFacts < 1 {
		return invalid("clusters.max_iterations and clusters.max_facts must be positive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return kgerr.Errorf(kgerr.CodeConfigValidateInvalidValue, format, args...)
}

func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
	// ProviderNone runs without a model: explicit graphs and lexical search
	// only.
	ProviderNone = "none"
)

// NewClient builds the configured provider behind circuit breakers. The
// embedder is nil for providers without an embedding endpoint.
func NewClient(ctx context.Context, cfg config.LLMConfig, breaker config.BreakerConfig, log *zap.Logger) (LLMClient, EmbedderClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var (
		gen   LLMClient
		embed EmbedderClient
	)
	switch provider {
	case ProviderOpenAI:
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL)
		gen, embed = c, c

	case ProviderOllama:
		c := NewOllamaClient(cfg.Model, cfg.EmbeddingModel, cfg.BaseURL, cfg.APIKey)
		log.Info("using ollama through its OpenAI-compatible API", zap.String("model", cfg.Model))
		gen, embed = c, c

	case ProviderGemini:
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, kgerr.Wrap(err, kgerr.CodeExtractionUpstream, "failed to create gemini client")
		}
		gen, embed = c, c

	case ProviderClaude:
		gen = NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		log.Warn("claude has no embedding endpoint; semantic ranking is disabled")

	case ProviderNone, "":
		return nil, nil, nil

	default:
		return nil, nil, kgerr.New(kgerr.CodeProviderUnsupported, "unsupported llm provider: "+provider,
			kgerr.Field("provider", provider))
	}

	bc := NewBreakerClient(provider, gen, embed, breaker, log.Named("breaker"))
	if embed == nil {
		return bc, nil, nil
	}
	return bc, bc, nil
}

package llm

import (
	"strings"
)

// NewOllamaClient returns a client for a local Ollama server through its
// OpenAI-compatible endpoint. Ollama ignores the API key but the client
// requires one.
func NewOllamaClient(model, embeddingModel, baseURL, apiKey string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	if apiKey == "" {
		apiKey = "ollama"
	}
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}
	return NewOpenAIClient(apiKey, model, embeddingModel, baseURL)
}

package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

type MockLLMClient struct {
	Response   string
	Err        error
	LastPrompt string
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.LastPrompt = prompt
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func TestExtract(t *testing.T) {
	mockJSON := "Here is the graph:\n```json\n" + `{
		"entities": [
			{"label": "Machine", "name": "Machine X", "summary": "CNC mill", "attributes": {"vendor": "ACME"}},
			{"label": "", "name": "Line  5"}
		],
		"relations": [
			{"source_name": "machine x", "target_name": "LINE 5", "type": "installed in",
			 "fact_text": "Machine X is installed in Line 5", "confidence": 0.9},
			{"source_name": "Machine X", "target_name": "Line 5", "type": "NEAR", "confidence": 0.1}
		]
	}` + "\n```"

	mockLLM := &MockLLMClient{Response: mockJSON}
	extractor := NewExtractor(mockLLM, "", 0.5, nil)

	g, err := extractor.Extract(context.Background(), "Machine X installed in Line 5",
		Hints{SourceDescription: "shift log", EpisodeName: "Install A"})
	require.NoError(t, err)

	assert.Contains(t, mockLLM.LastPrompt, "Machine X installed in Line 5")
	assert.Contains(t, mockLLM.LastPrompt, "Source: shift log")
	assert.Contains(t, mockLLM.LastPrompt, "Episode: Install A")

	require.Len(t, g.Entities, 2)
	assert.Equal(t, "machine x", g.Entities[0].Ref)
	assert.Equal(t, "ACME", g.Entities[0].Attributes["vendor"])
	assert.Equal(t, "Entity", g.Entities[1].Label)
	assert.Equal(t, "line 5", g.Entities[1].Ref)

	require.Len(t, g.Relations, 1)
	rel := g.Relations[0]
	assert.Equal(t, "machine x", rel.Source)
	assert.Equal(t, "line 5", rel.Target)
	assert.Equal(t, "INSTALLED_IN", rel.Type)
}

func TestExtract_RepairsTruncatedJSON(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{"entities": [{"label": "Part", "name": "Bracket B7"}], "relations": [`}
	extractor := NewExtractor(mockLLM, "", 0, nil)

	g, err := extractor.Extract(context.Background(), "text", Hints{})
	require.NoError(t, err)
	require.Len(t, g.Entities, 1)
	assert.Equal(t, "Bracket B7", g.Entities[0].Name)
	assert.Empty(t, g.Relations)
}

func TestExtract_EmptyIsValid(t *testing.T) {
	extractor := NewExtractor(&MockLLMClient{Response: `{"entities": [], "relations": []}`}, "", 0, nil)

	g, err := extractor.Extract(context.Background(), "nothing here", Hints{})
	require.NoError(t, err)
	assert.Empty(t, g.Entities)
	assert.Empty(t, g.Relations)
}

func TestExtract_CustomPrompt(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{}`}
	extractor := NewExtractor(mockLLM, "src={source} name={episode} 100% body={text}", 0, nil)

	_, err := extractor.Extract(context.Background(), "B {source} 50%", Hints{SourceDescription: "S", EpisodeName: "N"})
	require.NoError(t, err)
	assert.Equal(t, "src=S name=N 100% body=B {source} 50%", mockLLM.LastPrompt)
}

func TestExtract_Errors(t *testing.T) {
	t.Run("upstream failure", func(t *testing.T) {
		extractor := NewExtractor(&MockLLMClient{Err: errors.New("connection refused")}, "", 0, nil)
		_, err := extractor.Extract(context.Background(), "text", Hints{})
		require.Error(t, err)
		assert.Equal(t, kgerr.CodeExtractionUpstream, kgerr.CodeOf(err))
		assert.True(t, kgerr.IsRetryable(err))
	})

	t.Run("no json", func(t *testing.T) {
		extractor := NewExtractor(&MockLLMClient{Response: "I cannot help with that."}, "", 0, nil)
		_, err := extractor.Extract(context.Background(), "text", Hints{})
		require.Error(t, err)
		assert.Equal(t, kgerr.CodeExtractionResponse, kgerr.CodeOf(err))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		extractor := NewExtractor(&MockLLMClient{Err: errors.New("request aborted")}, "", 0, nil)
		_, err := extractor.Extract(ctx, "text", Hints{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDefaultPromptPlaceholders(t *testing.T) {
	assert.Equal(t, 1, strings.Count(DefaultPrompt, "{source}"))
	assert.Equal(t, 1, strings.Count(DefaultPrompt, "{episode}"))
	assert.Equal(t, 1, strings.Count(DefaultPrompt, "{text}"))
	assert.NotContains(t, DefaultPrompt, "%s")
}

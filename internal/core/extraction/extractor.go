package extraction

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/llm"
)

// DefaultPrompt is used when no prompt is configured.
const DefaultPrompt = `You extract a knowledge graph from manufacturing documents.

Source: {source}
Episode: {episode}

<TEXT>
{text}
</TEXT>

Instructions:
- List every concrete entity: machines, production lines, plants, parts, materials,
  processes, operators, suppliers, defects, maintenance events.
- Give each entity a short label (Machine, Line, Plant, Part, Material, Process,
  Operator, Supplier, Defect, Event) and its name exactly as written in the text.
- List relations between the entities you extracted. source_name and target_name
  must match entity names. Use an UPPER_SNAKE_CASE type such as INSTALLED_IN,
  PRODUCES, SUPPLIES, OPERATES, PART_OF, CAUSED_BY.
- fact_text is one sentence stating the relation.
- confidence is a number between 0 and 1.

Respond with a JSON object only:
{
  "entities": [
    {"label": "Machine", "name": "Machine X", "summary": "CNC mill", "attributes": {"vendor": "ACME"}}
  ],
  "relations": [
    {"source_name": "Machine X", "target_name": "Line 5", "type": "INSTALLED_IN",
     "fact_text": "Machine X is installed in Line 5", "confidence": 0.9}
  ]
}`

// Hints give the model context beyond the raw text.
type Hints struct {
	SourceDescription string
	EpisodeName       string
}

type Extractor struct {
	LLM           llm.LLMClient
	Prompt        string
	MinConfidence float64
	log           *zap.Logger
}

func NewExtractor(llmClient llm.LLMClient, prompt string, minConfidence float64, log *zap.Logger) *Extractor {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{LLM: llmClient, Prompt: prompt, MinConfidence: minConfidence, log: log}
}

// Extract turns text into a sanitized candidate graph. Entity refs are
// normalized names, so relations match entities regardless of case or
// spacing the model used.
func (e *Extractor) Extract(ctx context.Context, text string, hints Hints) (model.CandidateGraph, error) {
	prompt := strings.NewReplacer(
		config.PromptSource, hints.SourceDescription,
		config.PromptEpisode, hints.EpisodeName,
		config.PromptText, text,
	).Replace(e.Prompt)

	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return model.CandidateGraph{}, ctx.Err()
		}
		return model.CandidateGraph{}, kgerr.Wrapf(err, kgerr.CodeExtractionUpstream, "failed to generate extraction")
	}

	parsed, err := common.ParseJSON[model.ExtractionResponse](response)
	if err != nil {
		return model.CandidateGraph{}, kgerr.Wrapf(err, kgerr.CodeExtractionResponse, "failed to parse extraction response")
	}

	g := model.CandidateGraph{
		Entities:  make([]model.CandidateEntity, 0, len(parsed.Entities)),
		Relations: make([]model.CandidateRelation, 0, len(parsed.Relations)),
	}
	for _, ent := range parsed.Entities {
		g.Entities = append(g.Entities, model.CandidateEntity{
			Ref:        common.NormalizeName(ent.Name),
			Label:      strings.TrimSpace(ent.Label),
			Name:       ent.Name,
			Summary:    strings.TrimSpace(ent.Summary),
			Attributes: ent.Attributes,
		})
	}
	for _, rel := range parsed.Relations {
		g.Relations = append(g.Relations, model.CandidateRelation{
			Source:     common.NormalizeName(rel.SourceName),
			Target:     common.NormalizeName(rel.TargetName),
			Type:       rel.Type,
			FactText:   rel.FactText,
			Confidence: rel.Confidence,
		})
	}

	if dropped := g.Sanitize(e.MinConfidence); dropped > 0 {
		e.log.Warn("dropped extracted relations",
			zap.Int("dropped", dropped), zap.String("episode", hints.EpisodeName))
	}
	return g, nil
}

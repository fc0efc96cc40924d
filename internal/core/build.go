package core

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

const DefaultBuildEpisodeType = "document"

// GraphNode is a pre-extracted entity. Its name is properties["name"],
// falling back to ID.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// GraphEdge connects two GraphNode IDs. The fact text is properties["fact"],
// then properties["description"], then a sentence built from the endpoints.
type GraphEdge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type BuildGraphInput struct {
	EpisodeName       string      `json:"episode_name"`
	EpisodeType       string      `json:"episode_type,omitempty"`
	SourceDescription string      `json:"source_description"`
	Nodes             []GraphNode `json:"nodes"`
	Edges             []GraphEdge `json:"edges"`
}

// BuildGraph commits an explicit graph under a synthetic episode. Edges whose
// endpoints are not among the nodes are dropped and counted.
func (g *Graphiti) BuildGraph(ctx context.Context, in BuildGraphInput, override bool) (*CommitResult, error) {
	name := strings.TrimSpace(in.EpisodeName)
	if name == "" {
		return nil, kgerr.New(kgerr.CodeValidationInvalid, "episode_name is required", kgerr.Field("field", "episode_name"))
	}

	cg, err := in.CandidateGraph()
	if err != nil {
		return nil, err
	}

	episodeType := in.EpisodeType
	if episodeType == "" {
		episodeType = DefaultBuildEpisodeType
	}
	return g.Commit(ctx, &model.Episode{
		Name:              name,
		Body:              fmt.Sprintf("Manufacturing document with %d entities and %d relationships", len(in.Nodes), len(in.Edges)),
		SourceDescription: in.SourceDescription,
		EpisodeType:       episodeType,
	}, cg, override)
}

// CandidateGraph converts the input into a validated candidate graph keyed by
// node id.
func (in BuildGraphInput) CandidateGraph() (model.CandidateGraph, error) {
	cg := model.CandidateGraph{
		Entities:  make([]model.CandidateEntity, 0, len(in.Nodes)),
		Relations: make([]model.CandidateRelation, 0, len(in.Edges)),
	}
	for i, n := range in.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return model.CandidateGraph{}, kgerr.New(kgerr.CodeValidationInvalid,
				fmt.Sprintf("nodes[%d]: id is required", i), kgerr.Field("field", "nodes"))
		}
		props := maps.Clone(n.Properties)
		name := id
		if s, ok := props["name"].(string); ok && strings.TrimSpace(s) != "" {
			name = s
		}
		summary, _ := props["summary"].(string)
		delete(props, "name")
		delete(props, "summary")

		cg.Entities = append(cg.Entities, model.CandidateEntity{
			Ref:        id,
			Label:      strings.TrimSpace(n.Label),
			Name:       name,
			Summary:    strings.TrimSpace(summary),
			Attributes: props,
		})
	}

	for _, e := range in.Edges {
		props := maps.Clone(e.Properties)
		text := firstString(props, "fact", "description")
		delete(props, "fact")

		cg.Relations = append(cg.Relations, model.CandidateRelation{
			Source:     strings.TrimSpace(e.Source),
			Target:     strings.TrimSpace(e.Target),
			Type:       e.Type,
			FactText:   text,
			Properties: props,
		})
	}

	if err := cg.Validate(); err != nil {
		return model.CandidateGraph{}, err
	}
	return cg, nil
}

func firstString(props map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := props[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

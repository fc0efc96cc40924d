package model

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

// CandidateEntity is an entity proposed by extraction or explicit input,
// before resolution against the graph.
type CandidateEntity struct {
	// Ref is how relations in the same candidate graph point at this entity:
	// the normalized name for extracted graphs, the node id for build-graph
	// input.
	Ref        string         `json:"-"`
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Summary    string         `json:"summary,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Embedding  []float32      `json:"-"`
}

// CandidateRelation is a proposed fact. Source and Target are Refs into the
// candidate entity set.
type CandidateRelation struct {
	Source     string         `json:"source_name"`
	Target     string         `json:"target_name"`
	Type       string         `json:"type"`
	FactText   string         `json:"fact_text"`
	Confidence *float64       `json:"confidence,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Embedding  []float32      `json:"-"`
}

// ConfidenceOrDefault treats a missing confidence as certain.
func (r CandidateRelation) ConfidenceOrDefault() float64 {
	if r.Confidence == nil {
		return 1
	}
	return *r.Confidence
}

type CandidateGraph struct {
	Entities  []CandidateEntity   `json:"entities"`
	Relations []CandidateRelation `json:"relations"`
}

// ExtractionResponse is the JSON shape the extraction prompt asks for.
type ExtractionResponse struct {
	Entities []struct {
		Label      string         `json:"label"`
		Name       string         `json:"name"`
		Summary    string         `json:"summary"`
		Attributes map[string]any `json:"attributes"`
	} `json:"entities"`
	Relations []struct {
		SourceName string   `json:"source_name"`
		TargetName string   `json:"target_name"`
		Type       string   `json:"type"`
		FactText   string   `json:"fact_text"`
		Confidence *float64 `json:"confidence"`
	} `json:"relations"`
}

// Validate rejects a candidate graph supplied by a caller. Unlike Sanitize it
// drops nothing: any malformed entity or relation fails the whole graph.
func (g CandidateGraph) Validate() error {
	refs := make(map[string]bool, len(g.Entities))
	for i, e := range g.Entities {
		if strings.TrimSpace(e.Name) == "" {
			return kgerr.New(kgerr.CodeValidationInvalid, fmt.Sprintf("entities[%d]: name is required", i))
		}
		if e.Ref != "" {
			if refs[e.Ref] {
				return kgerr.New(kgerr.CodeValidationInvalid, fmt.Sprintf("entities[%d]: duplicate id %q", i, e.Ref))
			}
			refs[e.Ref] = true
		}
		if k, ok := firstNonScalar(e.Attributes); ok {
			return kgerr.New(kgerr.CodeValidationInvalid,
				fmt.Sprintf("entities[%d]: property %q must be a string, number, bool or null", i, k))
		}
	}
	for i, r := range g.Relations {
		if strings.TrimSpace(r.Source) == "" || strings.TrimSpace(r.Target) == "" {
			return kgerr.New(kgerr.CodeValidationInvalid, fmt.Sprintf("relations[%d]: source and target are required", i))
		}
		if common.RelationType(r.Type) == "" {
			return kgerr.New(kgerr.CodeValidationInvalid, fmt.Sprintf("relations[%d]: type is required", i))
		}
		if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
			return kgerr.New(kgerr.CodeValidationInvalid, fmt.Sprintf("relations[%d]: confidence must be within [0, 1]", i))
		}
		if k, ok := firstNonScalar(r.Properties); ok {
			return kgerr.New(kgerr.CodeValidationInvalid,
				fmt.Sprintf("relations[%d]: property %q must be a string, number, bool or null", i, k))
		}
	}
	return nil
}

// Sanitize repairs model output in place: it defaults labels, normalizes
// relation types, clamps confidence and drops non-scalar attributes. Nameless
// entities, incomplete relations and relations below minConfidence are
// removed. It returns the number of relations removed.
func (g *CandidateGraph) Sanitize(minConfidence float64) int {
	entities := g.Entities[:0]
	for _, e := range g.Entities {
		e.Name = strings.Join(strings.Fields(e.Name), " ")
		if e.Name == "" {
			continue
		}
		if strings.TrimSpace(e.Label) == "" {
			e.Label = DefaultEntityLabel
		}
		for k, v := range e.Attributes {
			if !common.IsScalar(v) {
				delete(e.Attributes, k)
			}
		}
		entities = append(entities, e)
	}
	g.Entities = entities

	dropped := 0
	relations := g.Relations[:0]
	for _, r := range g.Relations {
		r.Type = common.RelationType(r.Type)
		if r.Source == "" || r.Target == "" || r.Type == "" {
			dropped++
			continue
		}
		if r.Confidence != nil {
			c := math.Min(1, math.Max(0, *r.Confidence))
			r.Confidence = &c
		}
		if r.ConfidenceOrDefault() < minConfidence {
			dropped++
			continue
		}
		r.FactText = strings.TrimSpace(r.FactText)
		relations = append(relations, r)
	}
	g.Relations = relations
	return dropped
}

func firstNonScalar(props map[string]any) (string, bool) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !common.IsScalar(props[k]) {
			return k, true
		}
	}
	return "", false
}

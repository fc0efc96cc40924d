package model

import "time"

// RankedFact is one search hit with its component scores.
type RankedFact struct {
	UUID           string     `json:"uuid"`
	Name           string     `json:"name"`
	FactText       string     `json:"fact_text"`
	SourceName     string     `json:"source_name"`
	TargetName     string     `json:"target_name"`
	ValidAt        time.Time  `json:"valid_at"`
	InvalidAt      *time.Time `json:"invalid_at,omitempty"`
	Score          float64    `json:"score"`
	LexicalScore   float64    `json:"lexical_score"`
	SemanticScore  float64    `json:"semantic_score"`
	ProximityScore float64    `json:"proximity_score"`
}

// Cluster is a group of closely linked entities found around a query.
// FactCount counts the live facts with both endpoints inside the cluster.
type Cluster struct {
	Entities  []EntityNode `json:"entities"`
	FactCount int          `json:"fact_count"`
}

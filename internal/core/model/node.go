package model

import "time"

// DefaultEntityLabel is applied to candidates that arrive without a label.
const DefaultEntityLabel = "Entity"

// Episode is one ingested unit of source text and its provenance metadata.
type Episode struct {
	UUID              string    `json:"uuid"`
	Name              string    `json:"name"`
	Body              string    `json:"body"`
	SourceDescription string    `json:"source_description"`
	EpisodeType       string    `json:"episode_type"`
	CreatedAt         time.Time `json:"created_at"`

	// NameKey is the name as compared by the duplicate guard (case-folded
	// when names are case-insensitive).
	NameKey string `json:"-"`
	// DedupKey is the storage-side unique key. The first episode of a name
	// owns NameKey itself; override episodes get a uuid suffix.
	DedupKey string `json:"-"`
}

// EpisodeDetail is an episode together with the size of its contribution.
type EpisodeDetail struct {
	Episode
	EntityCount int `json:"entity_count"`
	FactCount   int `json:"fact_count"`
}

// EntityNode is a deduplicated graph node, identified by (Label, NormName).
type EntityNode struct {
	UUID          string         `json:"uuid"`
	Label         string         `json:"label"`
	Name          string         `json:"name"`
	NormName      string         `json:"-"`
	Summary       string         `json:"summary,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	NameEmbedding []float32      `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Stats are aggregate graph counts.
type Stats struct {
	EpisodesCount          int64 `json:"episodes_count"`
	EntitiesCount          int64 `json:"entities_count"`
	RelationshipsCount     int64 `json:"relationships_count"`
	LiveRelationshipsCount int64 `json:"live_relationships_count"`
}

// DeleteResult reports what an episode deletion removed.
type DeleteResult struct {
	Deleted              bool `json:"deleted"`
	EntitiesDeleted      int  `json:"entities_deleted"`
	RelationshipsDeleted int  `json:"relationships_deleted"`
}

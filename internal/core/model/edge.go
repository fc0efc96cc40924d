package model

import "time"

// EntityEdge is a typed, directed fact between two entities that held during
// [ValidAt, InvalidAt). A nil InvalidAt marks the fact as live.
type EntityEdge struct {
	UUID          string         `json:"uuid"`
	Type          string         `json:"type"`
	Name          string         `json:"name"`
	Fact          string         `json:"fact"`
	SourceUUID    string         `json:"source_node_uuid"`
	TargetUUID    string         `json:"target_node_uuid"`
	SourceName    string         `json:"source_name,omitempty"`
	TargetName    string         `json:"target_name,omitempty"`
	ValidAt       time.Time      `json:"valid_at"`
	InvalidAt     *time.Time     `json:"invalid_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Episodes      []string       `json:"episodes,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	FactEmbedding []float32      `json:"-"`
}

func (e EntityEdge) IsLive() bool {
	return e.InvalidAt == nil
}

// ValidAtTime reports whether the fact held at t.
func (e EntityEdge) ValidAtTime(t time.Time) bool {
	if t.Before(e.ValidAt) {
		return false
	}
	return e.InvalidAt == nil || t.Before(*e.InvalidAt)
}

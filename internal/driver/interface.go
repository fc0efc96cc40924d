package driver

import (
	"context"
	"errors"
	"time"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
)

var (
	// ErrNotFound is wrapped by every lookup that finds nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a write that collided with a uniqueness constraint or
	// a concurrent writer. The whole unit of work may be retried.
	ErrConflict = errors.New("write conflict")
)

// GraphDriver is the storage engine behind the knowledge graph.
//
// Update runs fn as one atomic unit of work: either every write made through
// tx is committed or none is. View runs read-only queries and may observe a
// graph slightly behind in-flight commits.
type GraphDriver interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx ReadTx) error) error
	BuildIndices(ctx context.Context) error
	Ping(ctx context.Context) error
	Backend() string
	Close(ctx context.Context) error
}

// FactFilter bounds fact candidate queries.
type FactFilter struct {
	IncludeHistorical bool
	Limit             int
}

type ReadTx interface {
	// FindEpisodeByNameKey returns the oldest episode whose dedup name key
	// equals nameKey.
	FindEpisodeByNameKey(ctx context.Context, nameKey string) (*model.Episode, error)
	GetEpisode(ctx context.Context, uuid string) (*model.EpisodeDetail, error)
	ListEpisodes(ctx context.Context, limit int) ([]model.Episode, error)

	FindEntityByKey(ctx context.Context, label, normName string) (*model.EntityNode, error)
	GetEntities(ctx context.Context, uuids []string) (map[string]model.EntityNode, error)

	// FindLiveFact returns the fact for (source, target, type) whose validity
	// window is still open.
	FindLiveFact(ctx context.Context, sourceUUID, targetUUID, relType string) (*model.EntityEdge, error)
	GetFacts(ctx context.Context, uuids []string) ([]model.EntityEdge, error)

	LexicalFacts(ctx context.Context, tokens []string, f FactFilter) ([]string, error)
	SimilarFacts(ctx context.Context, vector []float32, f FactFilter) ([]string, error)
	FactsTouching(ctx context.Context, entityUUIDs []string, f FactFilter) ([]string, error)

	LexicalEntities(ctx context.Context, tokens []string, limit int) ([]string, error)
	SimilarEntities(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]string, error)

	// Neighborhood walks live facts in both directions from seeds and returns
	// every reached entity with its hop distance (seeds are at 0). A positive
	// limit caps the number of entities returned; seeds are always included.
	Neighborhood(ctx context.Context, seeds []string, depth, limit int) (map[string]int, error)

	Stats(ctx context.Context) (model.Stats, error)
}

type Tx interface {
	ReadTx

	CreateEpisode(ctx context.Context, ep *model.Episode) error
	// SaveEntity inserts or updates by UUID. A second entity with the same
	// (label, norm name) is a conflict.
	SaveEntity(ctx context.Context, e *model.EntityNode) error
	// SaveFact inserts or updates by UUID. A second live fact with the same
	// (source, target, type) is a conflict.
	SaveFact(ctx context.Context, f *model.EntityEdge) error
	// InvalidateFact closes a live fact's validity window at t.
	InvalidateFact(ctx context.Context, uuid string, t time.Time) error

	LinkEntity(ctx context.Context, episodeUUID, entityUUID string) error
	LinkFact(ctx context.Context, episodeUUID, factUUID string) error

	// DeleteEpisode removes the episode plus every fact and entity whose only
	// provenance it was. Entities still referenced by a surviving fact stay.
	DeleteEpisode(ctx context.Context, uuid string) (model.DeleteResult, error)
}

package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/logger"
)

var (
	_ GraphDriver = (*MemgraphDriver)(nil)
	_ Tx          = (*memgraphTx)(nil)
)

// MemgraphDriver talks Bolt to Memgraph (or Neo4j). Entities are :Entity
// nodes, facts are :RELATES_TO edges and episodes are :Episodic nodes that
// :MENTIONS the entities they contributed.
type MemgraphDriver struct {
	Driver neo4j.DriverWithContext
	log    *zap.Logger
}

func NewMemgraphDriver(uri, username, password string) (*MemgraphDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "creating bolt driver: %w", err)
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		_ = driver.Close(context.Background())
		return nil, kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "connecting to %s: %w", uri, err)
	}

	log := logger.Named("memgraph")
	log.Info("Connected to Memgraph", zap.String("uri", uri))
	return &MemgraphDriver{Driver: driver, log: log}, nil
}

func (d *MemgraphDriver) Backend() string { return "memgraph" }

func (d *MemgraphDriver) Ping(ctx context.Context) error {
	return d.Driver.VerifyConnectivity(ctx)
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

// BuildIndices creates constraints and indexes. Statements that fail (most
// often because the index already exists) are logged and skipped.
func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	session := d.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, q := range schemaQueries {
		res, err := session.Run(ctx, q, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			d.log.Warn("schema statement failed", zap.String("query", q), zap.Error(err))
		}
	}
	return nil
}

func (d *MemgraphDriver) Update(ctx context.Context, fn func(tx Tx) error) error {
	session := d.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&memgraphTx{tx: tx})
	})
	return classifyNeo4j(err, "running write transaction")
}

func (d *MemgraphDriver) View(ctx context.Context, fn func(tx ReadTx) error) error {
	session := d.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&memgraphTx{tx: tx})
	})
	return classifyNeo4j(err, "running read transaction")
}

// classifyNeo4j passes coded errors through untouched and maps constraint
// violations and serialization failures onto ErrConflict.
func classifyNeo4j(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if kgerr.CodeOf(err) != "" {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "conflicting transactions") ||
		strings.Contains(msg, "serialization") {
		return kgerr.Wrapf(fmt.Errorf("%w: %v", ErrConflict, err), kgerr.CodeStoreConflict, format, args...)
	}
	return kgerr.Wrapf(err, kgerr.CodeStoreDatabaseFailure, format, args...)
}

type memgraphTx struct {
	tx neo4j.ManagedTransaction
}

func (m *memgraphTx) run(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := m.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

// --- record helpers ---

func recString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func recInt(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func recTime(rec *neo4j.Record, key string) (time.Time, error) {
	s := recString(rec, key)
	if s == "" {
		return time.Time{}, nil
	}
	return parseTime(s)
}

func recVector(rec *neo4j.Record, key string) []float32 {
	v, _ := rec.Get(key)
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, x := range list {
		switch f := x.(type) {
		case float64:
			out = append(out, float32(f))
		case int64:
			out = append(out, float32(f))
		default:
			return nil
		}
	}
	return out
}

func recStrings(rec *neo4j.Record, key string) []string {
	v, _ := rec.Get(key)
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, x := range list {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// boltVector converts to the float list Bolt sends; nil clears the property.
func boltVector(v []float32) any {
	v = storableVector(v)
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func recordEpisode(rec *neo4j.Record) (*model.Episode, error) {
	ep := &model.Episode{
		UUID:              recString(rec, "uuid"),
		Name:              recString(rec, "name"),
		NameKey:           recString(rec, "name_key"),
		DedupKey:          recString(rec, "dedup_key"),
		Body:              recString(rec, "body"),
		SourceDescription: recString(rec, "source_description"),
		EpisodeType:       recString(rec, "episode_type"),
	}
	t, err := recTime(rec, "created_at")
	if err != nil {
		return nil, fmt.Errorf("parsing episode %s created_at: %w", ep.UUID, err)
	}
	ep.CreatedAt = t
	return ep, nil
}

func recordEntity(rec *neo4j.Record) (*model.EntityNode, error) {
	e := &model.EntityNode{
		UUID:          recString(rec, "uuid"),
		Label:         recString(rec, "label"),
		Name:          recString(rec, "name"),
		NormName:      recString(rec, "norm_name"),
		Summary:       recString(rec, "summary"),
		NameEmbedding: recVector(rec, "name_embedding"),
	}
	var err error
	if e.Properties, err = decodeProps(recString(rec, "properties")); err != nil {
		return nil, fmt.Errorf("decoding entity %s properties: %w", e.UUID, err)
	}
	if e.CreatedAt, err = recTime(rec, "created_at"); err != nil {
		return nil, fmt.Errorf("parsing entity %s created_at: %w", e.UUID, err)
	}
	if e.UpdatedAt, err = recTime(rec, "updated_at"); err != nil {
		return nil, fmt.Errorf("parsing entity %s updated_at: %w", e.UUID, err)
	}
	return e, nil
}

func recordFact(rec *neo4j.Record) (*model.EntityEdge, error) {
	f := &model.EntityEdge{
		UUID:          recString(rec, "uuid"),
		Type:          recString(rec, "type"),
		Name:          recString(rec, "name"),
		Fact:          recString(rec, "fact"),
		SourceUUID:    recString(rec, "source_uuid"),
		TargetUUID:    recString(rec, "target_uuid"),
		SourceName:    recString(rec, "source_name"),
		TargetName:    recString(rec, "target_name"),
		FactEmbedding: recVector(rec, "fact_embedding"),
		Episodes:      recStrings(rec, "episodes"),
	}
	var err error
	if f.ValidAt, err = recTime(rec, "valid_at"); err != nil {
		return nil, fmt.Errorf("parsing fact %s valid_at: %w", f.UUID, err)
	}
	if s := recString(rec, "invalid_at"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return nil, fmt.Errorf("parsing fact %s invalid_at: %w", f.UUID, err)
		}
		f.InvalidAt = &t
	}
	if f.CreatedAt, err = recTime(rec, "created_at"); err != nil {
		return nil, fmt.Errorf("parsing fact %s created_at: %w", f.UUID, err)
	}
	if f.Properties, err = decodeProps(recString(rec, "properties")); err != nil {
		return nil, fmt.Errorf("decoding fact %s properties: %w", f.UUID, err)
	}
	return f, nil
}

// --- episodes ---

func (m *memgraphTx) FindEpisodeByNameKey(ctx context.Context, nameKey string) (*model.Episode, error) {
	recs, err := m.run(ctx, FindEpisodeByNameKeyQuery, map[string]any{"name_key": nameKey})
	if err != nil {
		return nil, classifyNeo4j(err, "finding episode %q", nameKey)
	}
	if len(recs) == 0 {
		return nil, notFound(kgerr.CodeStoreEpisodeNotFound, "episode named %q", nameKey)
	}
	ep, err := recordEpisode(recs[0])
	return ep, classifyNeo4j(err, "reading episode %q", nameKey)
}

func (m *memgraphTx) GetEpisode(ctx context.Context, uuid string) (*model.EpisodeDetail, error) {
	recs, err := m.run(ctx, GetEpisodeQuery, map[string]any{"uuid": uuid})
	if err != nil {
		return nil, classifyNeo4j(err, "getting episode %s", uuid)
	}
	if len(recs) == 0 {
		return nil, notFound(kgerr.CodeStoreEpisodeNotFound, "episode %s", uuid)
	}
	ep, err := recordEpisode(recs[0])
	if err != nil {
		return nil, classifyNeo4j(err, "reading episode %s", uuid)
	}
	return &model.EpisodeDetail{
		Episode:     *ep,
		EntityCount: int(recInt(recs[0], "entity_count")),
		FactCount:   int(recInt(recs[0], "fact_count")),
	}, nil
}

func (m *memgraphTx) ListEpisodes(ctx context.Context, limit int) ([]model.Episode, error) {
	recs, err := m.run(ctx, ListEpisodesQuery, map[string]any{"limit": limit})
	if err != nil {
		return nil, classifyNeo4j(err, "listing episodes")
	}
	out := make([]model.Episode, 0, len(recs))
	for _, rec := range recs {
		ep, err := recordEpisode(rec)
		if err != nil {
			return nil, classifyNeo4j(err, "reading episode")
		}
		out = append(out, *ep)
	}
	return out, nil
}

func (m *memgraphTx) CreateEpisode(ctx context.Context, ep *model.Episode) error {
	_, err := m.run(ctx, CreateEpisodeQuery, map[string]any{
		"uuid":               ep.UUID,
		"name":               ep.Name,
		"name_key":           ep.NameKey,
		"dedup_key":          ep.DedupKey,
		"body":               ep.Body,
		"source_description": ep.SourceDescription,
		"episode_type":       ep.EpisodeType,
		"created_at":         formatTime(ep.CreatedAt),
	})
	return classifyNeo4j(err, "creating episode %q", ep.Name)
}

// --- entities ---

func (m *memgraphTx) FindEntityByKey(ctx context.Context, label, normName string) (*model.EntityNode, error) {
	recs, err := m.run(ctx, FindEntityByKeyQuery, map[string]any{"label": label, "norm_name": normName})
	if err != nil {
		return nil, classifyNeo4j(err, "finding entity %s:%q", label, normName)
	}
	if len(recs) == 0 {
		return nil, notFound(kgerr.CodeStoreEntityNotFound, "entity %s:%q", label, normName)
	}
	e, err := recordEntity(recs[0])
	return e, classifyNeo4j(err, "reading entity %s:%q", label, normName)
}

func (m *memgraphTx) GetEntities(ctx context.Context, uuids []string) (map[string]model.EntityNode, error) {
	out := make(map[string]model.EntityNode, len(uuids))
	if len(uuids) == 0 {
		return out, nil
	}
	recs, err := m.run(ctx, GetEntitiesQuery, map[string]any{"uuids": uuids})
	if err != nil {
		return nil, classifyNeo4j(err, "getting entities")
	}
	for _, rec := range recs {
		e, err := recordEntity(rec)
		if err != nil {
			return nil, classifyNeo4j(err, "reading entity")
		}
		out[e.UUID] = *e
	}
	return out, nil
}

func (m *memgraphTx) SaveEntity(ctx context.Context, e *model.EntityNode) error {
	props, err := encodeProps(e.Properties)
	if err != nil {
		return kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "encoding entity %s properties: %w", e.UUID, err)
	}
	_, err = m.run(ctx, SaveEntityQuery, map[string]any{
		"uuid":           e.UUID,
		"label":          e.Label,
		"norm_name":      e.NormName,
		"name":           e.Name,
		"summary":        e.Summary,
		"properties":     props,
		"name_embedding": boltVector(e.NameEmbedding),
		"tokens":         entityTokens(e),
		"created_at":     formatTime(e.CreatedAt),
		"updated_at":     formatTime(e.UpdatedAt),
	})
	return classifyNeo4j(err, "saving entity %s:%q", e.Label, e.Name)
}

// --- facts ---

func (m *memgraphTx) FindLiveFact(ctx context.Context, sourceUUID, targetUUID, relType string) (*model.EntityEdge, error) {
	recs, err := m.run(ctx, FindLiveFactQuery, map[string]any{
		"source_uuid": sourceUUID,
		"target_uuid": targetUUID,
		"type":        relType,
	})
	if err != nil {
		return nil, classifyNeo4j(err, "finding live fact %s-[%s]->%s", sourceUUID, relType, targetUUID)
	}
	if len(recs) == 0 {
		return nil, notFound(kgerr.CodeStoreFactNotFound, "live fact %s-[%s]->%s", sourceUUID, relType, targetUUID)
	}
	f, err := recordFact(recs[0])
	return f, classifyNeo4j(err, "reading fact")
}

func (m *memgraphTx) GetFacts(ctx context.Context, uuids []string) ([]model.EntityEdge, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	recs, err := m.run(ctx, GetFactsQuery, map[string]any{"uuids": uuids})
	if err != nil {
		return nil, classifyNeo4j(err, "getting facts")
	}
	out := make([]model.EntityEdge, 0, len(recs))
	for _, rec := range recs {
		f, err := recordFact(rec)
		if err != nil {
			return nil, classifyNeo4j(err, "reading fact")
		}
		out = append(out, *f)
	}
	return out, nil
}

// SaveFact upserts the edge. Memgraph has no partial unique constraints, so
// the one-live-fact-per-key rule is checked here before writing.
func (m *memgraphTx) SaveFact(ctx context.Context, f *model.EntityEdge) error {
	if f.InvalidAt == nil {
		live, err := m.FindLiveFact(ctx, f.SourceUUID, f.TargetUUID, f.Type)
		switch {
		case err == nil && live.UUID != f.UUID:
			return kgerr.Wrapf(ErrConflict, kgerr.CodeStoreConflict,
				"live fact %s-[%s]->%s already exists", f.SourceUUID, f.Type, f.TargetUUID)
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
	}

	props, err := encodeProps(f.Properties)
	if err != nil {
		return kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "encoding fact %s properties: %w", f.UUID, err)
	}
	var invalidAt any
	if f.InvalidAt != nil {
		invalidAt = formatTime(*f.InvalidAt)
	}

	recs, err := m.run(ctx, SaveFactQuery, map[string]any{
		"uuid":           f.UUID,
		"source_uuid":    f.SourceUUID,
		"target_uuid":    f.TargetUUID,
		"type":           f.Type,
		"name":           f.Name,
		"fact":           f.Fact,
		"valid_at":       formatTime(f.ValidAt),
		"invalid_at":     invalidAt,
		"created_at":     formatTime(f.CreatedAt),
		"properties":     props,
		"fact_embedding": boltVector(f.FactEmbedding),
		"tokens":         factTokens(f),
	})
	if err != nil {
		return classifyNeo4j(err, "saving fact %s-[%s]->%s", f.SourceUUID, f.Type, f.TargetUUID)
	}
	if len(recs) == 0 {
		return notFound(kgerr.CodeStoreEntityNotFound, "endpoints of fact %s", f.UUID)
	}
	return nil
}

func (m *memgraphTx) InvalidateFact(ctx context.Context, uuid string, t time.Time) error {
	recs, err := m.run(ctx, InvalidateFactQuery, map[string]any{"uuid": uuid, "invalid_at": formatTime(t)})
	if err != nil {
		return classifyNeo4j(err, "invalidating fact %s", uuid)
	}
	if len(recs) == 0 {
		return kgerr.Wrapf(ErrConflict, kgerr.CodeStoreConflict, "fact %s is no longer live", uuid)
	}
	return nil
}

// --- provenance ---

func (m *memgraphTx) LinkEntity(ctx context.Context, episodeUUID, entityUUID string) error {
	_, err := m.run(ctx, LinkEntityQuery, map[string]any{"episode_uuid": episodeUUID, "entity_uuid": entityUUID})
	return classifyNeo4j(err, "linking episode %s to entity %s", episodeUUID, entityUUID)
}

func (m *memgraphTx) LinkFact(ctx context.Context, episodeUUID, factUUID string) error {
	_, err := m.run(ctx, LinkFactQuery, map[string]any{"episode_uuid": episodeUUID, "fact_uuid": factUUID})
	return classifyNeo4j(err, "linking episode %s to fact %s", episodeUUID, factUUID)
}

func (m *memgraphTx) DeleteEpisode(ctx context.Context, uuid string) (model.DeleteResult, error) {
	var res model.DeleteResult
	params := map[string]any{"uuid": uuid}

	recs, err := m.run(ctx, EpisodeExistsQuery, params)
	if err != nil {
		return res, classifyNeo4j(err, "looking up episode %s", uuid)
	}
	if len(recs) == 0 {
		return res, nil
	}

	if recs, err = m.run(ctx, DeleteSoleFactsQuery, params); err != nil {
		return res, classifyNeo4j(err, "deleting facts of episode %s", uuid)
	}
	if len(recs) > 0 {
		res.RelationshipsDeleted = int(recInt(recs[0], "deleted"))
	}
	if _, err = m.run(ctx, DetachFactProvenanceQuery, params); err != nil {
		return res, classifyNeo4j(err, "detaching provenance of episode %s", uuid)
	}

	if recs, err = m.run(ctx, DeleteSoleEntitiesQuery, params); err != nil {
		return res, classifyNeo4j(err, "deleting entities of episode %s", uuid)
	}
	if len(recs) > 0 {
		res.EntitiesDeleted = int(recInt(recs[0], "deleted"))
	}

	if _, err = m.run(ctx, DeleteEpisodeNodeQuery, params); err != nil {
		return res, classifyNeo4j(err, "deleting episode %s", uuid)
	}
	res.Deleted = true
	return res, nil
}

// --- search primitives ---

func (m *memgraphTx) LexicalFacts(ctx context.Context, tokens []string, f FactFilter) ([]string, error) {
	if len(tokens) == 0 || f.Limit <= 0 {
		return nil, nil
	}
	return m.queryIDs(ctx, LexicalFactsQuery, map[string]any{
		"tokens":             tokens,
		"include_historical": f.IncludeHistorical,
		"limit":              f.Limit,
	}, "lexical fact search")
}

// SimilarFacts ranks client-side; Memgraph's vector index needs MAGE, which
// the default image does not ship.
func (m *memgraphTx) SimilarFacts(ctx context.Context, vector []float32, f FactFilter) ([]string, error) {
	if storableVector(vector) == nil || f.Limit <= 0 {
		return nil, nil
	}
	items, err := m.similar(ctx, FactEmbeddingsQuery, map[string]any{"include_historical": f.IncludeHistorical}, vector)
	if err != nil {
		return nil, classifyNeo4j(err, "vector fact search")
	}
	return topByScore(items, math.Inf(-1), f.Limit), nil
}

func (m *memgraphTx) FactsTouching(ctx context.Context, entityUUIDs []string, f FactFilter) ([]string, error) {
	if len(entityUUIDs) == 0 || f.Limit <= 0 {
		return nil, nil
	}
	return m.queryIDs(ctx, FactsTouchingQuery, map[string]any{
		"uuids":              entityUUIDs,
		"include_historical": f.IncludeHistorical,
		"limit":              f.Limit,
	}, "adjacent fact search")
}

func (m *memgraphTx) LexicalEntities(ctx context.Context, tokens []string, limit int) ([]string, error) {
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}
	return m.queryIDs(ctx, LexicalEntitiesQuery, map[string]any{"tokens": tokens, "limit": limit}, "lexical entity search")
}

func (m *memgraphTx) SimilarEntities(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]string, error) {
	if storableVector(vector) == nil || limit <= 0 {
		return nil, nil
	}
	items, err := m.similar(ctx, EntityEmbeddingsQuery, nil, vector)
	if err != nil {
		return nil, classifyNeo4j(err, "vector entity search")
	}
	return topByScore(items, minSimilarity, limit), nil
}

func (m *memgraphTx) similar(ctx context.Context, cypher string, params map[string]any, vector []float32) ([]scoredID, error) {
	recs, err := m.run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	items := make([]scoredID, 0, len(recs))
	for _, rec := range recs {
		emb := recVector(rec, "embedding")
		if len(emb) != len(vector) {
			continue
		}
		items = append(items, scoredID{id: recString(rec, "uuid"), score: common.Cosine(vector, emb)})
	}
	return items, nil
}

func (m *memgraphTx) Neighborhood(ctx context.Context, seeds []string, depth, limit int) (map[string]int, error) {
	return expand(ctx, seeds, depth, limit, func(ctx context.Context, frontier []string) ([]string, error) {
		return m.queryIDs(ctx, NeighborsQuery, map[string]any{"uuids": frontier}, "expanding neighborhood")
	})
}

func (m *memgraphTx) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	recs, err := m.run(ctx, StatsQuery, nil)
	if err != nil {
		return st, classifyNeo4j(err, "reading stats")
	}
	if len(recs) == 0 {
		return st, nil
	}
	rec := recs[0]
	st.EpisodesCount = recInt(rec, "episodes")
	st.EntitiesCount = recInt(rec, "entities")
	st.RelationshipsCount = recInt(rec, "relationships")
	st.LiveRelationshipsCount = recInt(rec, "live_relationships")
	return st, nil
}

func (m *memgraphTx) queryIDs(ctx context.Context, cypher string, params map[string]any, what string) ([]string, error) {
	recs, err := m.run(ctx, cypher, params)
	if err != nil {
		return nil, classifyNeo4j(err, "%s", what)
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recString(rec, "uuid"))
	}
	return out, nil
}

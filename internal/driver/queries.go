package driver

// Schema statements. Memgraph rejects index DDL inside explicit transactions,
// so these run one by one in auto-commit mode.
var schemaQueries = []string{
	"CREATE CONSTRAINT ON (e:Episodic) ASSERT e.dedup_key IS UNIQUE;",
	"CREATE CONSTRAINT ON (n:Entity) ASSERT n.uuid IS UNIQUE;",
	"CREATE CONSTRAINT ON (n:Entity) ASSERT n.label, n.norm_name IS UNIQUE;",

	"CREATE INDEX ON :Episodic(uuid);",
	"CREATE INDEX ON :Episodic(name_key);",
	"CREATE INDEX ON :Entity(uuid);",
	"CREATE INDEX ON :Entity(label, norm_name);",
	"CREATE EDGE INDEX ON :RELATES_TO(uuid);",
}

const (
	episodeReturn = `
		e.uuid AS uuid, e.name AS name, e.name_key AS name_key, e.dedup_key AS dedup_key,
		e.body AS body, e.source_description AS source_description,
		e.episode_type AS episode_type, e.created_at AS created_at`

	CreateEpisodeQuery = `
		CREATE (e:Episodic {
			uuid: $uuid,
			name: $name,
			name_key: $name_key,
			dedup_key: $dedup_key,
			body: $body,
			source_description: $source_description,
			episode_type: $episode_type,
			created_at: $created_at
		})
	`

	FindEpisodeByNameKeyQuery = `
		MATCH (e:Episodic {name_key: $name_key})
		RETURN ` + episodeReturn + `
		ORDER BY e.created_at ASC, e.uuid ASC
		LIMIT 1
	`

	GetEpisodeQuery = `
		MATCH (e:Episodic {uuid: $uuid})
		OPTIONAL MATCH (e)-[:MENTIONS]->(n:Entity)
		WITH e, count(DISTINCT n) AS entity_count
		OPTIONAL MATCH ()-[f:RELATES_TO]->()
		WHERE $uuid IN f.episodes
		RETURN ` + episodeReturn + `, entity_count, count(f) AS fact_count
	`

	ListEpisodesQuery = `
		MATCH (e:Episodic)
		RETURN ` + episodeReturn + `
		ORDER BY e.created_at DESC, e.uuid DESC
		LIMIT $limit
	`

	EpisodeExistsQuery = `
		MATCH (e:Episodic {uuid: $uuid})
		RETURN e.uuid AS uuid
	`

	entityReturn = `
		n.uuid AS uuid, n.label AS label, n.name AS name, n.norm_name AS norm_name,
		n.summary AS summary, n.properties AS properties, n.name_embedding AS name_embedding,
		n.created_at AS created_at, n.updated_at AS updated_at`

	FindEntityByKeyQuery = `
		MATCH (n:Entity {label: $label, norm_name: $norm_name})
		RETURN ` + entityReturn + `
	`

	GetEntitiesQuery = `
		MATCH (n:Entity)
		WHERE n.uuid IN $uuids
		RETURN ` + entityReturn + `
	`

	SaveEntityQuery = `
		MERGE (n:Entity {uuid: $uuid})
		ON CREATE SET n.label = $label,
			n.norm_name = $norm_name,
			n.created_at = $created_at
		SET n.name = $name,
			n.summary = $summary,
			n.properties = $properties,
			n.name_embedding = $name_embedding,
			n.tokens = $tokens,
			n.updated_at = $updated_at
	`

	factReturn = `
		f.uuid AS uuid, f.type AS type, f.name AS name, f.fact AS fact,
		s.uuid AS source_uuid, t.uuid AS target_uuid, s.name AS source_name, t.name AS target_name,
		f.valid_at AS valid_at, f.invalid_at AS invalid_at, f.properties AS properties,
		f.fact_embedding AS fact_embedding, f.created_at AS created_at, f.episodes AS episodes`

	FindLiveFactQuery = `
		MATCH (s:Entity {uuid: $source_uuid})-[f:RELATES_TO {type: $type}]->(t:Entity {uuid: $target_uuid})
		WHERE f.invalid_at IS NULL
		RETURN ` + factReturn + `
		LIMIT 1
	`

	GetFactsQuery = `
		MATCH (s:Entity)-[f:RELATES_TO]->(t:Entity)
		WHERE f.uuid IN $uuids
		RETURN ` + factReturn + `
	`

	SaveFactQuery = `
		MATCH (s:Entity {uuid: $source_uuid})
		MATCH (t:Entity {uuid: $target_uuid})
		MERGE (s)-[f:RELATES_TO {uuid: $uuid}]->(t)
		ON CREATE SET f.type = $type,
			f.name = $name,
			f.valid_at = $valid_at,
			f.created_at = $created_at,
			f.episodes = []
		SET f.fact = $fact,
			f.invalid_at = $invalid_at,
			f.properties = $properties,
			f.fact_embedding = $fact_embedding,
			f.tokens = $tokens
		RETURN f.uuid AS uuid
	`

	InvalidateFactQuery = `
		MATCH ()-[f:RELATES_TO {uuid: $uuid}]->()
		WHERE f.invalid_at IS NULL
		SET f.invalid_at = $invalid_at
		RETURN f.uuid AS uuid
	`

	LinkEntityQuery = `
		MATCH (e:Episodic {uuid: $episode_uuid})
		MATCH (n:Entity {uuid: $entity_uuid})
		MERGE (e)-[:MENTIONS]->(n)
		RETURN n.uuid AS uuid
	`

	LinkFactQuery = `
		MATCH ()-[f:RELATES_TO {uuid: $fact_uuid}]->()
		SET f.episodes = CASE
			WHEN $episode_uuid IN coalesce(f.episodes, []) THEN f.episodes
			ELSE coalesce(f.episodes, []) + $episode_uuid
		END
		RETURN f.uuid AS uuid
	`

	DeleteSoleFactsQuery = `
		MATCH ()-[f:RELATES_TO]->()
		WHERE $uuid IN f.episodes AND all(x IN f.episodes WHERE x = $uuid)
		WITH collect(f) AS doomed
		FOREACH (x IN doomed | DELETE x)
		RETURN size(doomed) AS deleted
	`

	DetachFactProvenanceQuery = `
		MATCH ()-[f:RELATES_TO]->()
		WHERE $uuid IN f.episodes
		SET f.episodes = [x IN f.episodes WHERE x <> $uuid]
	`

	DeleteSoleEntitiesQuery = `
		MATCH (e:Episodic {uuid: $uuid})-[:MENTIONS]->(n:Entity)
		OPTIONAL MATCH (n)<-[:MENTIONS]-(o:Episodic)
		WHERE o.uuid <> $uuid
		WITH n, count(o) AS others
		WHERE others = 0
		OPTIONAL MATCH (n)-[r:RELATES_TO]-()
		WITH n, count(r) AS rels
		WHERE rels = 0
		WITH collect(n) AS doomed
		FOREACH (x IN doomed | DETACH DELETE x)
		RETURN size(doomed) AS deleted
	`

	DeleteEpisodeNodeQuery = `
		MATCH (e:Episodic {uuid: $uuid})
		DETACH DELETE e
	`

	LexicalFactsQuery = `
		MATCH (s:Entity)-[f:RELATES_TO]->(t:Entity)
		WHERE $include_historical OR f.invalid_at IS NULL
		WITH f, size([tok IN coalesce(f.tokens, []) WHERE tok IN $tokens]) AS hits
		WHERE hits > 0
		RETURN f.uuid AS uuid
		ORDER BY hits DESC, f.valid_at DESC
		LIMIT $limit
	`

	FactEmbeddingsQuery = `
		MATCH ()-[f:RELATES_TO]->()
		WHERE f.fact_embedding IS NOT NULL AND ($include_historical OR f.invalid_at IS NULL)
		RETURN f.uuid AS uuid, f.fact_embedding AS embedding
	`

	FactsTouchingQuery = `
		MATCH (s:Entity)-[f:RELATES_TO]->(t:Entity)
		WHERE (s.uuid IN $uuids OR t.uuid IN $uuids)
			AND ($include_historical OR f.invalid_at IS NULL)
		RETURN f.uuid AS uuid
		ORDER BY f.valid_at DESC
		LIMIT $limit
	`

	LexicalEntitiesQuery = `
		MATCH (n:Entity)
		WITH n, size([tok IN coalesce(n.tokens, []) WHERE tok IN $tokens]) AS hits
		WHERE hits > 0
		RETURN n.uuid AS uuid
		ORDER BY hits DESC, n.uuid ASC
		LIMIT $limit
	`

	EntityEmbeddingsQuery = `
		MATCH (n:Entity)
		WHERE n.name_embedding IS NOT NULL
		RETURN n.uuid AS uuid, n.name_embedding AS embedding
	`

	NeighborsQuery = `
		MATCH (n:Entity)-[f:RELATES_TO]-(m:Entity)
		WHERE n.uuid IN $uuids AND f.invalid_at IS NULL
		RETURN DISTINCT m.uuid AS uuid
	`

	StatsQuery = `
		OPTIONAL MATCH (e:Episodic)
		WITH count(e) AS episodes
		OPTIONAL MATCH (n:Entity)
		WITH episodes, count(n) AS entities
		OPTIONAL MATCH ()-[f:RELATES_TO]->()
		RETURN episodes, entities, count(f) AS relationships,
			count(CASE WHEN f.invalid_at IS NULL THEN f END) AS live_relationships
	`
)

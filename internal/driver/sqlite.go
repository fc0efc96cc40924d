package driver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/logger"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface checks.
var (
	_ GraphDriver = (*SQLiteDriver)(nil)
	_ Tx          = (*sqliteTx)(nil)
)

// SQLiteDriver keeps the graph in a single SQLite file. Writers take the
// database lock at BEGIN (_txlock=immediate), so a check-then-insert inside
// Update is serialized across goroutines and processes alike.
type SQLiteDriver struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLiteDriver(path string) (*SQLiteDriver, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "creating sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "pinging sqlite db: %w", err)
	}

	d := &SQLiteDriver{db: db, log: logger.Named("sqlite")}
	if err := d.BuildIndices(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS episodes (
	uuid               TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	name_key           TEXT NOT NULL,
	dedup_key          TEXT NOT NULL UNIQUE,
	body               TEXT NOT NULL,
	source_description TEXT NOT NULL DEFAULT '',
	episode_type       TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_name_key ON episodes(name_key, created_at);
CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at);

CREATE TABLE IF NOT EXISTS entities (
	uuid           TEXT PRIMARY KEY,
	label          TEXT NOT NULL,
	name           TEXT NOT NULL,
	norm_name      TEXT NOT NULL,
	summary        TEXT NOT NULL DEFAULT '',
	properties     TEXT NOT NULL DEFAULT '{}',
	name_embedding BLOB,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	UNIQUE(label, norm_name)
);

CREATE TABLE IF NOT EXISTS facts (
	uuid           TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	name           TEXT NOT NULL,
	fact           TEXT NOT NULL,
	source_uuid    TEXT NOT NULL REFERENCES entities(uuid),
	target_uuid    TEXT NOT NULL REFERENCES entities(uuid),
	valid_at       TEXT NOT NULL,
	invalid_at     TEXT,
	properties     TEXT NOT NULL DEFAULT '{}',
	fact_embedding BLOB,
	created_at     TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_live_key ON facts(source_uuid, target_uuid, type) WHERE invalid_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_facts_source ON facts(source_uuid);
CREATE INDEX IF NOT EXISTS idx_facts_target ON facts(target_uuid);

CREATE TABLE IF NOT EXISTS fact_tokens (
	token     TEXT NOT NULL,
	fact_uuid TEXT NOT NULL REFERENCES facts(uuid) ON DELETE CASCADE,
	PRIMARY KEY (token, fact_uuid)
);
CREATE INDEX IF NOT EXISTS idx_fact_tokens_fact ON fact_tokens(fact_uuid);

CREATE TABLE IF NOT EXISTS entity_tokens (
	token       TEXT NOT NULL,
	entity_uuid TEXT NOT NULL REFERENCES entities(uuid) ON DELETE CASCADE,
	PRIMARY KEY (token, entity_uuid)
);
CREATE INDEX IF NOT EXISTS idx_entity_tokens_entity ON entity_tokens(entity_uuid);

CREATE TABLE IF NOT EXISTS episode_entities (
	episode_uuid TEXT NOT NULL REFERENCES episodes(uuid) ON DELETE CASCADE,
	entity_uuid  TEXT NOT NULL REFERENCES entities(uuid) ON DELETE CASCADE,
	PRIMARY KEY (episode_uuid, entity_uuid)
);
CREATE INDEX IF NOT EXISTS idx_episode_entities_entity ON episode_entities(entity_uuid);

CREATE TABLE IF NOT EXISTS episode_facts (
	episode_uuid TEXT NOT NULL REFERENCES episodes(uuid) ON DELETE CASCADE,
	fact_uuid    TEXT NOT NULL REFERENCES facts(uuid) ON DELETE CASCADE,
	PRIMARY KEY (episode_uuid, fact_uuid)
);
CREATE INDEX IF NOT EXISTS idx_episode_facts_fact ON episode_facts(fact_uuid);
`

// BuildIndices applies the schema. Every statement is idempotent.
func (d *SQLiteDriver) BuildIndices(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, sqliteSchema); err != nil {
		return kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "migrating graph tables: %w", err)
	}
	return nil
}

func (d *SQLiteDriver) Backend() string { return "sqlite" }

func (d *SQLiteDriver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *SQLiteDriver) Close(ctx context.Context) error {
	return d.db.Close()
}

func (d *SQLiteDriver) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(err, "committing transaction")
	}
	return nil
}

// View runs against the pool rather than a transaction; with WAL each query
// sees the latest committed state.
func (d *SQLiteDriver) View(ctx context.Context, fn func(tx ReadTx) error) error {
	return fn(&sqliteTx{q: d.db})
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q queryer
}

// classify maps SQLite failures onto the storage error kinds. Lock timeouts
// and uniqueness violations are conflicts; everything else is a database
// failure.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked,
			se.ExtendedCode == sqlite3.ErrConstraintUnique,
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return kgerr.Wrapf(fmt.Errorf("%w: %v", ErrConflict, err), kgerr.CodeStoreConflict, format, args...)
		}
	}
	return kgerr.Wrapf(err, kgerr.CodeStoreDatabaseFailure, format, args...)
}

func notFound(code kgerr.Code, format string, args ...any) error {
	return kgerr.Wrapf(ErrNotFound, code, format, args...)
}

// inList is bound to one JSON array parameter, so id lists of any length
// stay within SQLite's host-parameter limit.
const inList = `(SELECT value FROM json_each(?))`

func jsonArg(vals []string) string {
	b, _ := json.Marshal(vals)
	return string(b)
}


type rowScanner interface {
	Scan(dest ...any) error
}

// --- episodes ---

const episodeColumns = `uuid, name, name_key, dedup_key, body, source_description, episode_type, created_at`

func scanEpisode(row rowScanner) (*model.Episode, error) {
	var ep model.Episode
	var created string
	if err := row.Scan(&ep.UUID, &ep.Name, &ep.NameKey, &ep.DedupKey, &ep.Body, &ep.SourceDescription, &ep.EpisodeType, &created); err != nil {
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, fmt.Errorf("parsing episode %s created_at: %w", ep.UUID, err)
	}
	ep.CreatedAt = t
	return &ep, nil
}

func (s *sqliteTx) FindEpisodeByNameKey(ctx context.Context, nameKey string) (*model.Episode, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE name_key = ? ORDER BY created_at ASC, uuid ASC LIMIT 1`, nameKey)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kgerr.CodeStoreEpisodeNotFound, "episode named %q", nameKey)
	}
	if err != nil {
		return nil, classify(err, "finding episode %q", nameKey)
	}
	return ep, nil
}

func (s *sqliteTx) GetEpisode(ctx context.Context, uuid string) (*model.EpisodeDetail, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE uuid = ?`, uuid)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kgerr.CodeStoreEpisodeNotFound, "episode %s", uuid)
	}
	if err != nil {
		return nil, classify(err, "getting episode %s", uuid)
	}

	detail := &model.EpisodeDetail{Episode: *ep}
	const counts = `SELECT
	(SELECT COUNT(*) FROM episode_entities WHERE episode_uuid = ?),
	(SELECT COUNT(*) FROM episode_facts WHERE episode_uuid = ?)`
	if err := s.q.QueryRowContext(ctx, counts, uuid, uuid).Scan(&detail.EntityCount, &detail.FactCount); err != nil {
		return nil, classify(err, "counting episode %s provenance", uuid)
	}
	return detail, nil
}

func (s *sqliteTx) ListEpisodes(ctx context.Context, limit int) ([]model.Episode, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes ORDER BY created_at DESC, uuid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, classify(err, "listing episodes")
	}
	defer func() { _ = rows.Close() }()

	var out []model.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, classify(err, "scanning episode")
		}
		out = append(out, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterating episodes")
	}
	return out, nil
}

func (s *sqliteTx) CreateEpisode(ctx context.Context, ep *model.Episode) error {
	const q = `INSERT INTO episodes (` + episodeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.q.ExecContext(ctx, q,
		ep.UUID, ep.Name, ep.NameKey, ep.DedupKey, ep.Body, ep.SourceDescription, ep.EpisodeType, formatTime(ep.CreatedAt))
	return classify(err, "creating episode %q", ep.Name)
}

// --- entities ---

const entityColumns = `uuid, label, name, norm_name, summary, properties, name_embedding, created_at, updated_at`

func scanEntity(row rowScanner) (*model.EntityNode, error) {
	var e model.EntityNode
	var props, created, updated string
	var emb []byte
	if err := row.Scan(&e.UUID, &e.Label, &e.Name, &e.NormName, &e.Summary, &props, &emb, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if e.Properties, err = decodeProps(props); err != nil {
		return nil, fmt.Errorf("decoding entity %s properties: %w", e.UUID, err)
	}
	e.NameEmbedding = decodeVector(emb)
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing entity %s created_at: %w", e.UUID, err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parsing entity %s updated_at: %w", e.UUID, err)
	}
	return &e, nil
}

func (s *sqliteTx) FindEntityByKey(ctx context.Context, label, normName string) (*model.EntityNode, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE label = ? AND norm_name = ?`, label, normName)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kgerr.CodeStoreEntityNotFound, "entity %s:%q", label, normName)
	}
	if err != nil {
		return nil, classify(err, "finding entity %s:%q", label, normName)
	}
	return e, nil
}

func (s *sqliteTx) GetEntities(ctx context.Context, uuids []string) (map[string]model.EntityNode, error) {
	out := make(map[string]model.EntityNode, len(uuids))
	if len(uuids) == 0 {
		return out, nil
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE uuid IN `+inList, jsonArg(uuids))
	if err != nil {
		return nil, classify(err, "getting entities")
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, classify(err, "scanning entity")
		}
		out[e.UUID] = *e
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterating entities")
	}
	return out, nil
}

func (s *sqliteTx) SaveEntity(ctx context.Context, e *model.EntityNode) error {
	props, err := encodeProps(e.Properties)
	if err != nil {
		return kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "encoding entity %s properties: %w", e.UUID, err)
	}
	var emb []byte
	if v := storableVector(e.NameEmbedding); v != nil {
		if emb, err = sqlite_vec.SerializeFloat32(v); err != nil {
			return kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "serializing entity %s embedding: %w", e.UUID, err)
		}
	}

	const q = `INSERT INTO entities (` + entityColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(uuid) DO UPDATE SET
	name = excluded.name,
	summary = excluded.summary,
	properties = excluded.properties,
	name_embedding = excluded.name_embedding,
	updated_at = excluded.updated_at`

	if _, err := s.q.ExecContext(ctx, q, e.UUID, e.Label, e.Name, e.NormName, e.Summary, props, emb,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt)); err != nil {
		return classify(err, "saving entity %s:%q", e.Label, e.Name)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM entity_tokens WHERE entity_uuid = ?`, e.UUID); err != nil {
		return classify(err, "clearing entity %s tokens", e.UUID)
	}
	for _, tok := range entityTokens(e) {
		if _, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO entity_tokens (token, entity_uuid) VALUES (?, ?)`, tok, e.UUID); err != nil {
			return classify(err, "indexing entity %s", e.UUID)
		}
	}
	return nil
}

// --- facts ---

const factSelect = `SELECT f.uuid, f.type, f.name, f.fact, f.source_uuid, f.target_uuid, s.name, t.name,
	f.valid_at, f.invalid_at, f.properties, f.fact_embedding, f.created_at
FROM facts f
JOIN entities s ON s.uuid = f.source_uuid
JOIN entities t ON t.uuid = f.target_uuid`

func scanFact(row rowScanner) (*model.EntityEdge, error) {
	var f model.EntityEdge
	var validAt, created, props string
	var invalidAt sql.NullString
	var emb []byte
	if err := row.Scan(&f.UUID, &f.Type, &f.Name, &f.Fact, &f.SourceUUID, &f.TargetUUID, &f.SourceName, &f.TargetName,
		&validAt, &invalidAt, &props, &emb, &created); err != nil {
		return nil, err
	}
	var err error
	if f.ValidAt, err = parseTime(validAt); err != nil {
		return nil, fmt.Errorf("parsing fact %s valid_at: %w", f.UUID, err)
	}
	if invalidAt.Valid {
		t, err := parseTime(invalidAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing fact %s invalid_at: %w", f.UUID, err)
		}
		f.InvalidAt = &t
	}
	if f.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing fact %s created_at: %w", f.UUID, err)
	}
	if f.Properties, err = decodeProps(props); err != nil {
		return nil, fmt.Errorf("decoding fact %s properties: %w", f.UUID, err)
	}
	f.FactEmbedding = decodeVector(emb)
	return &f, nil
}

func (s *sqliteTx) FindLiveFact(ctx context.Context, sourceUUID, targetUUID, relType string) (*model.EntityEdge, error) {
	row := s.q.QueryRowContext(ctx, factSelect+`
WHERE f.source_uuid = ? AND f.target_uuid = ? AND f.type = ? AND f.invalid_at IS NULL`,
		sourceUUID, targetUUID, relType)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kgerr.CodeStoreFactNotFound, "live fact %s-[%s]->%s", sourceUUID, relType, targetUUID)
	}
	if err != nil {
		return nil, classify(err, "finding live fact %s-[%s]->%s", sourceUUID, relType, targetUUID)
	}
	return f, nil
}

func (s *sqliteTx) GetFacts(ctx context.Context, uuids []string) ([]model.EntityEdge, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	rows, err := s.q.QueryContext(ctx,
		factSelect+` WHERE f.uuid IN `+inList, jsonArg(uuids))
	if err != nil {
		return nil, classify(err, "getting facts")
	}
	defer func() { _ = rows.Close() }()

	var out []model.EntityEdge
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, classify(err, "scanning fact")
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterating facts")
	}
	return out, nil
}

func (s *sqliteTx) SaveFact(ctx context.Context, f *model.EntityEdge) error {
	props, err := encodeProps(f.Properties)
	if err != nil {
		return kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "encoding fact %s properties: %w", f.UUID, err)
	}
	var emb []byte
	if v := storableVector(f.FactEmbedding); v != nil {
		if emb, err = sqlite_vec.SerializeFloat32(v); err != nil {
			return kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "serializing fact %s embedding: %w", f.UUID, err)
		}
	}
	var invalidAt any
	if f.InvalidAt != nil {
		invalidAt = formatTime(*f.InvalidAt)
	}

	const q = `INSERT INTO facts (uuid, type, name, fact, source_uuid, target_uuid, valid_at, invalid_at, properties, fact_embedding, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(uuid) DO UPDATE SET
	fact = excluded.fact,
	invalid_at = excluded.invalid_at,
	properties = excluded.properties,
	fact_embedding = excluded.fact_embedding`

	if _, err := s.q.ExecContext(ctx, q, f.UUID, f.Type, f.Name, f.Fact, f.SourceUUID, f.TargetUUID,
		formatTime(f.ValidAt), invalidAt, props, emb, formatTime(f.CreatedAt)); err != nil {
		return classify(err, "saving fact %s-[%s]->%s", f.SourceUUID, f.Type, f.TargetUUID)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM fact_tokens WHERE fact_uuid = ?`, f.UUID); err != nil {
		return classify(err, "clearing fact %s tokens", f.UUID)
	}
	for _, tok := range factTokens(f) {
		if _, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO fact_tokens (token, fact_uuid) VALUES (?, ?)`, tok, f.UUID); err != nil {
			return classify(err, "indexing fact %s", f.UUID)
		}
	}
	return nil
}

func (s *sqliteTx) InvalidateFact(ctx context.Context, uuid string, t time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE facts SET invalid_at = ? WHERE uuid = ? AND invalid_at IS NULL`, formatTime(t), uuid)
	if err != nil {
		return classify(err, "invalidating fact %s", uuid)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "invalidating fact %s", uuid)
	}
	if n == 0 {
		return kgerr.Wrapf(ErrConflict, kgerr.CodeStoreConflict, "fact %s is no longer live", uuid)
	}
	return nil
}

// --- provenance ---

func (s *sqliteTx) LinkEntity(ctx context.Context, episodeUUID, entityUUID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO episode_entities (episode_uuid, entity_uuid) VALUES (?, ?)`, episodeUUID, entityUUID)
	return classify(err, "linking episode %s to entity %s", episodeUUID, entityUUID)
}

func (s *sqliteTx) LinkFact(ctx context.Context, episodeUUID, factUUID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO episode_facts (episode_uuid, fact_uuid) VALUES (?, ?)`, episodeUUID, factUUID)
	return classify(err, "linking episode %s to fact %s", episodeUUID, factUUID)
}

func (s *sqliteTx) DeleteEpisode(ctx context.Context, uuid string) (model.DeleteResult, error) {
	var res model.DeleteResult

	var exists int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM episodes WHERE uuid = ?`, uuid).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return res, nil
	}
	if err != nil {
		return res, classify(err, "looking up episode %s", uuid)
	}

	const soleFacts = `DELETE FROM facts WHERE uuid IN (
	SELECT fact_uuid FROM episode_facts WHERE episode_uuid = ?
	EXCEPT
	SELECT fact_uuid FROM episode_facts WHERE episode_uuid <> ?
)`
	r, err := s.q.ExecContext(ctx, soleFacts, uuid, uuid)
	if err != nil {
		return res, classify(err, "deleting facts of episode %s", uuid)
	}
	n, _ := r.RowsAffected()
	res.RelationshipsDeleted = int(n)

	const soleEntities = `DELETE FROM entities WHERE uuid IN (
	SELECT entity_uuid FROM episode_entities WHERE episode_uuid = ?
	EXCEPT
	SELECT entity_uuid FROM episode_entities WHERE episode_uuid <> ?
) AND NOT EXISTS (
	SELECT 1 FROM facts f WHERE f.source_uuid = entities.uuid OR f.target_uuid = entities.uuid
)`
	r, err = s.q.ExecContext(ctx, soleEntities, uuid, uuid)
	if err != nil {
		return res, classify(err, "deleting entities of episode %s", uuid)
	}
	n, _ = r.RowsAffected()
	res.EntitiesDeleted = int(n)

	if _, err := s.q.ExecContext(ctx, `DELETE FROM episodes WHERE uuid = ?`, uuid); err != nil {
		return res, classify(err, "deleting episode %s", uuid)
	}
	res.Deleted = true
	return res, nil
}

// --- search primitives ---

func (s *sqliteTx) LexicalFacts(ctx context.Context, tokens []string, f FactFilter) ([]string, error) {
	if len(tokens) == 0 || f.Limit <= 0 {
		return nil, nil
	}
	q := `SELECT ft.fact_uuid FROM fact_tokens ft JOIN facts f ON f.uuid = ft.fact_uuid
WHERE ft.token IN ` + inList
	if !f.IncludeHistorical {
		q += ` AND f.invalid_at IS NULL`
	}
	q += ` GROUP BY ft.fact_uuid ORDER BY COUNT(*) DESC, MAX(f.valid_at) DESC LIMIT ?`
	return s.queryIDs(ctx, q, []any{jsonArg(tokens), f.Limit}, "lexical fact search")
}

func (s *sqliteTx) SimilarFacts(ctx context.Context, vector []float32, f FactFilter) ([]string, error) {
	if storableVector(vector) == nil || f.Limit <= 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "serializing query vector: %w", err)
	}
	q := `SELECT uuid FROM facts WHERE fact_embedding IS NOT NULL AND vec_length(fact_embedding) = ?`
	if !f.IncludeHistorical {
		q += ` AND invalid_at IS NULL`
	}
	q += ` ORDER BY vec_distance_cosine(fact_embedding, ?) ASC LIMIT ?`
	return s.queryIDs(ctx, q, []any{len(vector), blob, f.Limit}, "vector fact search")
}

func (s *sqliteTx) FactsTouching(ctx context.Context, entityUUIDs []string, f FactFilter) ([]string, error) {
	if len(entityUUIDs) == 0 || f.Limit <= 0 {
		return nil, nil
	}
	q := `WITH ids(uuid) AS ` + inList + `
SELECT uuid FROM facts WHERE (source_uuid IN ids OR target_uuid IN ids)`
	if !f.IncludeHistorical {
		q += ` AND invalid_at IS NULL`
	}
	q += ` ORDER BY valid_at DESC LIMIT ?`
	return s.queryIDs(ctx, q, []any{jsonArg(entityUUIDs), f.Limit}, "adjacent fact search")
}

func (s *sqliteTx) LexicalEntities(ctx context.Context, tokens []string, limit int) ([]string, error) {
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}
	q := `SELECT entity_uuid FROM entity_tokens WHERE token IN ` + inList + `
GROUP BY entity_uuid ORDER BY COUNT(*) DESC, entity_uuid ASC LIMIT ?`
	return s.queryIDs(ctx, q, []any{jsonArg(tokens), limit}, "lexical entity search")
}

func (s *sqliteTx) SimilarEntities(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]string, error) {
	if storableVector(vector) == nil || limit <= 0 {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, kgerr.Errorf(kgerr.CodeStoreDatabaseFailure, "serializing query vector: %w", err)
	}
	const q = `SELECT uuid, 1 - vec_distance_cosine(name_embedding, ?) AS sim FROM entities
WHERE name_embedding IS NOT NULL AND vec_length(name_embedding) = ?
ORDER BY sim DESC LIMIT ?`
	rows, err := s.q.QueryContext(ctx, q, blob, len(vector), limit)
	if err != nil {
		return nil, classify(err, "vector entity search")
	}
	defer func() { _ = rows.Close() }()

	var items []scoredID
	for rows.Next() {
		var id string
		var sim sql.NullFloat64
		if err := rows.Scan(&id, &sim); err != nil {
			return nil, classify(err, "scanning entity similarity")
		}
		if sim.Valid {
			items = append(items, scoredID{id: id, score: sim.Float64})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterating entity similarity")
	}
	return topByScore(items, minSimilarity, limit), nil
}

func (s *sqliteTx) Neighborhood(ctx context.Context, seeds []string, depth, limit int) (map[string]int, error) {
	return expand(ctx, seeds, depth, limit, func(ctx context.Context, frontier []string) ([]string, error) {
		const q = `WITH ids(uuid) AS ` + inList + `
SELECT target_uuid FROM facts WHERE invalid_at IS NULL AND source_uuid IN ids
UNION
SELECT source_uuid FROM facts WHERE invalid_at IS NULL AND target_uuid IN ids`
		return s.queryIDs(ctx, q, []any{jsonArg(frontier)}, "expanding neighborhood")
	})
}

func (s *sqliteTx) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	const q = `SELECT
	(SELECT COUNT(*) FROM episodes),
	(SELECT COUNT(*) FROM entities),
	(SELECT COUNT(*) FROM facts),
	(SELECT COUNT(*) FROM facts WHERE invalid_at IS NULL)`
	err := s.q.QueryRowContext(ctx, q).Scan(&st.EpisodesCount, &st.EntitiesCount, &st.RelationshipsCount, &st.LiveRelationshipsCount)
	return st, classify(err, "reading stats")
}

func (s *sqliteTx) queryIDs(ctx context.Context, q string, args []any, what string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, "%s", what)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err, "scanning %s", what)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterating %s", what)
	}
	return out, nil
}

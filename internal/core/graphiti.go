package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/dedupe"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/extraction"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/resolver"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/search"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/versioner"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/keylock"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/llm"
)

const (
	DefaultEpisodeType = "text"

	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// Graphiti is the knowledge-graph service: it turns episodes into entities
// and versioned facts, and answers ranked fact queries.
type Graphiti struct {
	Driver    driver.GraphDriver
	LLM       llm.LLMClient
	Embedder  llm.EmbedderClient
	Extractor *extraction.Extractor
	Guard     *dedupe.Guard
	Resolver  *resolver.Resolver
	Versioner *versioner.Versioner
	Ranker    *search.Ranker
	Locks     *keylock.Table
	Config    *config.Config

	UUIDGenerator func() string
	Now           func() time.Time

	log *zap.Logger
}

// NewGraphiti wires the pipeline. llmClient may be nil when only explicit
// graphs are committed; embedder may be nil to run without vectors.
func NewGraphiti(d driver.GraphDriver, llmClient llm.LLMClient, embedder llm.EmbedderClient, cfg *config.Config, log *zap.Logger) *Graphiti {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}

	g := &Graphiti{
		Driver:        d,
		LLM:           llmClient,
		Embedder:      embedder,
		Guard:         dedupe.NewGuard(cfg.Ingest.CaseInsensitiveNames),
		Resolver:      resolver.New(cfg.Ingest.MergePolicy, log.Named("resolver")),
		Versioner:     versioner.New(log.Named("versioner")),
		Ranker:        search.NewRanker(cfg.Search, embedder, log.Named("search")),
		Locks:         keylock.New(cfg.Concurrency.LockShards),
		Config:        cfg,
		UUIDGenerator: uuid.NewString,
		Now:           func() time.Time { return time.Now().UTC() },
		log:           log.Named("committer"),
	}
	if llmClient != nil {
		g.Extractor = extraction.NewExtractor(llmClient, cfg.Extraction.Prompt, cfg.Extraction.MinConfidence, log.Named("extraction"))
	}
	// tests swap UUIDGenerator after construction
	g.Resolver.NewUUID = func() string { return g.UUIDGenerator() }
	g.Versioner.NewUUID = func() string { return g.UUIDGenerator() }
	return g
}

func (g *Graphiti) BuildIndices(ctx context.Context) error {
	return g.Driver.BuildIndices(ctx)
}

type IngestInput struct {
	Name              string `json:"name"`
	Body              string `json:"body"`
	SourceDescription string `json:"source_description"`
	EpisodeType       string `json:"episode_type,omitempty"`
	Override          bool   `json:"override,omitempty"`
}

// IngestEpisode extracts a graph from the episode body and commits it. A
// name already in the graph is reported before the model is called.
func (g *Graphiti) IngestEpisode(ctx context.Context, in IngestInput) (*CommitResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, kgerr.New(kgerr.CodeValidationInvalid, "name is required", kgerr.Field("field", "name"))
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, kgerr.New(kgerr.CodeValidationInvalid, "body is required", kgerr.Field("field", "body"))
	}
	if g.Extractor == nil {
		return nil, kgerr.New(kgerr.CodeExtractionUpstream, "no language model is configured for extraction")
	}

	if !in.Override {
		if res, err := g.preflight(ctx, name); err != nil || res != nil {
			return res, err
		}
	}

	cg, err := g.Extractor.Extract(ctx, in.Body, extraction.Hints{
		SourceDescription: in.SourceDescription,
		EpisodeName:       name,
	})
	if err != nil {
		return nil, err
	}

	episodeType := in.EpisodeType
	if episodeType == "" {
		episodeType = DefaultEpisodeType
	}
	return g.Commit(ctx, &model.Episode{
		Name:              name,
		Body:              in.Body,
		SourceDescription: in.SourceDescription,
		EpisodeType:       episodeType,
	}, cg, in.Override)
}

// preflight reports a duplicate without taking locks. The commit repeats
// the check inside its write unit.
func (g *Graphiti) preflight(ctx context.Context, name string) (*CommitResult, error) {
	var d dedupe.Decision
	err := g.Driver.View(ctx, func(tx driver.ReadTx) error {
		var err error
		d, err = g.Guard.Check(ctx, tx, name, "", false)
		return err
	})
	if err != nil || !d.Duplicate {
		return nil, err
	}
	g.log.Info("duplicate episode", zap.String("name", name), zap.String("existing", d.ExistingUUID))
	return &CommitResult{
		Status:      StatusDuplicate,
		EpisodeUUID: d.ExistingUUID,
		EpisodeName: name,
		Timestamp:   g.Now(),
	}, nil
}

func (g *Graphiti) Search(ctx context.Context, q search.Query) ([]model.RankedFact, error) {
	var out []model.RankedFact
	err := g.Driver.View(ctx, func(tx driver.ReadTx) error {
		var err error
		out, err = g.Ranker.Search(ctx, tx, q)
		return err
	})
	return out, err
}

// DeleteEpisode removes an episode and whatever only it contributed. An
// unknown uuid is reported as not deleted.
func (g *Graphiti) DeleteEpisode(ctx context.Context, episodeUUID string) (model.DeleteResult, error) {
	var res model.DeleteResult
	err := g.update(ctx, "delete", func(tx driver.Tx) error {
		var err error
		res, err = tx.DeleteEpisode(ctx, episodeUUID)
		return err
	})
	if err != nil {
		return model.DeleteResult{}, err
	}
	if res.Deleted {
		g.log.Info("deleted episode",
			zap.String("uuid", episodeUUID),
			zap.Int("entities_deleted", res.EntitiesDeleted),
			zap.Int("relationships_deleted", res.RelationshipsDeleted))
	}
	return res, nil
}

func (g *Graphiti) GetStats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	err := g.Driver.View(ctx, func(tx driver.ReadTx) error {
		var err error
		stats, err = tx.Stats(ctx)
		return err
	})
	return stats, err
}

// ListEpisodes returns the newest episodes first. limit is clamped to
// [1, MaxListLimit]; zero or less means DefaultListLimit.
func (g *Graphiti) ListEpisodes(ctx context.Context, limit int) ([]model.Episode, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	var episodes []model.Episode
	err := g.Driver.View(ctx, func(tx driver.ReadTx) error {
		var err error
		episodes, err = tx.ListEpisodes(ctx, limit)
		return err
	})
	return episodes, err
}

func (g *Graphiti) GetEpisode(ctx context.Context, episodeUUID string) (*model.EpisodeDetail, error) {
	var detail *model.EpisodeDetail
	err := g.Driver.View(ctx, func(tx driver.ReadTx) error {
		var err error
		detail, err = tx.GetEpisode(ctx, episodeUUID)
		return err
	})
	return detail, err
}

func (g *Graphiti) Close(ctx context.Context) error {
	return g.Driver.Close(ctx)
}

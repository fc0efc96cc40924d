package core

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/resolver"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/versioner"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

const (
	StatusSuccess   = "success"
	StatusDuplicate = "duplicate"
)

// CommitResult summarizes one episode commit.
type CommitResult struct {
	Status      string `json:"status"`
	EpisodeUUID string `json:"episode_uuid"`
	EpisodeName string `json:"episode_name"`

	EntitiesExtracted int `json:"entities_extracted"`
	EntitiesCreated   int `json:"entities_created"`
	EntitiesMerged    int `json:"entities_merged"`

	RelationsExtracted  int `json:"relations_extracted"`
	RelationsCreated    int `json:"relations_created"`
	RelationsReinforced int `json:"relations_reinforced"`
	RelationsSuperseded int `json:"relations_superseded"`
	RelationsDropped    int `json:"relations_dropped"`

	Timestamp time.Time `json:"timestamp"`
}

// Commit writes an episode and its candidate graph as one unit. A name that
// is already taken (and no override) yields StatusDuplicate and writes
// nothing. Any failure leaves the graph as it was.
func (g *Graphiti) Commit(ctx context.Context, ep *model.Episode, cg model.CandidateGraph, override bool) (*CommitResult, error) {
	if strings.TrimSpace(ep.Name) == "" {
		return nil, kgerr.New(kgerr.CodeValidationInvalid, "episode name is required")
	}
	if ep.UUID == "" {
		ep.UUID = g.UUIDGenerator()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = g.Now()
	}
	cg.Entities = slices.Clone(cg.Entities)
	cg.Relations = slices.Clone(cg.Relations)
	for i := range cg.Entities {
		if cg.Entities[i].Ref == "" {
			cg.Entities[i].Ref = common.NormalizeName(cg.Entities[i].Name)
		}
	}

	// embeddings are fetched before any lock is taken
	if err := g.embedCandidates(ctx, &cg); err != nil {
		return nil, err
	}

	release, err := g.Locks.Lock(ctx, g.lockKeys(ep, cg)...)
	if err != nil {
		return nil, kgerr.Wrap(err, kgerr.CodeCommitTransient, "timed out waiting for commit locks",
			kgerr.Field("episode", ep.Name))
	}
	defer release()

	var res *CommitResult
	err = g.update(ctx, "commit", func(tx driver.Tx) error {
		// the driver may run this more than once; start from zero each time
		res = &CommitResult{
			Status:             StatusSuccess,
			EpisodeUUID:        ep.UUID,
			EpisodeName:        ep.Name,
			EntitiesExtracted:  len(cg.Entities),
			RelationsExtracted: len(cg.Relations),
		}
		return g.write(ctx, tx, ep, cg, override, res)
	})
	if err != nil {
		return nil, err
	}
	res.Timestamp = g.Now()

	if res.Status == StatusDuplicate {
		g.log.Info("duplicate episode", zap.String("name", ep.Name), zap.String("existing", res.EpisodeUUID))
		return res, nil
	}
	g.log.Info("committed episode",
		zap.String("uuid", res.EpisodeUUID),
		zap.String("name", res.EpisodeName),
		zap.Int("entities_created", res.EntitiesCreated),
		zap.Int("entities_merged", res.EntitiesMerged),
		zap.Int("relations_created", res.RelationsCreated),
		zap.Int("relations_reinforced", res.RelationsReinforced),
		zap.Int("relations_superseded", res.RelationsSuperseded),
		zap.Int("relations_dropped", res.RelationsDropped))
	return res, nil
}

func (g *Graphiti) write(ctx context.Context, tx driver.Tx, ep *model.Episode, cg model.CandidateGraph, override bool, res *CommitResult) error {
	d, err := g.Guard.Check(ctx, tx, ep.Name, ep.UUID, override)
	if err != nil {
		return err
	}
	if d.Duplicate {
		res.Status = StatusDuplicate
		res.EpisodeUUID = d.ExistingUUID
		return nil
	}
	ep.NameKey, ep.DedupKey = d.NameKey, d.DedupKey
	if err := tx.CreateEpisode(ctx, ep); err != nil {
		return err
	}

	index := make(versioner.EntityIndex, len(cg.Entities))
	for _, cand := range cg.Entities {
		r, err := g.Resolver.Resolve(ctx, tx, cand, ep)
		if err != nil {
			return err
		}
		if r.Created {
			res.EntitiesCreated++
		} else {
			res.EntitiesMerged++
		}
		index[cand.Ref] = r.Entity
	}

	for _, rel := range cg.Relations {
		out, err := g.Versioner.Apply(ctx, tx, rel, index, ep)
		if errors.Is(err, versioner.ErrUnresolvedReference) {
			g.log.Warn("dropping relation", zap.String("episode", ep.Name), zap.Error(err))
			res.RelationsDropped++
			continue
		}
		if err != nil {
			return err
		}
		switch out.Kind {
		case versioner.KindCreated:
			res.RelationsCreated++
		case versioner.KindReinforced:
			res.RelationsReinforced++
		case versioner.KindSuperseded:
			res.RelationsSuperseded++
		}
	}
	return nil
}

// update runs fn in a write unit, retrying storage conflicts with
// exponential backoff. Exhausted retries and an ended context both surface
// as transient failures.
func (g *Graphiti) update(ctx context.Context, op string, fn func(tx driver.Tx) error) error {
	retries := g.Config.Ingest.ConflictRetries
	if retries < 1 {
		retries = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(g.Config.Ingest.RetryBackoffMS) * time.Millisecond
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := g.Driver.Update(ctx, fn)
		if err == nil || errors.Is(err, driver.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		g.log.Debug("write conflict, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return kgerr.Wrap(ctx.Err(), kgerr.CodeCommitTransient, op+" interrupted", kgerr.Field("attempts", attempt))
	case errors.Is(err, driver.ErrConflict):
		return kgerr.Reclassify(err, kgerr.CodeCommitTransient, "%s gave up after %d attempts", op, attempt)
	}
	return err
}

// lockKeys names everything a commit may write: the episode name, each
// entity identity and each relation key.
func (g *Graphiti) lockKeys(ep *model.Episode, cg model.CandidateGraph) []string {
	keys := []string{"episode:" + g.Guard.Key(ep.Name)}
	byRef := make(map[string]string, len(cg.Entities))
	for _, e := range cg.Entities {
		k := resolver.LockKey(e.Label, e.Name)
		byRef[e.Ref] = k
		keys = append(keys, k)
	}
	for _, r := range cg.Relations {
		src, okSrc := byRef[r.Source]
		tgt, okTgt := byRef[r.Target]
		if okSrc && okTgt {
			keys = append(keys, versioner.LockKey(src, tgt, r.Type))
		}
	}
	sort.Strings(keys)
	return keys
}

// embedCandidates fills entity name and fact embeddings concurrently. A
// failing embedder leaves vectors empty; only a done context aborts.
func (g *Graphiti) embedCandidates(ctx context.Context, cg *model.CandidateGraph) error {
	if g.Embedder == nil {
		return nil
	}
	names := make(map[string]string, len(cg.Entities))
	for _, e := range cg.Entities {
		names[e.Ref] = e.Name
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.Config.Concurrency.Embed)
	for i := range cg.Entities {
		e := &cg.Entities[i]
		eg.Go(func() error {
			vec, err := g.embed(egCtx, e.Name)
			e.Embedding = vec
			return err
		})
	}
	for i := range cg.Relations {
		r := &cg.Relations[i]
		text := r.FactText
		if text == "" {
			text = names[r.Source] + " " + common.RelationType(r.Type) + " " + names[r.Target]
		}
		eg.Go(func() error {
			vec, err := g.embed(egCtx, text)
			r.Embedding = vec
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return kgerr.Wrap(err, kgerr.CodeCommitTransient, "embedding interrupted")
	}
	return nil
}

func (g *Graphiti) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.Embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Warn("embedding failed, storing without vector", zap.Int("text_len", len(text)), zap.Error(err))
		return nil, nil
	}
	if common.IsZeroVector(vec) {
		return nil, nil
	}
	return vec, nil
}

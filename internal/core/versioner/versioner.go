package versioner

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

// ErrUnresolvedReference is returned when a relation names an entity that is
// not part of the commit's resolved entity set.
var ErrUnresolvedReference = errors.New("unresolved relation reference")

type Kind string

const (
	KindCreated    Kind = "created"
	KindReinforced Kind = "reinforced"
	KindSuperseded Kind = "superseded"
)

type Outcome struct {
	UUID string
	Kind Kind
	// Superseded is the uuid of the fact closed by this one, if any.
	Superseded string
}

// EntityIndex maps candidate refs to the entities they resolved to.
type EntityIndex map[string]model.EntityNode

// Versioner keeps one live fact per (source, target, type) and a history of
// the facts it replaced.
type Versioner struct {
	NewUUID func() string
	log     *zap.Logger
}

func New(log *zap.Logger) *Versioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Versioner{NewUUID: uuid.NewString, log: log}
}

// LockKey is the keyed-lock name for a relation key. Endpoints are given as
// entity lock keys so the lock can be taken before the entities exist.
func LockKey(sourceKey, targetKey, relType string) string {
	return "relation:" + sourceKey + "\x1e" + targetKey + "\x1e" + common.RelationType(relType)
}

// Apply writes rel at the episode's time. Text that normalizes equal to the
// live fact reinforces it; different text closes the live fact and inserts a
// new one.
func (v *Versioner) Apply(ctx context.Context, tx driver.Tx, rel model.CandidateRelation, index EntityIndex, episode *model.Episode) (Outcome, error) {
	src, ok := index[rel.Source]
	if !ok {
		return Outcome{}, unresolved(rel, rel.Source)
	}
	tgt, ok := index[rel.Target]
	if !ok {
		return Outcome{}, unresolved(rel, rel.Target)
	}

	relType := common.RelationType(rel.Type)
	text := rel.FactText
	if text == "" {
		text = fmt.Sprintf("%s %s %s", src.Name, relType, tgt.Name)
	}
	at := episode.CreatedAt

	live, err := tx.FindLiveFact(ctx, src.UUID, tgt.UUID, relType)
	switch {
	case errors.Is(err, driver.ErrNotFound):
		live = nil
	case err != nil:
		return Outcome{}, err
	}

	if live != nil && common.NormalizeFact(live.Fact) == common.NormalizeFact(text) {
		if fillMissing(live, rel) {
			if err := tx.SaveFact(ctx, live); err != nil {
				return Outcome{}, err
			}
		}
		if err := tx.LinkFact(ctx, episode.UUID, live.UUID); err != nil {
			return Outcome{}, err
		}
		return Outcome{UUID: live.UUID, Kind: KindReinforced}, nil
	}

	out := Outcome{Kind: KindCreated}
	if live != nil {
		// never open a window that ends before it starts
		if at.Before(live.ValidAt) {
			v.log.Warn("episode predates live fact, clamping valid_at",
				zap.String("fact", live.UUID), zap.Time("episode_time", at), zap.Time("valid_at", live.ValidAt))
			at = live.ValidAt
		}
		if err := tx.InvalidateFact(ctx, live.UUID, at); err != nil {
			return Outcome{}, err
		}
		out.Kind = KindSuperseded
		out.Superseded = live.UUID
	}

	fact := &model.EntityEdge{
		UUID:          v.NewUUID(),
		Type:          relType,
		Name:          relType,
		Fact:          text,
		SourceUUID:    src.UUID,
		TargetUUID:    tgt.UUID,
		SourceName:    src.Name,
		TargetName:    tgt.Name,
		ValidAt:       at,
		CreatedAt:     episode.CreatedAt,
		Properties:    maps.Clone(rel.Properties),
		FactEmbedding: rel.Embedding,
	}
	if err := tx.SaveFact(ctx, fact); err != nil {
		return Outcome{}, err
	}
	if err := tx.LinkFact(ctx, episode.UUID, fact.UUID); err != nil {
		return Outcome{}, err
	}
	out.UUID = fact.UUID
	return out, nil
}

// fillMissing copies properties and the embedding the live fact lacks.
// Existing values are never overwritten by a reinforcement.
func fillMissing(live *model.EntityEdge, rel model.CandidateRelation) bool {
	changed := false
	for k, val := range rel.Properties {
		if _, ok := live.Properties[k]; ok {
			continue
		}
		if live.Properties == nil {
			live.Properties = make(map[string]any, len(rel.Properties))
		}
		live.Properties[k] = val
		changed = true
	}
	if len(live.FactEmbedding) == 0 && len(rel.Embedding) > 0 {
		live.FactEmbedding = rel.Embedding
		changed = true
	}
	return changed
}

func unresolved(rel model.CandidateRelation, ref string) error {
	return kgerr.Wrap(ErrUnresolvedReference, kgerr.CodeUnresolvedReference,
		fmt.Sprintf("relation %s -[%s]-> %s: entity %q not in candidate set", rel.Source, rel.Type, rel.Target, ref),
		kgerr.Field("ref", ref))
}

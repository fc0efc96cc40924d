package resolver

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

// Resolver maps candidate entities onto graph entities by (label, normalized
// name), creating the entity when the key is new.
type Resolver struct {
	Policy  string
	NewUUID func() string
	log     *zap.Logger
}

func New(policy string, log *zap.Logger) *Resolver {
	if policy == "" {
		policy = config.MergeAppend
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{Policy: policy, NewUUID: uuid.NewString, log: log}
}

type Resolution struct {
	Entity  model.EntityNode
	Created bool
}

// Key returns the identity of a candidate: its label (defaulted) and
// normalized name.
func Key(label, name string) (string, string) {
	if strings.TrimSpace(label) == "" {
		label = model.DefaultEntityLabel
	}
	return label, common.NormalizeName(name)
}

// LockKey is the keyed-lock name for an entity identity.
func LockKey(label, name string) string {
	l, n := Key(label, name)
	return "entity:" + l + "\x1f" + n
}

// Resolve finds or creates the entity for cand and links it to the episode.
// Reads inside tx observe earlier writes of the same unit, so resolving the
// same key twice in one commit returns the same entity.
func (r *Resolver) Resolve(ctx context.Context, tx driver.Tx, cand model.CandidateEntity, episode *model.Episode) (*Resolution, error) {
	label, norm := Key(cand.Label, cand.Name)
	if norm == "" {
		return nil, kgerr.New(kgerr.CodeValidationInvalid, "entity name is required")
	}

	existing, err := tx.FindEntityByKey(ctx, label, norm)
	switch {
	case errors.Is(err, driver.ErrNotFound):
		return r.create(ctx, tx, cand, label, norm, episode)
	case err != nil:
		return nil, err
	}

	merged, changed := r.merge(*existing, cand)
	if changed {
		merged.UpdatedAt = laterOf(existing.UpdatedAt, episode.CreatedAt)
		if err := tx.SaveEntity(ctx, &merged); err != nil {
			return nil, err
		}
		r.log.Debug("merged entity",
			zap.String("uuid", merged.UUID), zap.String("label", label), zap.String("name", merged.Name))
	}
	if err := tx.LinkEntity(ctx, episode.UUID, merged.UUID); err != nil {
		return nil, err
	}
	return &Resolution{Entity: merged}, nil
}

func (r *Resolver) create(ctx context.Context, tx driver.Tx, cand model.CandidateEntity, label, norm string, episode *model.Episode) (*Resolution, error) {
	e := model.EntityNode{
		UUID:          r.NewUUID(),
		Label:         label,
		Name:          strings.Join(strings.Fields(cand.Name), " "),
		NormName:      norm,
		Summary:       strings.TrimSpace(cand.Summary),
		Properties:    maps.Clone(cand.Attributes),
		NameEmbedding: cand.Embedding,
		CreatedAt:     episode.CreatedAt,
		UpdatedAt:     episode.CreatedAt,
	}
	if err := tx.SaveEntity(ctx, &e); err != nil {
		return nil, err
	}
	if err := tx.LinkEntity(ctx, episode.UUID, e.UUID); err != nil {
		return nil, err
	}
	return &Resolution{Entity: e, Created: true}, nil
}

// merge folds cand into e. Attributes are unioned with the incoming value
// winning on conflict; the summary follows the merge policy.
func (r *Resolver) merge(e model.EntityNode, cand model.CandidateEntity) (model.EntityNode, bool) {
	changed := false

	if len(cand.Attributes) > 0 {
		props := maps.Clone(e.Properties)
		if props == nil {
			props = make(map[string]any, len(cand.Attributes))
		}
		for k, v := range cand.Attributes {
			if old, ok := props[k]; !ok || old != v {
				props[k] = v
				changed = true
			}
		}
		e.Properties = props
	}

	if s := MergeSummary(r.Policy, e.Summary, cand.Summary); s != e.Summary {
		e.Summary = s
		changed = true
	}

	if len(e.NameEmbedding) == 0 && len(cand.Embedding) > 0 {
		e.NameEmbedding = cand.Embedding
		changed = true
	}
	return e, changed
}

// MergeSummary combines an existing and an incoming summary.
//
//	append:  existing + " " + incoming, unless incoming is already contained
//	replace: incoming, when non-empty
//	longest: the longer text; a tie keeps existing
func MergeSummary(policy, existing, incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return existing
	}
	if existing == "" {
		return incoming
	}
	switch policy {
	case config.MergeReplace:
		return incoming
	case config.MergeLongest:
		if utf8.RuneCountInString(incoming) > utf8.RuneCountInString(existing) {
			return incoming
		}
		return existing
	default:
		if strings.Contains(existing, incoming) {
			return existing
		}
		return existing + " " + incoming
	}
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

package dedupe

import (
	"context"
	"errors"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/common"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
)

// Guard decides whether an episode name is already taken.
//
// Check is only linearizable when it runs inside the same write unit that
// creates the episode, under the committer's per-name lock. The UNIQUE
// dedup_key constraint catches writers that bypass the lock (another process
// on the same database); the committer retries those as conflicts.
type Guard struct {
	CaseInsensitive bool
}

func NewGuard(caseInsensitive bool) *Guard {
	return &Guard{CaseInsensitive: caseInsensitive}
}

type Decision struct {
	Duplicate    bool
	ExistingUUID string
	// NameKey and DedupKey are what the new episode should be stored with.
	NameKey  string
	DedupKey string
}

// Key is the comparison form of an episode name.
func (g *Guard) Key(name string) string {
	if g.CaseInsensitive {
		return common.Fold(name)
	}
	return name
}

// Check looks up name and decides how episodeUUID may be stored. The first
// episode of a name owns the bare key; with override set, later ones get the
// key suffixed by their own uuid so the constraint still holds.
func (g *Guard) Check(ctx context.Context, tx driver.ReadTx, name, episodeUUID string, override bool) (Decision, error) {
	key := g.Key(name)
	d := Decision{NameKey: key, DedupKey: key}

	existing, err := tx.FindEpisodeByNameKey(ctx, key)
	if errors.Is(err, driver.ErrNotFound) {
		return d, nil
	}
	if err != nil {
		return Decision{}, err
	}

	if !override {
		d.Duplicate = true
		d.ExistingUUID = existing.UUID
		return d, nil
	}
	d.DedupKey = key + "#" + episodeUUID
	return d, nil
}

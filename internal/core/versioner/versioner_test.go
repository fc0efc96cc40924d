package versioner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

var base = time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)

type fixture struct {
	d     *driver.SQLiteDriver
	v     *Versioner
	index EntityIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := driver.NewSQLiteDriver(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	index := EntityIndex{
		"machine x": {UUID: "m-1", Label: "Machine", Name: "Machine X", NormName: "machine x", CreatedAt: base, UpdatedAt: base},
		"line 5":    {UUID: "l-5", Label: "Line", Name: "Line 5", NormName: "line 5", CreatedAt: base, UpdatedAt: base},
	}
	require.NoError(t, d.Update(context.Background(), func(tx driver.Tx) error {
		for _, e := range index {
			e := e
			if err := tx.SaveEntity(context.Background(), &e); err != nil {
				return err
			}
		}
		return nil
	}))

	n := 0
	v := New(nil)
	v.NewUUID = func() string {
		n++
		return fmt.Sprintf("fact-%d", n)
	}
	return &fixture{d: d, v: v, index: index}
}

func (f *fixture) episode(t *testing.T, name string, at time.Time) *model.Episode {
	t.Helper()
	ep := &model.Episode{UUID: "ep-" + name, Name: name, NameKey: name, DedupKey: name, Body: "b", CreatedAt: at}
	require.NoError(t, f.d.Update(context.Background(), func(tx driver.Tx) error {
		return tx.CreateEpisode(context.Background(), ep)
	}))
	return ep
}

func (f *fixture) apply(t *testing.T, rel model.CandidateRelation, ep *model.Episode) Outcome {
	t.Helper()
	var out Outcome
	require.NoError(t, f.d.Update(context.Background(), func(tx driver.Tx) error {
		var err error
		out, err = f.v.Apply(context.Background(), tx, rel, f.index, ep)
		return err
	}))
	return out
}

func (f *fixture) facts(t *testing.T, uuids ...string) map[string]model.EntityEdge {
	t.Helper()
	out := map[string]model.EntityEdge{}
	require.NoError(t, f.d.View(context.Background(), func(tx driver.ReadTx) error {
		facts, err := tx.GetFacts(context.Background(), uuids)
		for _, fact := range facts {
			out[fact.UUID] = fact
		}
		return err
	}))
	return out
}

func installed(text string) model.CandidateRelation {
	return model.CandidateRelation{Source: "machine x", Target: "line 5", Type: "installed in", FactText: text}
}

func TestApply_CreateReinforceSupersede(t *testing.T) {
	f := newFixture(t)
	ep1 := f.episode(t, "one", base)
	ep2 := f.episode(t, "two", base.Add(time.Hour))
	ep3 := f.episode(t, "three", base.Add(2*time.Hour))

	created := f.apply(t, installed("Machine X is installed in Line 5."), ep1)
	assert.Equal(t, Outcome{UUID: "fact-1", Kind: KindCreated}, created)

	reinforced := f.apply(t, installed("machine x is installed in   line 5"), ep2)
	assert.Equal(t, Outcome{UUID: "fact-1", Kind: KindReinforced}, reinforced)

	superseded := f.apply(t, installed("Machine X was moved off Line 5 for repair"), ep3)
	assert.Equal(t, Outcome{UUID: "fact-2", Kind: KindSuperseded, Superseded: "fact-1"}, superseded)

	facts := f.facts(t, "fact-1", "fact-2")
	old, cur := facts["fact-1"], facts["fact-2"]
	require.NotNil(t, old.InvalidAt)
	assert.True(t, old.InvalidAt.Equal(cur.ValidAt))
	assert.True(t, cur.ValidAt.Equal(ep3.CreatedAt))
	assert.Nil(t, cur.InvalidAt)
	assert.Equal(t, "INSTALLED_IN", cur.Type)

	require.NoError(t, f.d.View(context.Background(), func(tx driver.ReadTx) error {
		d1, err := tx.GetEpisode(context.Background(), ep2.UUID)
		require.NoError(t, err)
		assert.Equal(t, 1, d1.FactCount)

		st, err := tx.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.LiveRelationshipsCount)
		return nil
	}))
}

func TestApply_ClampsClockSkew(t *testing.T) {
	f := newFixture(t)
	late := f.episode(t, "late", base.Add(time.Hour))
	early := f.episode(t, "early", base)

	f.apply(t, installed("Machine X is installed in Line 5"), late)
	out := f.apply(t, installed("Machine X left Line 5"), early)
	require.Equal(t, KindSuperseded, out.Kind)

	facts := f.facts(t, "fact-1", "fact-2")
	assert.True(t, facts["fact-2"].ValidAt.Equal(late.CreatedAt))
	assert.True(t, facts["fact-1"].InvalidAt.Equal(late.CreatedAt))
}

func TestApply_ReinforceFillsMissingOnly(t *testing.T) {
	f := newFixture(t)
	ep1 := f.episode(t, "one", base)
	ep2 := f.episode(t, "two", base.Add(time.Hour))

	rel := installed("Machine X is installed in Line 5")
	rel.Properties = map[string]any{"since": "2021"}
	f.apply(t, rel, ep1)

	rel.Properties = map[string]any{"since": "2019", "bay": "7"}
	rel.Embedding = []float32{0, 1}
	f.apply(t, rel, ep2)

	got := f.facts(t, "fact-1")["fact-1"]
	assert.Equal(t, map[string]any{"since": "2021", "bay": "7"}, got.Properties)
	assert.Equal(t, []float32{0, 1}, got.FactEmbedding)
}

func TestApply_DefaultFactText(t *testing.T) {
	f := newFixture(t)
	ep := f.episode(t, "one", base)

	f.apply(t, model.CandidateRelation{Source: "machine x", Target: "line 5", Type: "feeds"}, ep)
	got := f.facts(t, "fact-1")["fact-1"]
	assert.Equal(t, "Machine X FEEDS Line 5", got.Fact)
}

func TestApply_UnresolvedReference(t *testing.T) {
	f := newFixture(t)
	ep := f.episode(t, "one", base)

	err := f.d.Update(context.Background(), func(tx driver.Tx) error {
		_, err := f.v.Apply(context.Background(), tx,
			model.CandidateRelation{Source: "machine x", Target: "ghost", Type: "FEEDS"}, f.index, ep)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedReference))
	assert.Equal(t, kgerr.CodeUnresolvedReference, kgerr.CodeOf(err))
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, LockKey("a", "b", "installed in"), LockKey("a", "b", "INSTALLED_IN"))
	assert.NotEqual(t, LockKey("a", "b", "X"), LockKey("b", "a", "X"))
}

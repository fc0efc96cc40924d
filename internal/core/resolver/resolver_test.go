package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
)

func setup(t *testing.T) (*driver.SQLiteDriver, []*model.Episode) {
	t.Helper()
	d, err := driver.NewSQLiteDriver(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	base := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	var eps []*model.Episode
	require.NoError(t, d.Update(context.Background(), func(tx driver.Tx) error {
		for i := 0; i < 2; i++ {
			name := fmt.Sprintf("ep-%d", i+1)
			ep := &model.Episode{UUID: name, Name: name, NameKey: name, DedupKey: name, Body: "b", CreatedAt: base.Add(time.Duration(i) * time.Hour)}
			if err := tx.CreateEpisode(context.Background(), ep); err != nil {
				return err
			}
			eps = append(eps, ep)
		}
		return nil
	}))
	return d, eps
}

func sequentialUUIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ent-%d", n)
	}
}

func resolve(t *testing.T, d driver.GraphDriver, r *Resolver, cand model.CandidateEntity, ep *model.Episode) *Resolution {
	t.Helper()
	var res *Resolution
	require.NoError(t, d.Update(context.Background(), func(tx driver.Tx) error {
		var err error
		res, err = r.Resolve(context.Background(), tx, cand, ep)
		return err
	}))
	return res
}

func TestResolve_CreatesThenMerges(t *testing.T) {
	d, eps := setup(t)
	r := New(config.MergeAppend, nil)
	r.NewUUID = sequentialUUIDs()

	first := resolve(t, d, r, model.CandidateEntity{
		Label: "Machine", Name: "Machine  X", Summary: "CNC mill.",
		Attributes: map[string]any{"vendor": "ACME", "bay": "3"},
	}, eps[0])
	assert.True(t, first.Created)
	assert.Equal(t, "ent-1", first.Entity.UUID)
	assert.Equal(t, "Machine X", first.Entity.Name)
	assert.Equal(t, "machine x", first.Entity.NormName)

	second := resolve(t, d, r, model.CandidateEntity{
		Label: "Machine", Name: " machine x ", Summary: "Installed on Line 5.",
		Attributes: map[string]any{"bay": "4", "status": "running"},
	}, eps[1])
	assert.False(t, second.Created)
	assert.Equal(t, "ent-1", second.Entity.UUID)
	assert.Equal(t, "CNC mill. Installed on Line 5.", second.Entity.Summary)
	assert.Equal(t, map[string]any{"vendor": "ACME", "bay": "4", "status": "running"}, second.Entity.Properties)
	assert.True(t, second.Entity.UpdatedAt.Equal(eps[1].CreatedAt))

	require.NoError(t, d.View(context.Background(), func(tx driver.ReadTx) error {
		st, err := tx.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.EntitiesCount)

		for _, ep := range eps {
			detail, err := tx.GetEpisode(context.Background(), ep.UUID)
			require.NoError(t, err)
			assert.Equal(t, 1, detail.EntityCount, ep.UUID)
		}
		return nil
	}))
}

func TestResolve_SameKeyTwiceInOneUnit(t *testing.T) {
	d, eps := setup(t)
	r := New(config.MergeAppend, nil)
	r.NewUUID = sequentialUUIDs()

	require.NoError(t, d.Update(context.Background(), func(tx driver.Tx) error {
		a, err := r.Resolve(context.Background(), tx, model.CandidateEntity{Label: "Line", Name: "Line 5"}, eps[0])
		require.NoError(t, err)
		b, err := r.Resolve(context.Background(), tx, model.CandidateEntity{Label: "Line", Name: "LINE 5"}, eps[0])
		require.NoError(t, err)
		assert.True(t, a.Created)
		assert.False(t, b.Created)
		assert.Equal(t, a.Entity.UUID, b.Entity.UUID)
		return nil
	}))
}

func TestResolve_LabelsSeparateIdentities(t *testing.T) {
	d, eps := setup(t)
	r := New(config.MergeAppend, nil)
	r.NewUUID = sequentialUUIDs()

	a := resolve(t, d, r, model.CandidateEntity{Label: "Machine", Name: "Press"}, eps[0])
	b := resolve(t, d, r, model.CandidateEntity{Label: "Process", Name: "Press"}, eps[0])
	c := resolve(t, d, r, model.CandidateEntity{Name: "Press"}, eps[0])
	assert.NotEqual(t, a.Entity.UUID, b.Entity.UUID)
	assert.Equal(t, model.DefaultEntityLabel, c.Entity.Label)
	assert.True(t, c.Created)
}

func TestResolve_FillsMissingEmbedding(t *testing.T) {
	d, eps := setup(t)
	r := New(config.MergeAppend, nil)

	resolve(t, d, r, model.CandidateEntity{Label: "Line", Name: "Line 5"}, eps[0])
	got := resolve(t, d, r, model.CandidateEntity{Label: "Line", Name: "Line 5", Embedding: []float32{0.5, 0.5}}, eps[1])
	assert.Equal(t, []float32{0.5, 0.5}, got.Entity.NameEmbedding)

	kept := resolve(t, d, r, model.CandidateEntity{Label: "Line", Name: "Line 5", Embedding: []float32{1, 0}}, eps[1])
	assert.Equal(t, []float32{0.5, 0.5}, kept.Entity.NameEmbedding)
}

func TestMergeSummary(t *testing.T) {
	tests := []struct {
		policy, existing, incoming, want string
	}{
		{config.MergeAppend, "Mill.", "Runs hot.", "Mill. Runs hot."},
		{config.MergeAppend, "Mill. Runs hot.", "Runs hot.", "Mill. Runs hot."},
		{config.MergeAppend, "", "Runs hot.", "Runs hot."},
		{config.MergeAppend, "Mill.", "  ", "Mill."},
		{config.MergeReplace, "Mill.", "Lathe.", "Lathe."},
		{config.MergeReplace, "Mill.", "", "Mill."},
		{config.MergeLongest, "Mill.", "A five-axis mill.", "A five-axis mill."},
		{config.MergeLongest, "A five-axis mill.", "Mill.", "A five-axis mill."},
		{config.MergeLongest, "abc", "xyz", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.policy+"/"+tt.incoming, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeSummary(tt.policy, tt.existing, tt.incoming))
		})
	}
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, LockKey("Machine", " Machine  X"), LockKey("Machine", "machine x"))
	assert.NotEqual(t, LockKey("Machine", "x"), LockKey("Line", "x"))
	assert.Equal(t, LockKey("", "x"), LockKey(model.DefaultEntityLabel, "x"))
}

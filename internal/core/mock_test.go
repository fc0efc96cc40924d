package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/core/model"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/driver"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/llm"
)

type MockLLM struct {
	mu            sync.Mutex
	Response      string
	ResponseQueue []string
	Err           error
	Calls         int
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

type MockEmbedder struct {
	Vector []float32
	Err    error
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Vector, nil
}

// faultyDriver fails the FailAt-th write of every unit of work with Err, and
// the first write of the next Conflicts units with a storage conflict.
type faultyDriver struct {
	driver.GraphDriver

	mu        sync.Mutex
	FailAt    int
	Err       error
	Conflicts int
	Updates   int
}

func (f *faultyDriver) Update(ctx context.Context, fn func(tx driver.Tx) error) error {
	f.mu.Lock()
	f.Updates++
	ft := &faultyTx{failAt: f.FailAt, err: f.Err}
	if f.Conflicts > 0 {
		f.Conflicts--
		ft.failAt = 1
		ft.err = kgerr.Wrap(driver.ErrConflict, kgerr.CodeStoreConflict, "injected conflict")
	}
	f.mu.Unlock()

	return f.GraphDriver.Update(ctx, func(tx driver.Tx) error {
		ft.Tx = tx
		ft.writes = 0
		return fn(ft)
	})
}

type faultyTx struct {
	driver.Tx
	failAt int
	err    error
	writes int
}

func (t *faultyTx) hit() error {
	t.writes++
	if t.failAt > 0 && t.writes == t.failAt {
		return t.err
	}
	return nil
}

func (t *faultyTx) CreateEpisode(ctx context.Context, ep *model.Episode) error {
	if err := t.hit(); err != nil {
		return err
	}
	return t.Tx.CreateEpisode(ctx, ep)
}

func (t *faultyTx) SaveEntity(ctx context.Context, e *model.EntityNode) error {
	if err := t.hit(); err != nil {
		return err
	}
	return t.Tx.SaveEntity(ctx, e)
}

func (t *faultyTx) SaveFact(ctx context.Context, f *model.EntityEdge) error {
	if err := t.hit(); err != nil {
		return err
	}
	return t.Tx.SaveFact(ctx, f)
}

func (t *faultyTx) InvalidateFact(ctx context.Context, uuid string, at time.Time) error {
	if err := t.hit(); err != nil {
		return err
	}
	return t.Tx.InvalidateFact(ctx, uuid, at)
}

func (t *faultyTx) LinkEntity(ctx context.Context, episodeUUID, entityUUID string) error {
	if err := t.hit(); err != nil {
		return err
	}
	return t.Tx.LinkEntity(ctx, episodeUUID, entityUUID)
}

func (t *faultyTx) LinkFact(ctx context.Context, episodeUUID, factUUID string) error {
	if err := t.hit(); err != nil {
		return err
	}
	return t.Tx.LinkFact(ctx, episodeUUID, factUUID)
}

func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

func newTestDriver(t *testing.T) driver.GraphDriver {
	t.Helper()
	d, err := driver.NewSQLiteDriver(testDBPath(t, "graph"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

// newTestGraphiti builds a service over a fresh SQLite graph. mutate, when
// given, adjusts the config before wiring.
func newTestGraphiti(t *testing.T, d driver.GraphDriver, llmClient llm.LLMClient, embedder llm.EmbedderClient, mutate func(*config.Config)) *Graphiti {
	t.Helper()
	if d == nil {
		d = newTestDriver(t)
	}
	cfg := config.Default()
	cfg.Ingest.RetryBackoffMS = 1
	if mutate != nil {
		mutate(cfg)
	}
	return NewGraphiti(d, llmClient, embedder, cfg, nil)
}

// clock hands out a fixed time until moved.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

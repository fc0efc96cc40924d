package driver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "SQLite"
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "open.db")

	d, err := Open(cfg)
	require.NoError(t, err)
	defer d.Close(context.Background())
	assert.Equal(t, "sqlite", d.Backend())
	assert.NoError(t, d.Ping(context.Background()))

	cfg.Storage.Backend = "rocksdb"
	_, err = Open(cfg)
	require.Error(t, err)
	assert.Equal(t, kgerr.CodeStoreBackendInvalid, kgerr.CodeOf(err))
	assert.True(t, kgerr.IsValidation(err))
}

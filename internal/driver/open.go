package driver

import (
	"strings"

	"github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/config"
	kgerr "github.com/Prajwalkadam29/graphiti-manufacturing-service/internal/errors"
)

// Open connects to the backend selected by cfg.Storage.Backend.
func Open(cfg *config.Config) (GraphDriver, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case config.BackendSQLite:
		d, err := NewSQLiteDriver(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.BackendMemgraph:
		d, err := NewMemgraphDriver(cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, kgerr.New(kgerr.CodeStoreBackendInvalid, "unsupported graph backend",
			kgerr.Field("backend", cfg.Storage.Backend))
	}
}

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/systemshift/dmx/internal/config"
)

// Open connects the backend selected by cfg.Storage.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		return NewSQLite(ctx, cfg.Storage.Path, log)
	case config.BackendNeo4j:
		return NewNeo4j(ctx, Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		}, log)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

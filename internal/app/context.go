package app

import (
	"context"
	"database/sql"
	"fmt"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
)

// Workspace is an opened, migrated workspace with its engine.
type Workspace struct {
	Path   string
	DB     *sql.DB
	Config *config.Config
	Engine *engine.Engine
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Open opens the workspace database, applies migrations, loads taskdesk.yml (or the
// defaults when it is absent) and seeds workflows into an empty workflow table.
func Open(ctx context.Context, workspace string) (*Workspace, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if _, err := eng.SeedWorkflows(ctx, cfg.Workflows); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed workflows: %w", err)
	}
	return &Workspace{Path: workspace, DB: conn, Config: cfg, Engine: eng}, nil
}

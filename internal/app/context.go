package app

import (
	"database/sql"
	"fmt"
	"os"

	"cyclone/internal/config"
	"cyclone/internal/db"
	"cyclone/internal/migrate"
)

// OpenWorkspace prepares a workspace for use: database opened and migrated,
// config loaded. A missing cyclone.yml is generated with defaults so a fresh
// floor works out of the box.
func OpenWorkspace(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default("")
		if err := os.WriteFile(config.Path(workspace), []byte(config.GenerateDefault(cfg.Floor.Name)), 0o644); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("write default config: %w", err)
		}
	}
	return conn, cfg, nil
}

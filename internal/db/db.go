package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const dbName = "cyclone.db"

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the .cyclone directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, ".cyclone")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the workspace database. Foreign keys are enforced and writes
// are serialized on a single connection, which is how the engine expects
// its transactions to behave.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", Path(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the database path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".cyclone", dbName)
}

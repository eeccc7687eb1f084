package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

type Config struct {
	// Driver is "postgres", "sqlite", or "log" (no database).
	Driver string `envconfig:"DRIVER" default:"log"`
	DSN    string `envconfig:"DSN"`
}

// BunSink persists records through bun into Postgres or SQLite.
type BunSink struct {
	db *bun.DB
}

// Open builds a sink for cfg. The "log" driver returns a LogSink and a no-op
// closer.
func Open(ctx context.Context, cfg Config) (Sink, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return LogSink{}, func() error { return nil }, nil
	case "postgres", "pg":
		if cfg.DSN == "" {
			return nil, nil, errors.New("AUDIT_DSN is required for postgres")
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		sink, err := NewBunSink(ctx, bun.NewDB(sqldb, pgdialect.New()))
		if err != nil {
			_ = sqldb.Close()
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case "sqlite":
		sink, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a local audit database. Use ":memory:" in tests.
func OpenSQLite(ctx context.Context, path string) (*BunSink, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating audit db directory: %w", err)
		}
	}
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	sqldb.SetMaxOpenConns(1)
	sink, err := NewBunSink(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return sink, nil
}

// NewBunSink creates the table when it does not exist yet.
func NewBunSink(ctx context.Context, db *bun.DB) (*BunSink, error) {
	if db == nil {
		return nil, errors.New("bun db is nil")
	}
	if _, err := db.NewCreateTable().Model((*ToolExecution)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, fmt.Errorf("create tool_executions table: %w", err)
	}
	log.Info().Str("dialect", db.Dialect().Name().String()).Msg("audit sink ready")
	return &BunSink{db: db}, nil
}

func (s *BunSink) Record(ctx context.Context, rec ToolExecution) error {
	rec.ID = 0
	if _, err := s.db.NewInsert().Model(&rec).Exec(ctx); err != nil {
		return fmt.Errorf("insert tool execution %s: %w", rec.ExecutionID, err)
	}
	return nil
}

// List returns the records of one workspace, oldest first.
func (s *BunSink) List(ctx context.Context, workspaceID string) ([]ToolExecution, error) {
	var out []ToolExecution
	err := s.db.NewSelect().
		Model(&out).
		Where("workspace_id = ?", workspaceID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tool executions: %w", err)
	}
	return out, nil
}

func (s *BunSink) Close() error {
	return s.db.Close()
}

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

// ResolveConfig loads the config at path, or taskline.yml under workspace
// when path is empty. A missing file yields the defaults.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path == "" {
		path = config.Path(workspace)
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from the log section of cfg.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenEngine opens and migrates the event database, then builds an engine
// on it. The returned func closes the database.
func OpenEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Engine, func() error, error) {
	conn, err := db.Open(db.Config{DSN: cfg.Events.DSN})
	if err != nil {
		return nil, nil, fmt.Errorf("open event db: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate event db: %w", err)
	}
	eng := engine.New(conn, cfg)
	if logger != nil {
		eng.Logger = logger
	}
	eng.Logger.Debug("event log ready", "dsn", cfg.Events.DSN, "schema_version", version)
	return eng, conn.Close, nil
}

package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the event log in process memory.
const MemoryDSN = ":memory:"

type Config struct {
	DSN string
}

func isMemory(dsn string) bool {
	return dsn == "" || dsn == MemoryDSN || strings.Contains(dsn, "mode=memory")
}

// Open opens the SQLite event database. A plain path gets its parent
// directory created and is opened with WAL journaling. The pool is limited
// to one connection, which keeps a memory database alive and serializes
// writers.
func Open(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	switch {
	case isMemory(dsn):
		if dsn == "" {
			dsn = MemoryDSN
		}
	case !strings.HasPrefix(dsn, "file:"):
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", dsn)
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

package db

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// DB is the bot's message history store.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the history database at path and applies
// the schema. path may be ":memory:".
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// ":memory:" is private to the connection that created it.
	sqlDB.SetMaxOpenConns(1)

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	h := &DB{sqlDB}
	var stored int
	if err := h.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&stored); err != nil {
		h.Close()
		return nil, fmt.Errorf("count history: %w", err)
	}
	slog.Info("db: history opened", "path", path, "messages", stored)
	return h, nil
}

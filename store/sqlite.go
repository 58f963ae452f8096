package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// SqliteStore stores all collections in a single SQLite database.
type SqliteStore struct {
	*sqlStore
}

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	)`,
	},
	isUnique: func(err error) bool {
		var se sqlite3.Error
		if errors.As(err, &se) {
			return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				se.ExtendedCode == sqlite3.ErrConstraintUnique
		}
		return false
	},
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, &Error{Backend: sqliteDialect.name, Op: "open", Err: err}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &Error{Backend: sqliteDialect.name, Op: "open", Err: err}
	}
	// One writer at a time; WAL still lets readers through.
	db.SetMaxOpenConns(1)
	s, err := openSQL(context.Background(), db, sqliteDialect)
	if err != nil {
		return nil, err
	}
	return &SqliteStore{sqlStore: s}, nil
}

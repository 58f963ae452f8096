package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore keeps all collections in one jsonb table.
type PostgresStore struct {
	*sqlStore
}

var postgresDialect = sqlDialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (collection, key)
	)`,
	},
	forUpdate: " FOR UPDATE",
	numbered:  true,
	isUnique: func(err error) bool {
		var pe *pq.Error
		if errors.As(err, &pe) {
			return pe.Code == "23505"
		}
		return false
	},
}

// NewPostgresStore connects with a lib/pq connection string, for example
// "host=db user=docs dbname=docs sslmode=disable".
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &Error{Backend: postgresDialect.name, Op: "open", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Backend: postgresDialect.name, Op: "connect", Err: err}
	}
	s, err := openSQL(ctx, db, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}

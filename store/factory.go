package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// Config selects and parameterises a backend.
type Config struct {
	// Backend is one of json (default), sqlite, memory, postgres, mongo,
	// redis.
	Backend string

	// DataDir holds the JSON files or the SQLite database.
	DataDir string

	// DSN is the connection string for postgres, the URI for mongo and the
	// address for redis.
	DSN string

	// Database names the MongoDB database or the Redis DB number.
	Database string

	// Password is only used by redis.
	Password string
}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"     - JSON files in DataDir (default)
//	"sqlite"   - SQLite database at DataDir/docs.db
//	"memory"   - In-memory (ephemeral, for testing)
//	"postgres" - PostgreSQL jsonb table, DSN is a lib/pq connection string
//	"mongo"    - MongoDB, DSN is the URI, Database the database name
//	"redis"    - Redis hashes, DSN is host:port, Database the DB number
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "json", "":
		return NewJsonFileStore(cfg.DataDir)
	case "sqlite":
		return NewSqliteStore(filepath.Join(cfg.DataDir, "docs.db"))
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	case "mongo":
		db := cfg.Database
		if db == "" {
			db = "docs"
		}
		return NewMongoStore(ctx, cfg.DSN, db)
	case "redis":
		n := 0
		if cfg.Database != "" {
			var err error
			if n, err = strconv.Atoi(cfg.Database); err != nil {
				return nil, fmt.Errorf("redis database %q is not a number: %w", cfg.Database, err)
			}
		}
		return NewRedisStore(ctx, &redis.Options{Addr: cfg.DSN, Password: cfg.Password, DB: n})
	default:
		return nil, fmt.Errorf("%w: %q (supported: json, sqlite, memory, postgres, mongo, redis)", ErrUnknownBackend, cfg.Backend)
	}
}

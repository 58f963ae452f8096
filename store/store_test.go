package store_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/collection-crud/document"
	"github.com/stevemurr/collection-crud/store"
)

func newDoc(t *testing.T, fields document.Fields) *document.Document {
	t.Helper()
	d, err := document.New(fields)
	require.NoError(t, err)
	return d
}

// runStoreTests runs a common test suite against any Store implementation.
// Collections are suffixed so suites against shared servers do not collide.
func runStoreTests(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000")
	col := "col1-" + suffix

	t.Run("Find empty", func(t *testing.T) {
		docs, err := s.Find(ctx, "empty-"+suffix)
		require.NoError(t, err)
		assert.NotNil(t, docs)
		assert.Len(t, docs, 0)
	})

	t.Run("Unencodable fields are rejected", func(t *testing.T) {
		bad := "bad-" + suffix
		_, err := s.Save(ctx, bad, newDoc(t, document.Fields{"name": "a", "ch": make(chan int)}))
		assert.Error(t, err)

		_, err = s.CreateMany(ctx, bad, []document.Fields{{"name": "b"}, {"ch": make(chan int)}})
		assert.Error(t, err)

		docs, err := s.Find(ctx, bad)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	var saved *document.Document

	t.Run("Save assigns id", func(t *testing.T) {
		doc := newDoc(t, document.Fields{"title": "hello", "count": 42})
		got, err := s.Save(ctx, col, doc)
		require.NoError(t, err)
		assert.False(t, got.ID.IsZero())
		assert.Equal(t, document.KindObjectID, got.ID.Kind())
		assert.True(t, got.ID.Equal(doc.ID), "input document should carry the generated id")
		assert.False(t, doc.IsNew())
		saved = got
	})

	t.Run("FindByID", func(t *testing.T) {
		got, err := s.FindByID(ctx, col, saved.ID)
		require.NoError(t, err)
		assert.True(t, got.ID.Equal(saved.ID))
		assert.Equal(t, "hello", got.Fields["title"])
		assert.EqualValues(t, 42, got.Fields["count"])
		assert.False(t, got.IsNew())
	})

	t.Run("FindByID missing", func(t *testing.T) {
		_, err := s.FindByID(ctx, col, document.NewObjectID())
		assert.ErrorIs(t, err, store.ErrNotFound)
		var nf *store.NotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, col, nf.Collection)
	})

	t.Run("Save with caller id and duplicate", func(t *testing.T) {
		doc := newDoc(t, document.Fields{"_id": "k2", "title": "second"})
		got, err := s.Save(ctx, col, doc)
		require.NoError(t, err)
		assert.Equal(t, "k2", got.ID.String())

		_, err = s.Save(ctx, col, newDoc(t, document.Fields{"_id": "k2"}))
		assert.ErrorIs(t, err, store.ErrDuplicateID)
	})

	t.Run("Save persisted replaces", func(t *testing.T) {
		doc, err := s.FindByID(ctx, col, document.StringID("k2"))
		require.NoError(t, err)
		doc.Fields = document.Fields{"title": "replaced"}
		_, err = s.Save(ctx, col, doc)
		require.NoError(t, err)
		got, err := s.FindByID(ctx, col, document.StringID("k2"))
		require.NoError(t, err)
		assert.Equal(t, document.Fields{"title": "replaced"}, got.Fields)
	})

	t.Run("FindByIDAndUpdate merges", func(t *testing.T) {
		got, err := s.FindByIDAndUpdate(ctx, col, saved.ID, document.Fields{"title": "updated", "extra": true})
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Fields["title"])
		assert.Equal(t, true, got.Fields["extra"])
		assert.EqualValues(t, 42, got.Fields["count"])

		again, err := s.FindByID(ctx, col, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "updated", again.Fields["title"])
	})

	t.Run("FindByIDAndUpdate ignores _id", func(t *testing.T) {
		got, err := s.FindByIDAndUpdate(ctx, col, saved.ID, document.Fields{"_id": "other"})
		require.NoError(t, err)
		assert.True(t, got.ID.Equal(saved.ID))
	})

	t.Run("FindByIDAndUpdate missing does not upsert", func(t *testing.T) {
		missing := document.StringID("nope")
		_, err := s.FindByIDAndUpdate(ctx, col, missing, document.Fields{"title": "x"})
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.FindByID(ctx, col, missing)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Find returns all", func(t *testing.T) {
		docs, err := s.Find(ctx, col)
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("FindByIDAndRemove", func(t *testing.T) {
		got, err := s.FindByIDAndRemove(ctx, col, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Fields["title"])

		_, err = s.FindByIDAndRemove(ctx, col, saved.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Save persisted after removal", func(t *testing.T) {
		_, err := s.Save(ctx, col, saved)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("CreateMany", func(t *testing.T) {
		many := "many-" + suffix
		docs, err := s.CreateMany(ctx, many, []document.Fields{{"x": 1}, {"x": 2}})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		for _, d := range docs {
			assert.False(t, d.ID.IsZero())
		}

		all, err := s.Find(ctx, many)
		require.NoError(t, err)
		require.Len(t, all, 2)
		var xs []float64
		for _, d := range all {
			x, ok := toFloat(d.Fields["x"])
			require.True(t, ok, "x has type %T", d.Fields["x"])
			xs = append(xs, x)
		}
		assert.ElementsMatch(t, []float64{1, 2}, xs)
	})

	t.Run("CreateMany rejects duplicate ids in batch", func(t *testing.T) {
		dup := "dup-" + suffix
		_, err := s.CreateMany(ctx, dup, []document.Fields{{"_id": "a"}, {"_id": "a"}})
		assert.ErrorIs(t, err, store.ErrDuplicateID)
		docs, err := s.Find(ctx, dup)
		require.NoError(t, err)
		assert.Len(t, docs, 0)
	})

	t.Run("invalid collection", func(t *testing.T) {
		_, err := s.Find(ctx, "")
		assert.ErrorIs(t, err, store.ErrInvalidCollection)
		_, err = s.Find(ctx, "../etc")
		assert.ErrorIs(t, err, store.ErrInvalidCollection)
	})

	t.Run("ListCollections", func(t *testing.T) {
		names, err := s.ListCollections(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, col)
		assert.Contains(t, names, "many-"+suffix)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	runStoreTests(t, s)
}

func TestJsonFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	runStoreTests(t, s)
}

func TestSqliteStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSqliteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	s, err := store.NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	s, err := store.NewMongoStore(context.Background(), uri, "collection_crud_test")
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)

	t.Run("Numeric text id is not reachable by its parsed form", func(t *testing.T) {
		ctx := context.Background()
		col := "textids-" + time.Now().Format("150405.000000")
		_, err := s.Save(ctx, col, newDoc(t, document.Fields{"_id": document.StringID("42")}))
		require.NoError(t, err)

		_, err = s.FindByID(ctx, col, document.ParseID("42"))
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.FindByID(ctx, col, document.StringID("42"))
		require.NoError(t, err)
		assert.Equal(t, document.KindString, got.ID.Kind())
	})
}

func TestTextIDsShareKeysOnKeyValueBackends(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	_, err := s.Save(ctx, "c", newDoc(t, document.Fields{"_id": document.StringID("42"), "v": 1}))
	require.NoError(t, err)

	got, err := s.FindByID(ctx, "c", document.ParseID("42"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Fields["v"])
}

func TestMemoryStoreRejectsNaN(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	_, err := s.Save(ctx, "c", newDoc(t, document.Fields{"name": "a", "score": math.NaN()}))
	var serr *store.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "memory", serr.Backend)

	saved, err := s.Save(ctx, "c", newDoc(t, document.Fields{"_id": "k", "name": "a"}))
	require.NoError(t, err)
	_, err = s.FindByIDAndUpdate(ctx, "c", saved.ID, document.Fields{"score": math.NaN()})
	require.Error(t, err)

	got, err := s.FindByID(ctx, "c", saved.ID)
	require.NoError(t, err)
	assert.Equal(t, document.Fields{"name": "a"}, got.Fields)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s, err := store.NewRedisStore(context.Background(), &redis.Options{Addr: addr})
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	for _, backend := range []string{"json", "sqlite", "memory", ""} {
		t.Run(backend, func(t *testing.T) {
			s, err := store.New(ctx, store.Config{Backend: backend, DataDir: filepath.Join(dir, backend)})
			require.NoError(t, err)
			defer s.Close()
			assert.NoError(t, s.Ping(ctx))
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := store.New(ctx, store.Config{Backend: "cassandra", DataDir: dir})
		assert.ErrorIs(t, err, store.ErrUnknownBackend)
	})
}

func TestJsonFileStoreIsolation(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)

	_, err = s.Save(ctx, "a", newDoc(t, document.Fields{"_id": "k1", "x": 1}))
	require.NoError(t, err)
	_, err = s.Save(ctx, "b", newDoc(t, document.Fields{"_id": "k1", "x": 2}))
	require.NoError(t, err)

	aDoc, err := s.FindByID(ctx, "a", document.StringID("k1"))
	require.NoError(t, err)
	bDoc, err := s.FindByID(ctx, "b", document.StringID("k1"))
	require.NoError(t, err)
	assert.Equal(t, float64(1), aDoc.Fields["x"])
	assert.Equal(t, float64(2), bDoc.Fields["x"])

	assert.FileExists(t, filepath.Join(dir, "a.json"))
	assert.FileExists(t, filepath.Join(dir, "b.json"))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	doc, err := s.Save(ctx, "c", newDoc(t, document.Fields{"tags": []any{"a"}}))
	require.NoError(t, err)

	got, err := s.FindByID(ctx, "c", doc.ID)
	require.NoError(t, err)
	got.Fields["tags"] = "mutated"

	again, err := s.FindByID(ctx, "c", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, again.Fields["tags"])
}

func TestStoreErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &store.Error{Backend: "postgres", Op: "find", Collection: "notes", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "notes")
}

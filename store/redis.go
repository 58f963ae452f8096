package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/stevemurr/collection-crud/document"
)

const (
	redisBackend   = "redis"
	redisKeyPrefix = "docs:"

	// optimistic transactions are retried this many times when a watched
	// key changes underneath them
	redisTxAttempts = 5
)

// RedisStore keeps each collection in one hash, docs:<collection>, mapping
// the canonical id to the JSON-encoded fields. Read-modify-write operations
// run as WATCH/MULTI transactions.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &Error{Backend: redisBackend, Op: "connect", Err: err}
	}
	return &RedisStore{rdb: rdb}, nil
}

func redisKey(collection string) string {
	return redisKeyPrefix + collection
}

// watch runs fn in an optimistic transaction on the collection hash.
func (s *RedisStore) watch(ctx context.Context, collection string, fn func(*redis.Tx) error) error {
	var err error
	for i := 0; i < redisTxAttempts; i++ {
		err = s.rdb.Watch(ctx, fn, redisKey(collection))
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *RedisStore) Find(ctx context.Context, collection string) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	raw, err := s.rdb.HGetAll(ctx, redisKey(collection)).Result()
	if err != nil {
		return nil, wrap(redisBackend, "find", collection, err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]*document.Document, 0, len(keys))
	for _, k := range keys {
		fields, err := decodeFields([]byte(raw[k]))
		if err != nil {
			return nil, wrap(redisBackend, "find", collection, err)
		}
		result = append(result, document.Stored(document.ParseID(k), fields))
	}
	return result, nil
}

func (s *RedisStore) FindByID(ctx context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	raw, err := s.rdb.HGet(ctx, redisKey(collection), id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, wrap(redisBackend, "findById", collection, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, wrap(redisBackend, "findById", collection, err)
	}
	return document.Stored(id, fields), nil
}

func (s *RedisStore) FindByIDAndUpdate(ctx context.Context, collection string, id document.ID, patch document.Fields) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	key := redisKey(collection)
	var doc *document.Document
	err := s.watch(ctx, collection, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, id.String()).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(collection, id)
		}
		if err != nil {
			return err
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return err
		}
		doc = document.Stored(id, fields)
		doc.Apply(patch)
		b, err := json.Marshal(doc.Fields)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id.String(), string(b))
			return nil
		})
		return err
	})
	if err != nil {
		return nil, wrap(redisBackend, "findByIdAndUpdate", collection, err)
	}
	return stored(redisBackend, "findByIdAndUpdate", collection, doc)
}

func (s *RedisStore) FindByIDAndRemove(ctx context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	key := redisKey(collection)
	var doc *document.Document
	err := s.watch(ctx, collection, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, id.String()).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(collection, id)
		}
		if err != nil {
			return err
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return err
		}
		doc = document.Stored(id, fields)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, id.String())
			return nil
		})
		return err
	})
	if err != nil {
		return nil, wrap(redisBackend, "findByIdAndRemove", collection, err)
	}
	return doc, nil
}

func (s *RedisStore) Save(ctx context.Context, collection string, doc *document.Document) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	key := redisKey(collection)
	b, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, wrap(redisBackend, "save", collection, err)
	}
	if doc.IsNew() {
		field := prepareInsert(doc)
		ok, err := s.rdb.HSetNX(ctx, key, field, string(b)).Result()
		if err != nil {
			return nil, wrap(redisBackend, "save", collection, err)
		}
		if !ok {
			return nil, notUniqueErr(collection, field)
		}
		doc.MarkSaved()
	} else {
		err := s.watch(ctx, collection, func(tx *redis.Tx) error {
			exists, err := tx.HExists(ctx, key, doc.ID.String()).Result()
			if err != nil {
				return err
			}
			if !exists {
				return notFound(collection, doc.ID)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, doc.ID.String(), string(b))
				return nil
			})
			return err
		})
		if err != nil {
			return nil, wrap(redisBackend, "save", collection, err)
		}
	}
	fields, err := decodeFields(b)
	if err != nil {
		return nil, wrap(redisBackend, "save", collection, err)
	}
	return document.Stored(doc.ID, fields), nil
}

func (s *RedisStore) CreateMany(ctx context.Context, collection string, items []document.Fields) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	docs, err := batch(collection, items)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []*document.Document{}, nil
	}
	key := redisKey(collection)
	values := make([]any, 0, 2*len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d.Fields)
		if err != nil {
			return nil, wrap(redisBackend, "createMany", collection, err)
		}
		values = append(values, d.ID.String(), string(b))
	}
	err = s.watch(ctx, collection, func(tx *redis.Tx) error {
		for _, d := range docs {
			exists, err := tx.HExists(ctx, key, d.ID.String()).Result()
			if err != nil {
				return err
			}
			if exists {
				return notUniqueErr(collection, d.ID.String())
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values...)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, wrap(redisBackend, "createMany", collection, err)
	}
	for _, d := range docs {
		if d.Fields, err = document.CopyFields(d.Fields); err != nil {
			return nil, wrap(redisBackend, "createMany", collection, err)
		}
	}
	return markSaved(docs), nil
}

func (s *RedisStore) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	// SCAN may return a key more than once.
	seen := map[string]struct{}{}
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), redisKeyPrefix)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if err := iter.Err(); err != nil {
		return nil, wrap(redisBackend, "listCollections", "", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap(redisBackend, "ping", "", s.rdb.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

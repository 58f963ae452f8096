package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/stevemurr/collection-crud/document"
)

// sqlDialect carries the per-database differences of the SQL backends.
type sqlDialect struct {
	name      string
	schema    []string
	forUpdate string
	numbered  bool
	isUnique  func(error) bool
}

// rebind rewrites ? placeholders to $n for databases that need it.
func (d sqlDialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore keeps all collections in one table:
//
//	documents(collection, key, data)  PRIMARY KEY (collection, key)
type sqlStore struct {
	mu sync.RWMutex
	db *sql.DB
	d  sqlDialect
}

func openSQL(ctx context.Context, db *sql.DB, d sqlDialect) (*sqlStore, error) {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, wrap(d.name, "migrate", "", err)
		}
	}
	return &sqlStore{db: db, d: d}, nil
}

func (s *sqlStore) q(query string) string { return s.d.rebind(query) }

func decodeFields(raw []byte) (document.Fields, error) {
	var f document.Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) Find(ctx context.Context, collection string) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, s.q("SELECT key, data FROM documents WHERE collection = ? ORDER BY key"), collection)
	if err != nil {
		return nil, wrap(s.d.name, "find", collection, err)
	}
	defer rows.Close()
	result := make([]*document.Document, 0)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, wrap(s.d.name, "find", collection, err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, wrap(s.d.name, "find", collection, err)
		}
		result = append(result, document.Stored(document.ParseID(key), fields))
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(s.d.name, "find", collection, err)
	}
	return result, nil
}

func (s *sqlStore) FindByID(ctx context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT data FROM documents WHERE collection = ? AND key = ?"),
		collection, id.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, wrap(s.d.name, "findById", collection, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, wrap(s.d.name, "findById", collection, err)
	}
	return document.Stored(id, fields), nil
}

func (s *sqlStore) FindByIDAndUpdate(ctx context.Context, collection string, id document.ID, patch document.Fields) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.updateTx(ctx, collection, id, patch)
	return doc, wrap(s.d.name, "findByIdAndUpdate", collection, err)
}

func (s *sqlStore) updateTx(ctx context.Context, collection string, id document.ID, patch document.Fields) (*document.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		s.q("SELECT data FROM documents WHERE collection = ? AND key = ?"+s.d.forUpdate),
		collection, id.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	doc := document.Stored(id, fields)
	doc.Apply(patch)
	b, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		s.q("UPDATE documents SET data = ? WHERE collection = ? AND key = ?"),
		string(b), collection, id.String(),
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if fields, err = decodeFields(b); err != nil {
		return nil, err
	}
	return document.Stored(id, fields), nil
}

func (s *sqlStore) FindByIDAndRemove(ctx context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		s.q("DELETE FROM documents WHERE collection = ? AND key = ? RETURNING data"),
		collection, id.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(collection, id)
	}
	if err != nil {
		return nil, wrap(s.d.name, "findByIdAndRemove", collection, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, wrap(s.d.name, "findByIdAndRemove", collection, err)
	}
	return document.Stored(id, fields), nil
}

func (s *sqlStore) Save(ctx context.Context, collection string, doc *document.Document) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, wrap(s.d.name, "save", collection, err)
	}
	if doc.IsNew() {
		key := prepareInsert(doc)
		_, err := s.db.ExecContext(ctx,
			s.q("INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)"),
			collection, key, string(b),
		)
		if err != nil {
			if s.d.isUnique(err) {
				return nil, notUniqueErr(collection, key)
			}
			return nil, wrap(s.d.name, "save", collection, err)
		}
		doc.MarkSaved()
	} else {
		res, err := s.db.ExecContext(ctx,
			s.q("UPDATE documents SET data = ? WHERE collection = ? AND key = ?"),
			string(b), collection, doc.ID.String(),
		)
		if err != nil {
			return nil, wrap(s.d.name, "save", collection, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, notFound(collection, doc.ID)
		}
	}
	fields, err := decodeFields(b)
	if err != nil {
		return nil, wrap(s.d.name, "save", collection, err)
	}
	return document.Stored(doc.ID, fields), nil
}

func (s *sqlStore) CreateMany(ctx context.Context, collection string, items []document.Fields) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	docs, err := batch(collection, items)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertAll(ctx, collection, docs); err != nil {
		return nil, wrap(s.d.name, "createMany", collection, err)
	}
	for _, d := range docs {
		if d.Fields, err = document.CopyFields(d.Fields); err != nil {
			return nil, wrap(s.d.name, "createMany", collection, err)
		}
	}
	return markSaved(docs), nil
}

// insertAll writes the batch in one transaction; any failure leaves the
// collection untouched.
func (s *sqlStore) insertAll(ctx context.Context, collection string, docs []*document.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, s.q("INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)"))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range docs {
		b, err := json.Marshal(d.Fields)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, collection, d.ID.String(), string(b)); err != nil {
			if s.d.isUnique(err) {
				return notUniqueErr(collection, d.ID.String())
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, wrap(s.d.name, "listCollections", "", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrap(s.d.name, "listCollections", "", err)
		}
		names = append(names, name)
	}
	return names, wrap(s.d.name, "listCollections", "", rows.Err())
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return wrap(s.d.name, "ping", "", s.db.PingContext(ctx))
}

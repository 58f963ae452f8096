package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/stevemurr/collection-crud/document"
)

const jsonBackend = "json"

// JsonFileStore stores each collection as a separate JSON file on disk,
// keyed by the canonical document id.
//
// Layout:
//
//	data_dir/
//	  notes.json      # "notes" collection
//	  tasks.json      # "tasks" collection
type JsonFileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Backend: jsonBackend, Op: "open", Err: err}
	}
	return &JsonFileStore{dir: dir}, nil
}

func (s *JsonFileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// loadCollection reads a collection file. A missing file is an empty
// collection.
func (s *JsonFileStore) loadCollection(collection string) (map[string]document.Fields, error) {
	data, err := os.ReadFile(s.collectionPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]document.Fields{}, nil
		}
		return nil, err
	}
	result := map[string]document.Fields{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// saveCollection writes through a temp file so a crash never leaves a
// truncated collection behind.
func (s *JsonFileStore) saveCollection(collection string, coll map[string]document.Fields) error {
	b, err := json.MarshalIndent(coll, "", "  ")
	if err != nil {
		return err
	}
	path := s.collectionPath(collection)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *JsonFileStore) Find(_ context.Context, collection string) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, wrap(jsonBackend, "find", collection, err)
	}
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]*document.Document, 0, len(keys))
	for _, k := range keys {
		result = append(result, document.Stored(document.ParseID(k), coll[k]))
	}
	return result, nil
}

func (s *JsonFileStore) FindByID(_ context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, wrap(jsonBackend, "findById", collection, err)
	}
	fields, ok := coll[id.String()]
	if !ok {
		return nil, notFound(collection, id)
	}
	return document.Stored(id, fields), nil
}

func (s *JsonFileStore) FindByIDAndUpdate(_ context.Context, collection string, id document.ID, patch document.Fields) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, wrap(jsonBackend, "findByIdAndUpdate", collection, err)
	}
	fields, ok := coll[id.String()]
	if !ok {
		return nil, notFound(collection, id)
	}
	doc := document.Stored(id, fields)
	doc.Apply(patch)
	coll[id.String()] = doc.Fields
	if err := s.saveCollection(collection, coll); err != nil {
		return nil, wrap(jsonBackend, "findByIdAndUpdate", collection, err)
	}
	return stored(jsonBackend, "findByIdAndUpdate", collection, doc)
}

func (s *JsonFileStore) FindByIDAndRemove(_ context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, wrap(jsonBackend, "findByIdAndRemove", collection, err)
	}
	fields, ok := coll[id.String()]
	if !ok {
		return nil, notFound(collection, id)
	}
	delete(coll, id.String())
	if err := s.saveCollection(collection, coll); err != nil {
		return nil, wrap(jsonBackend, "findByIdAndRemove", collection, err)
	}
	return document.Stored(id, fields), nil
}

func (s *JsonFileStore) Save(_ context.Context, collection string, doc *document.Document) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, wrap(jsonBackend, "save", collection, err)
	}
	isNew := doc.IsNew()
	var key string
	if isNew {
		key = prepareInsert(doc)
		if _, exists := coll[key]; exists {
			return nil, notUniqueErr(collection, key)
		}
	} else {
		key = doc.ID.String()
		if _, exists := coll[key]; !exists {
			return nil, notFound(collection, doc.ID)
		}
	}
	coll[key] = doc.Fields
	if err := s.saveCollection(collection, coll); err != nil {
		return nil, wrap(jsonBackend, "save", collection, err)
	}
	if isNew {
		doc.MarkSaved()
	}
	return stored(jsonBackend, "save", collection, doc)
}

func (s *JsonFileStore) CreateMany(_ context.Context, collection string, items []document.Fields) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	docs, err := batch(collection, items)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, err := s.loadCollection(collection)
	if err != nil {
		return nil, wrap(jsonBackend, "createMany", collection, err)
	}
	for _, d := range docs {
		if _, exists := coll[d.ID.String()]; exists {
			return nil, notUniqueErr(collection, d.ID.String())
		}
	}
	for _, d := range docs {
		coll[d.ID.String()] = d.Fields
	}
	if err := s.saveCollection(collection, coll); err != nil {
		return nil, wrap(jsonBackend, "createMany", collection, err)
	}
	for _, d := range docs {
		if d.Fields, err = document.CopyFields(d.Fields); err != nil {
			return nil, wrap(jsonBackend, "createMany", collection, err)
		}
	}
	return markSaved(docs), nil
}

func (s *JsonFileStore) ListCollections(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrap(jsonBackend, "listCollections", "", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *JsonFileStore) Ping(context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return wrap(jsonBackend, "ping", "", err)
	}
	return nil
}

func (s *JsonFileStore) Close() error { return nil }

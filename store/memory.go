package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stevemurr/collection-crud/document"
)

const memoryBackend = "memory"

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]document.Fields
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]document.Fields),
	}
}

func (m *MemoryStore) Find(_ context.Context, collection string) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll := m.collections[collection]
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]*document.Document, 0, len(keys))
	for _, k := range keys {
		fields, err := document.CopyFields(coll[k])
		if err != nil {
			return nil, wrap(memoryBackend, "find", collection, err)
		}
		result = append(result, document.Stored(document.ParseID(k), fields))
	}
	return result, nil
}

func (m *MemoryStore) FindByID(_ context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.collections[collection][id.String()]
	if !ok {
		return nil, notFound(collection, id)
	}
	out, err := document.CopyFields(fields)
	if err != nil {
		return nil, wrap(memoryBackend, "findByID", collection, err)
	}
	return document.Stored(id, out), nil
}

func (m *MemoryStore) FindByIDAndUpdate(_ context.Context, collection string, id document.ID, patch document.Fields) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collections[collection]
	fields, ok := coll[id.String()]
	if !ok {
		return nil, notFound(collection, id)
	}
	current, err := document.CopyFields(fields)
	if err != nil {
		return nil, wrap(memoryBackend, "update", collection, err)
	}
	changes, err := document.CopyFields(patch)
	if err != nil {
		return nil, wrap(memoryBackend, "update", collection, err)
	}
	doc := document.Stored(id, current)
	doc.Apply(changes)
	coll[id.String()] = doc.Clone().Fields
	return doc, nil
}

func (m *MemoryStore) FindByIDAndRemove(_ context.Context, collection string, id document.ID) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collections[collection]
	fields, ok := coll[id.String()]
	if !ok {
		return nil, notFound(collection, id)
	}
	delete(coll, id.String())
	return document.Stored(id, fields), nil
}

func (m *MemoryStore) Save(_ context.Context, collection string, doc *document.Document) (*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fields, err := document.CopyFields(doc.Fields)
	if err != nil {
		return nil, wrap(memoryBackend, "save", collection, err)
	}
	coll := m.collection(collection)
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
	coll[key] = fields
	if isNew {
		doc.MarkSaved()
	}
	return document.Stored(doc.ID, fields).Clone(), nil
}

func (m *MemoryStore) CreateMany(_ context.Context, collection string, items []document.Fields) ([]*document.Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	docs, err := batch(collection, items)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collection(collection)
	for _, d := range docs {
		if _, exists := coll[d.ID.String()]; exists {
			return nil, notUniqueErr(collection, d.ID.String())
		}
		if d.Fields, err = document.CopyFields(d.Fields); err != nil {
			return nil, wrap(memoryBackend, "createMany", collection, err)
		}
	}
	for _, d := range docs {
		coll[d.ID.String()] = d.Clone().Fields
	}
	return markSaved(docs), nil
}

func (m *MemoryStore) ListCollections(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, docs := range m.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// collection returns the named collection, creating it. Callers hold mu.
func (m *MemoryStore) collection(name string) map[string]document.Fields {
	coll, ok := m.collections[name]
	if !ok {
		coll = make(map[string]document.Fields)
		m.collections[name] = coll
	}
	return coll
}

// Package store defines the document-store driver interface and its
// backends.
package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/stevemurr/collection-crud/document"
)

// Store is the interface that all backing stores must implement.
// It operates on named collections, where each collection holds documents
// addressed by their document.ID.
type Store interface {
	// Find returns every document in a collection. An empty collection
	// yields an empty slice, not an error.
	Find(ctx context.Context, collection string) ([]*document.Document, error)

	// FindByID returns a single document or a *NotFoundError.
	FindByID(ctx context.Context, collection string, id document.ID) (*document.Document, error)

	// FindByIDAndUpdate merges patch into the document and returns the
	// post-update state. It never creates a document.
	FindByIDAndUpdate(ctx context.Context, collection string, id document.ID, patch document.Fields) (*document.Document, error)

	// FindByIDAndRemove deletes the document and returns it as it was
	// before removal.
	FindByIDAndRemove(ctx context.Context, collection string, id document.ID) (*document.Document, error)

	// Save inserts a new document, assigning an ObjectID when it has none,
	// or replaces a persisted one. The stored form is returned and doc is
	// updated with its id and persisted state.
	Save(ctx context.Context, collection string, doc *document.Document) (*document.Document, error)

	// CreateMany inserts a batch of new documents.
	CreateMany(ctx context.Context, collection string, docs []document.Fields) ([]*document.Document, error)

	// ListCollections returns the names of all collections that hold data.
	ListCollections(ctx context.Context) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

var collectionName = regexp.MustCompile(`^[A-Za-z0-9-][A-Za-z0-9_.-]{0,119}$`)

// ValidateCollection rejects names that are empty or unsafe to use as a
// file name, table key or key prefix.
func ValidateCollection(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// prepareInsert gives a new document an id when it has none and returns the
// storage key.
func prepareInsert(doc *document.Document) string {
	if doc.ID.IsZero() {
		doc.ID = document.NewObjectID()
	}
	return doc.ID.String()
}

// batch converts raw field maps into new documents with ids assigned and
// rejects ids repeated within the batch.
func batch(collection string, items []document.Fields) ([]*document.Document, error) {
	docs := make([]*document.Document, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, f := range items {
		d, err := document.New(f)
		if err != nil {
			return nil, err
		}
		key := prepareInsert(d)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %q in batch for %s", ErrDuplicateID, key, collection)
		}
		seen[key] = struct{}{}
		docs = append(docs, d)
	}
	return docs, nil
}

// stored returns the persisted form of doc, with fields normalised to what
// a later read returns.
func stored(backend, op, collection string, doc *document.Document) (*document.Document, error) {
	fields, err := document.CopyFields(doc.Fields)
	if err != nil {
		return nil, wrap(backend, op, collection, err)
	}
	return document.Stored(doc.ID, fields), nil
}

func markSaved(docs []*document.Document) []*document.Document {
	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		d.MarkSaved()
		out[i] = d.Clone()
	}
	return out
}

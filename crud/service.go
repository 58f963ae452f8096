// Package crud provides the data-access service that binds one named
// collection of a document store to a uniform CRUD surface.
package crud

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/stevemurr/collection-crud/document"
	"github.com/stevemurr/collection-crud/store"
)

var (
	// ErrMissingCollection is returned by New when no collection name is
	// given. Nothing touches the store in that case.
	ErrMissingCollection = errors.New("crud: collection name must be set")

	ErrNilStore = errors.New("crud: store must be set")

	// ErrNilDocument is returned by Insert when given no document.
	ErrNilDocument = errors.New("crud: document must be set")
)

// Service is the CRUD surface over one collection. It holds no mutable
// state; every call is resolved against the store. Errors from the store
// are returned unchanged.
type Service struct {
	store      store.Store
	collection string
	log        *zap.SugaredLogger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for debug tracing of store calls.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.log = l.Sugar()
	}
}

// New binds a Service to collection. It fails fast on an empty name or a
// nil store.
func New(s store.Store, collection string, opts ...Option) (*Service, error) {
	if collection == "" {
		return nil, ErrMissingCollection
	}
	if s == nil {
		return nil, ErrNilStore
	}
	svc := &Service{store: s, collection: collection, log: zap.S()}
	for _, opt := range opts {
		opt(svc)
	}
	svc.log = svc.log.With("collection", collection)
	return svc, nil
}

// Collection returns the bound collection name.
func (s *Service) Collection() string {
	return s.collection
}

// Store returns the underlying driver.
func (s *Service) Store() store.Store {
	return s.store
}

// GetAll retrieves all documents from the collection.
func (s *Service) GetAll(ctx context.Context) ([]*document.Document, error) {
	s.log.Debugw("getAll")
	return s.store.Find(ctx, s.collection)
}

// ByID retrieves a document by its id. A missing document yields an error
// matching store.ErrNotFound.
func (s *Service) ByID(ctx context.Context, id document.ID) (*document.Document, error) {
	s.log.Debugw("byId", "id", id.String())
	return s.store.FindByID(ctx, s.collection, id)
}

// UpdateByID sets the fields of update on the document with the given id
// and returns the updated document. It never creates one.
func (s *Service) UpdateByID(ctx context.Context, id document.ID, update document.Fields) (*document.Document, error) {
	s.log.Debugw("updateById", "id", id.String(), "fields", len(update))
	return s.store.FindByIDAndUpdate(ctx, s.collection, id, update)
}

// DeleteByID deletes the document with the given id and returns it as it
// was before removal.
func (s *Service) DeleteByID(ctx context.Context, id document.ID) (*document.Document, error) {
	s.log.Debugw("deleteById", "id", id.String())
	return s.store.FindByIDAndRemove(ctx, s.collection, id)
}

// Create builds an unsaved document from fields. It does not touch the
// store; pass the result to Insert to persist it. An _id that is not a
// valid id fails with document.ErrInvalidID.
func (s *Service) Create(fields document.Fields) (*document.Document, error) {
	return document.New(fields)
}

// Insert persists a document and returns the stored form, including a
// generated id when the document had none.
func (s *Service) Insert(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	s.log.Debugw("insert", "id", doc.ID.String(), "new", doc.IsNew())
	return s.store.Save(ctx, s.collection, doc)
}

// CreateAndSave is Create followed by Insert.
func (s *Service) CreateAndSave(ctx context.Context, fields document.Fields) (*document.Document, error) {
	doc, err := s.Create(fields)
	if err != nil {
		return nil, err
	}
	return s.Insert(ctx, doc)
}

// CreateAndSaveMany inserts a batch. Whether a failing batch leaves earlier
// documents behind depends on the store.
func (s *Service) CreateAndSaveMany(ctx context.Context, fields []document.Fields) ([]*document.Document, error) {
	s.log.Debugw("createAndSaveMany", "count", len(fields))
	return s.store.CreateMany(ctx, s.collection, fields)
}

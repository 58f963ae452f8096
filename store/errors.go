package store

import (
	"errors"
	"fmt"

	"github.com/stevemurr/collection-crud/document"
)

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateID is returned when a new document is saved under an id
	// that already exists in the collection.
	ErrDuplicateID = errors.New("duplicate document id")

	// ErrInvalidCollection is returned for empty or unsafe collection names.
	ErrInvalidCollection = errors.New("invalid collection name")

	ErrUnknownBackend = errors.New("unknown store backend")
)

// NotFoundError reports a lookup, update or delete whose target is absent.
type NotFoundError struct {
	Collection string
	ID         document.ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document %q not found in collection %s", e.ID.String(), e.Collection)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(collection string, id document.ID) error {
	return &NotFoundError{Collection: collection, ID: id}
}

func notUniqueErr(collection, key string) error {
	return fmt.Errorf("%w: %q in collection %s", ErrDuplicateID, key, collection)
}

// Error wraps a failure surfaced by the underlying driver.
type Error struct {
	Backend    string
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("%s: %s on %s: %v", e.Backend, e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(backend, op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrInvalidCollection) {
		return err
	}
	return &Error{Backend: backend, Op: op, Collection: collection, Err: err}
}

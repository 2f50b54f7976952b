package profile

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no profile document exists for the given id.
var ErrNotFound = errors.New("profile not found")

// Store is the document-store contract the session layer depends on.
// Writes are independent, unordered, last-writer-wins; there are no
// transactions across documents.
type Store interface {
	// Get returns the document for the identity id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// Set writes the full document. With merge true, fields absent from doc
	// are left untouched on an existing document; with merge false an
	// existing document is replaced.
	Set(ctx context.Context, id string, doc *Document, merge bool) error

	// Update applies a partial field update to an existing document.
	Update(ctx context.Context, id string, fields map[string]any) error

	// List returns documents matching the filter ({} for all), for the
	// admin tooling's user listing.
	List(ctx context.Context, filter map[string]any) ([]*Document, error)
}

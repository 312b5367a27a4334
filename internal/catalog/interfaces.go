package catalog

import (
	"context"
	"errors"
	"time"
)

// Errors shared by store implementations.
var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTitle is returned when a product record carries an empty
	// or sentinel title and therefore must not be persisted.
	ErrInvalidTitle = errors.New("product title is empty or not found")
	// ErrTerminalState is returned when a status write would leave a
	// terminal state or otherwise break the transition graph.
	ErrTerminalState = errors.New("illegal session status transition")
)

// Fetcher retrieves a page body for a URL, timeout-bounded.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns a fetched product page into a Record. It returns nil
// on unparsable input rather than an error.
type Extractor interface {
	Extract(pageBody []byte, url, category string) *Record
}

// CatalogSource enumerates every known catalog (all_catalogs mode).
type CatalogSource interface {
	ListCatalogs(ctx context.Context) ([]CatalogRef, error)
}

// SessionStore persists session rows. SaveStatus is the sole writer and
// upserts by session id, preserving the original created_at.
type SessionStore interface {
	SaveStatus(ctx context.Context, id string, status Status, pending []Item, progress, categoryName string) error
	GetSession(ctx context.Context, id string) (Session, error)
}

// ProductStore is the durable keyed-upsert gateway for products and
// variants, plus cancellation-safe cleanup of partial writes.
type ProductStore interface {
	// UpsertProduct inserts or updates by canonical URL and returns the
	// product id. Records with an empty or sentinel title are rejected
	// with ErrInvalidTitle and nothing is written.
	UpsertProduct(ctx context.Context, p Product) (int64, error)
	// UpsertVariants upserts the batch by (productID, article number,
	// variant name). The batch is all-or-nothing: any failure rolls back
	// every variant of this product.
	UpsertVariants(ctx context.Context, productID int64, variants []Variant) error
	// CleanupIncomplete deletes every product row not marked complete,
	// cascading to its variants.
	CleanupIncomplete(ctx context.Context) (int64, error)
}

// Archive optionally stores fetched page bodies for later inspection.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes terminal-state session events to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Token is a per-session cancellation handle, observed cooperatively at
// defined checkpoints.
type Token interface {
	Canceled() bool
}

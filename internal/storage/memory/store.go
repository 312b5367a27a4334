// Package memory provides in-memory store implementations for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
)

// SessionStore keeps session rows in a map, enforcing the same state
// graph as the Postgres store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]catalog.Session
	clock    catalog.Clock
}

// NewSessionStore creates an empty SessionStore. A nil clock falls back
// to time.Now.
func NewSessionStore(clock catalog.Clock) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]catalog.Session),
		clock:    clock,
	}
}

func (s *SessionStore) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

// SaveStatus upserts the session row, preserving created_at. Transitions
// that break the state graph are rejected; rewriting the current status
// refreshes the progress label.
func (s *SessionStore) SaveStatus(_ context.Context, id string, status catalog.Status, pending []catalog.Item, progress, categoryName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = catalog.Session{ID: id, CreatedAt: now}
	} else if status != sess.Status && !sess.Status.CanTransition(status) {
		return fmt.Errorf("session %s: %s -> %s: %w", id, sess.Status, status, catalog.ErrTerminalState)
	}

	sess.Status = status
	sess.Progress = progress
	sess.PendingURLs = append([]catalog.Item(nil), pending...)
	sess.CategoryName = categoryName
	sess.UpdatedAt = now
	s.sessions[id] = sess
	return nil
}

// GetSession returns a copy of the session row.
func (s *SessionStore) GetSession(_ context.Context, id string) (catalog.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return catalog.Session{}, catalog.ErrNotFound
	}
	sess.PendingURLs = append([]catalog.Item(nil), sess.PendingURLs...)
	return sess, nil
}

// ProductStore keeps products and variants in maps keyed the same way
// the relational store keys them.
type ProductStore struct {
	mu       sync.Mutex
	nextID   int64
	byURL    map[string]int64
	products map[int64]catalog.Product
	variants map[int64]map[string]catalog.Variant
}

// NewProductStore creates an empty ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{
		byURL:    make(map[string]int64),
		products: make(map[int64]catalog.Product),
		variants: make(map[int64]map[string]catalog.Variant),
	}
}

// UpsertProduct inserts or updates by canonical URL.
func (s *ProductStore) UpsertProduct(_ context.Context, p catalog.Product) (int64, error) {
	if p.Title == "" || p.Title == catalog.TitleNotFound {
		return 0, catalog.ErrInvalidTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byURL[p.URL]
	if !ok {
		s.nextID++
		id = s.nextID
		s.byURL[p.URL] = id
	}
	p.ID = id
	s.products[id] = p
	return id, nil
}

// UpsertVariants replaces or adds variants by their natural key. The
// in-memory batch cannot partially fail, so all-or-nothing holds
// trivially.
func (s *ProductStore) UpsertVariants(_ context.Context, productID int64, variants []catalog.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return fmt.Errorf("product %d: %w", productID, catalog.ErrNotFound)
	}
	bucket := s.variants[productID]
	if bucket == nil {
		bucket = make(map[string]catalog.Variant)
		s.variants[productID] = bucket
	}
	for _, v := range variants {
		v.ProductID = productID
		bucket[v.ArticleNumber+"\x00"+v.VariantName] = v
	}
	return nil
}

// CleanupIncomplete removes products never marked complete together with
// their variants.
func (s *ProductStore) CleanupIncomplete(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, p := range s.products {
		if p.IsComplete {
			continue
		}
		delete(s.products, id)
		delete(s.variants, id)
		delete(s.byURL, p.URL)
		removed++
	}
	return removed, nil
}

// Product returns a stored product by URL, for assertions in tests.
func (s *ProductStore) Product(url string) (catalog.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byURL[url]
	if !ok {
		return catalog.Product{}, false
	}
	return s.products[id], true
}

// VariantCount returns the number of variants stored for a product.
func (s *ProductStore) VariantCount(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.variants[productID])
}

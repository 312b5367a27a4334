// Package postgres provides Postgres-backed persistence for products,
// variants and parse sessions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements catalog.SessionStore and catalog.ProductStore on one
// pool. Writes are serialized through a single mutex: the site is small
// and one writer at a time keeps upsert interleavings trivial.
type Store struct {
	pool   dbPool
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates a Store using the provided config.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, logger)
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool dbPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	price TEXT,
	composition TEXT,
	skein_weight TEXT,
	skein_length TEXT,
	package_weight TEXT,
	category TEXT,
	image_url TEXT,
	last_updated TIMESTAMPTZ NOT NULL,
	is_complete BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS variants (
	id BIGSERIAL PRIMARY KEY,
	product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	article_number TEXT NOT NULL,
	variant_name TEXT NOT NULL,
	is_available BOOLEAN NOT NULL DEFAULT FALSE,
	image_url TEXT,
	last_updated TIMESTAMPTZ NOT NULL,
	is_complete BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (product_id, article_number, variant_name)
)`,
	`CREATE TABLE IF NOT EXISTS parse_sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	progress TEXT,
	product_urls JSONB NOT NULL DEFAULT '[]',
	category_name TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const upsertProductSQL = `
INSERT INTO products (
	url, title, price, composition, skein_weight, skein_length,
	package_weight, category, image_url, last_updated, is_complete
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	composition = EXCLUDED.composition,
	skein_weight = EXCLUDED.skein_weight,
	skein_length = EXCLUDED.skein_length,
	package_weight = EXCLUDED.package_weight,
	category = EXCLUDED.category,
	image_url = EXCLUDED.image_url,
	last_updated = EXCLUDED.last_updated,
	is_complete = EXCLUDED.is_complete
RETURNING id`

// UpsertProduct inserts or updates a product by its canonical URL and
// returns the row id. Records without a usable title are rejected before
// anything touches the database.
func (s *Store) UpsertProduct(ctx context.Context, p catalog.Product) (int64, error) {
	if p.Title == "" || p.Title == catalog.TitleNotFound {
		return 0, catalog.ErrInvalidTitle
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.pool.QueryRow(ctx, upsertProductSQL,
		p.URL, p.Title, p.Price, p.Composition, p.SkeinWeight, p.SkeinLength,
		p.PackageWeight, p.Category, p.ImageURL, p.LastUpdated, p.IsComplete,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert product %s: %w", p.URL, err)
	}
	return id, nil
}

const upsertVariantSQL = `
INSERT INTO variants (
	product_id, article_number, variant_name, is_available,
	image_url, last_updated, is_complete
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (product_id, article_number, variant_name) DO UPDATE SET
	is_available = EXCLUDED.is_available,
	image_url = EXCLUDED.image_url,
	last_updated = EXCLUDED.last_updated,
	is_complete = EXCLUDED.is_complete`

// UpsertVariants writes the whole batch in one transaction. Any failure
// rolls back every variant of this product.
func (s *Store) UpsertVariants(ctx context.Context, productID int64, variants []catalog.Variant) error {
	if len(variants) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin variant batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, v := range variants {
		if _, err := tx.Exec(ctx, upsertVariantSQL,
			productID, v.ArticleNumber, v.VariantName, v.IsAvailable,
			v.ImageURL, v.LastUpdated, v.IsComplete,
		); err != nil {
			return fmt.Errorf("upsert variant %s/%s: %w", v.ArticleNumber, v.VariantName, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit variant batch: %w", err)
	}
	return nil
}

// CleanupIncomplete deletes products never marked complete, cascading to
// their variants, and returns the number of products removed.
func (s *Store) CleanupIncomplete(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE is_complete = FALSE`)
	if err != nil {
		return 0, fmt.Errorf("cleanup incomplete products: %w", err)
	}
	return tag.RowsAffected(), nil
}

const upsertSessionSQL = `
INSERT INTO parse_sessions (
	id, status, progress, product_urls, category_name, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,now(),now())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	progress = EXCLUDED.progress,
	product_urls = EXCLUDED.product_urls,
	category_name = EXCLUDED.category_name,
	updated_at = now()`

// SaveStatus upserts the session row. The original created_at survives
// updates. Writes that would break the state graph are rejected with
// ErrTerminalState; rewriting the current status is allowed so progress
// labels can be refreshed mid-run.
func (s *Store) SaveStatus(ctx context.Context, id string, status catalog.Status, pending []catalog.Item, progress, categoryName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rawStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM parse_sessions WHERE id = $1`, id).Scan(&rawStatus)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First write for this session.
	case err != nil:
		return fmt.Errorf("load session %s: %w", id, err)
	default:
		current := catalog.Status(rawStatus)
		if status != current && !current.CanTransition(status) {
			return fmt.Errorf("session %s: %s -> %s: %w", id, current, status, catalog.ErrTerminalState)
		}
	}

	urls, err := marshalItems(pending)
	if err != nil {
		return fmt.Errorf("marshal pending urls: %w", err)
	}
	if _, err := s.pool.Exec(ctx, upsertSessionSQL, id, string(status), progress, urls, categoryName); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

const getSessionSQL = `
SELECT id, status, progress, product_urls, category_name, created_at, updated_at
FROM parse_sessions WHERE id = $1`

// GetSession loads one session row.
func (s *Store) GetSession(ctx context.Context, id string) (catalog.Session, error) {
	var (
		sess     catalog.Session
		status   string
		urlsJSON []byte
	)
	err := s.pool.QueryRow(ctx, getSessionSQL, id).Scan(
		&sess.ID, &status, &sess.Progress, &urlsJSON,
		&sess.CategoryName, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Session{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.Status = catalog.Status(status)
	if len(urlsJSON) > 0 {
		if err := json.Unmarshal(urlsJSON, &sess.PendingURLs); err != nil {
			return catalog.Session{}, fmt.Errorf("decode pending urls: %w", err)
		}
	}
	return sess, nil
}

func marshalItems(items []catalog.Item) ([]byte, error) {
	if items == nil {
		items = []catalog.Item{}
	}
	return json.Marshal(items)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func TestSessionStoreLifecycle(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(clock)
	ctx := context.Background()

	require.NoError(t, store.SaveStatus(ctx, "s1", catalog.StatusCollectingURLs, nil, "collecting_urls", "Wool"))

	created := clock.t
	clock.t = clock.t.Add(time.Minute)
	require.NoError(t, store.SaveStatus(ctx, "s1", catalog.StatusParsingProducts, nil, "parsing_products", "Wool"))

	sess, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, catalog.StatusParsingProducts, sess.Status)
	require.Equal(t, created, sess.CreatedAt)
	require.Equal(t, clock.t, sess.UpdatedAt)
}

func TestSessionStoreRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(nil)
	ctx := context.Background()

	require.NoError(t, store.SaveStatus(ctx, "s1", catalog.StatusComplete, nil, "done", ""))
	err := store.SaveStatus(ctx, "s1", catalog.StatusParsingProducts, nil, "parsing_products", "")
	require.ErrorIs(t, err, catalog.ErrTerminalState)
}

func TestSessionStoreSameStatusRefresh(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(nil)
	ctx := context.Background()

	require.NoError(t, store.SaveStatus(ctx, "s1", catalog.StatusParsingProducts, nil, "parsing_products 1/3", ""))
	require.NoError(t, store.SaveStatus(ctx, "s1", catalog.StatusParsingProducts, nil, "parsing_products 2/3", ""))

	sess, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "parsing_products 2/3", sess.Progress)
}

func TestSessionStoreUnknownID(t *testing.T) {
	t.Parallel()

	store := NewSessionStore(nil)
	_, err := store.GetSession(context.Background(), "nope")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestProductStoreUpsertIsIdempotentByURL(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	ctx := context.Background()

	id1, err := store.UpsertProduct(ctx, catalog.Product{URL: "https://shop.test/a", Title: "Alpaca"})
	require.NoError(t, err)
	id2, err := store.UpsertProduct(ctx, catalog.Product{URL: "https://shop.test/a", Title: "Alpaca DK"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	p, ok := store.Product("https://shop.test/a")
	require.True(t, ok)
	require.Equal(t, "Alpaca DK", p.Title)
}

func TestProductStoreRejectsSentinelTitle(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	_, err := store.UpsertProduct(context.Background(), catalog.Product{URL: "https://shop.test/a", Title: catalog.TitleNotFound})
	require.ErrorIs(t, err, catalog.ErrInvalidTitle)
}

func TestProductStoreVariantsKeyedNaturally(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	ctx := context.Background()

	id, err := store.UpsertProduct(ctx, catalog.Product{URL: "https://shop.test/a", Title: "Alpaca"})
	require.NoError(t, err)

	require.NoError(t, store.UpsertVariants(ctx, id, []catalog.Variant{
		{ArticleNumber: "1", VariantName: "Red", IsAvailable: true},
		{ArticleNumber: "2", VariantName: "Blue"},
	}))
	// Same natural key overwrites instead of duplicating.
	require.NoError(t, store.UpsertVariants(ctx, id, []catalog.Variant{
		{ArticleNumber: "1", VariantName: "Red", IsAvailable: false},
	}))
	require.Equal(t, 2, store.VariantCount(id))
}

func TestProductStoreVariantsUnknownProduct(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	err := store.UpsertVariants(context.Background(), 99, []catalog.Variant{{ArticleNumber: "1"}})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestProductStoreCleanupIncomplete(t *testing.T) {
	t.Parallel()

	store := NewProductStore()
	ctx := context.Background()

	done, err := store.UpsertProduct(ctx, catalog.Product{URL: "https://shop.test/done", Title: "Done", IsComplete: true})
	require.NoError(t, err)
	partial, err := store.UpsertProduct(ctx, catalog.Product{URL: "https://shop.test/partial", Title: "Partial"})
	require.NoError(t, err)
	require.NoError(t, store.UpsertVariants(ctx, partial, []catalog.Variant{{ArticleNumber: "1"}}))

	removed, err := store.CleanupIncomplete(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, ok := store.Product("https://shop.test/partial")
	require.False(t, ok)
	_, ok = store.Product("https://shop.test/done")
	require.True(t, ok)
	require.Zero(t, store.VariantCount(partial))
	require.Zero(t, store.VariantCount(done))
}

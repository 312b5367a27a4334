package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mahaon-tools/catalog-crawler/internal/cancel"
	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
	"github.com/mahaon-tools/catalog-crawler/internal/clock/system"
	"github.com/mahaon-tools/catalog-crawler/internal/id/uuid"
	"github.com/mahaon-tools/catalog-crawler/internal/metrics"
	"github.com/mahaon-tools/catalog-crawler/internal/orchestrator"
	"github.com/mahaon-tools/catalog-crawler/internal/storage/memory"
)

type stubFetcher struct{ pages map[string][]byte }

func (f *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	body, ok := f.pages[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return body, nil
}

// stubExtractor treats the whole page body as the product title.
type stubExtractor struct{}

func (stubExtractor) Extract(pageBody []byte, url, category string) *catalog.Record {
	return &catalog.Record{Product: catalog.Product{URL: url, Title: string(pageBody), Category: category}}
}

type stubSource struct{}

func (stubSource) ListCatalogs(context.Context) ([]catalog.CatalogRef, error) {
	return nil, nil
}

type stubWalker struct{ listing map[string][]string }

func (w *stubWalker) Walk(_ context.Context, startURL string, _, _ int, _ catalog.Token) []string {
	return w.listing[startURL]
}

type fixture struct {
	srv      *httptest.Server
	fetcher  *stubFetcher
	walker   *stubWalker
	products *memory.ProductStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fetcher := &stubFetcher{pages: map[string][]byte{}}
	walker := &stubWalker{listing: map[string][]string{}}
	sessions := memory.NewSessionStore(nil)
	products := memory.NewProductStore()

	registry := prometheus.NewRegistry()
	runner := orchestrator.NewRunner(orchestrator.RunnerDeps{
		Fetcher:   fetcher,
		Extractor: stubExtractor{},
		Source:    stubSource{},
		Walker:    walker,
		Sessions:  sessions,
		Products:  products,
		Clock:     system.New(),
		Metrics:   metrics.New(registry),
		Logger:    zap.NewNop(),
	}, orchestrator.Config{})

	svc := orchestrator.NewService(runner, sessions, cancel.NewRegistry(), uuid.New(), zap.NewNop())
	t.Cleanup(svc.Close)

	server := NewServer(svc, registry, zap.NewNop())
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, fetcher: fetcher, walker: walker, products: products}
}

func (fx *fixture) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]string) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(fx.srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (fx *fixture) status(t *testing.T, id string) (int, catalog.StatusInfo) {
	t.Helper()
	resp, err := http.Get(fx.srv.URL + "/v1/sessions/" + id + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info catalog.StatusInfo
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	}
	return resp.StatusCode, info
}

func (fx *fixture) waitForStatus(t *testing.T, id string, want catalog.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		code, info := fx.status(t, id)
		return code == http.StatusOK && info.Status == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	resp, err := http.Get(fx.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	resp, err := http.Get(fx.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartSingleItemSession(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.fetcher.pages["https://shop.test/products/a"] = []byte("Alpaca")

	resp, body := fx.postJSON(t, "/v1/sessions", map[string]any{
		"product_url": "https://shop.test/products/a",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, body["session_id"])
	require.Equal(t, "single_item", body["mode"])

	fx.waitForStatus(t, body["session_id"], catalog.StatusComplete)
	_, ok := fx.products.Product("https://shop.test/products/a")
	require.True(t, ok)
}

func TestStartSessionInvalidJSON(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	resp, err := http.Post(fx.srv.URL+"/v1/sessions", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartSessionNegativeLimits(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	resp, _ := fx.postJSON(t, "/v1/sessions", map[string]any{"max_pages": -1})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirmFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	urls := make([]string, 6)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://shop.test/products/%d", i)
		fx.fetcher.pages[urls[i]] = []byte(fmt.Sprintf("Yarn %d", i))
	}
	fx.walker.listing["https://shop.test/wool"] = urls

	resp, body := fx.postJSON(t, "/v1/sessions", map[string]any{
		"catalog_url": "https://shop.test/wool",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := body["session_id"]

	fx.waitForStatus(t, id, catalog.StatusAwaitingConfirm)
	_, info := fx.status(t, id)
	require.Equal(t, 6, info.PendingCount)

	resp, _ = fx.postJSON(t, "/v1/sessions/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fx.waitForStatus(t, id, catalog.StatusComplete)
}

func TestDeclineFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	urls := make([]string, 7)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://shop.test/products/%d", i)
	}
	fx.walker.listing["https://shop.test/wool"] = urls

	_, body := fx.postJSON(t, "/v1/sessions", map[string]any{"catalog_url": "https://shop.test/wool"})
	id := body["session_id"]
	fx.waitForStatus(t, id, catalog.StatusAwaitingConfirm)

	resp, _ := fx.postJSON(t, "/v1/sessions/"+id+"/decline", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fx.waitForStatus(t, id, catalog.StatusCanceled)
}

func TestConfirmConflictWhenNotGated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.fetcher.pages["https://shop.test/products/a"] = []byte("Alpaca")

	_, body := fx.postJSON(t, "/v1/sessions", map[string]any{"product_url": "https://shop.test/products/a"})
	id := body["session_id"]
	fx.waitForStatus(t, id, catalog.StatusComplete)

	resp, _ := fx.postJSON(t, "/v1/sessions/"+id+"/confirm", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelTerminalConflict(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.fetcher.pages["https://shop.test/products/a"] = []byte("Alpaca")

	_, body := fx.postJSON(t, "/v1/sessions", map[string]any{"product_url": "https://shop.test/products/a"})
	id := body["session_id"]
	fx.waitForStatus(t, id, catalog.StatusComplete)

	resp, _ := fx.postJSON(t, "/v1/sessions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownSessionIs404(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	code, _ := fx.status(t, "nope")
	require.Equal(t, http.StatusNotFound, code)

	resp, _ := fx.postJSON(t, "/v1/sessions/nope/cancel", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Package orchestrator drives crawl sessions: URL collection, the
// confirmation gate, the ingest loop and terminal-state bookkeeping.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
	"github.com/mahaon-tools/catalog-crawler/internal/metrics"
)

// CatalogWalker collects product URLs from one paginated catalog.
type CatalogWalker interface {
	Walk(ctx context.Context, startURL string, maxPages, maxProducts int, token catalog.Token) []string
}

// Config tunes run behavior.
type Config struct {
	// ConfirmThreshold pauses a run for confirmation when more than this
	// many items were collected. Zero means catalog.ConfirmThreshold.
	ConfirmThreshold int
	// ItemDelay is the politeness pause between consecutive item fetches.
	ItemDelay time.Duration
	// MaxPagesDefault caps catalog walks when a run does not set its own
	// page limit. Zero means unlimited.
	MaxPagesDefault int
	// EventTopic receives terminal-state session events when a publisher
	// is wired. Empty disables publishing.
	EventTopic string
	// ArchivePages stores fetched product pages in the archive when set.
	ArchivePages bool
}

func (c *Config) applyDefaults() {
	if c.ConfirmThreshold == 0 {
		c.ConfirmThreshold = catalog.ConfirmThreshold
	}
}

// Runner executes one session at a time from collection through terminal
// state. It owns no session registry; Service layers that on top.
type Runner struct {
	fetcher   catalog.Fetcher
	extractor catalog.Extractor
	source    catalog.CatalogSource
	walker    CatalogWalker
	sessions  catalog.SessionStore
	products  catalog.ProductStore
	archive   catalog.Archive
	publisher catalog.Publisher
	hasher    catalog.Hasher
	clock     catalog.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// RunnerDeps carries the runner's collaborators. Archive, publisher,
// hasher and metrics are optional.
type RunnerDeps struct {
	Fetcher   catalog.Fetcher
	Extractor catalog.Extractor
	Source    catalog.CatalogSource
	Walker    CatalogWalker
	Sessions  catalog.SessionStore
	Products  catalog.ProductStore
	Archive   catalog.Archive
	Publisher catalog.Publisher
	Hasher    catalog.Hasher
	Clock     catalog.Clock
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(deps RunnerDeps, cfg Config) *Runner {
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		source:    deps.Source,
		walker:    deps.Walker,
		sessions:  deps.Sessions,
		products:  deps.Products,
		archive:   deps.Archive,
		publisher: deps.Publisher,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Event is the payload published when a session reaches a terminal state.
type Event struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	ItemsSucceeded int       `json:"items_succeeded"`
	ItemsFailed    int       `json:"items_failed"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run executes a fresh session: collect URLs per the derived mode, stop
// at the confirmation gate when the batch is large, otherwise ingest to
// a terminal state. The returned report mirrors the final session row.
func (r *Runner) Run(ctx context.Context, sessionID string, params catalog.RunParams, token catalog.Token) catalog.Report {
	mode := params.Mode()
	log := r.logger.With(zap.String("session_id", sessionID), zap.String("mode", string(mode)))
	r.metrics.SessionStarted(string(mode))

	if err := r.sessions.SaveStatus(ctx, sessionID, catalog.StatusCollectingURLs, nil, catalog.ProgressCollectingURLs, params.Category); err != nil {
		log.Error("session start write failed", zap.Error(err))
		return r.fail(ctx, sessionID, params.Category, catalog.Counters{}, log)
	}

	items, err := r.collect(ctx, params, token, log)
	if err != nil {
		log.Error("url collection failed", zap.Error(err))
		return r.fail(ctx, sessionID, params.Category, catalog.Counters{}, log)
	}
	if token != nil && token.Canceled() {
		return r.cancel(ctx, sessionID, params.Category, catalog.Counters{}, log)
	}

	if len(items) > r.cfg.ConfirmThreshold {
		log.Info("confirmation gate engaged", zap.Int("items", len(items)), zap.Int("threshold", r.cfg.ConfirmThreshold))
		if err := r.sessions.SaveStatus(ctx, sessionID, catalog.StatusAwaitingConfirm, items, catalog.ProgressAwaitingConfirm, params.Category); err != nil {
			log.Error("gate write failed", zap.Error(err))
			return r.fail(ctx, sessionID, params.Category, catalog.Counters{}, log)
		}
		return catalog.Report{
			SessionID:    sessionID,
			Status:       catalog.StatusAwaitingConfirm,
			Awaiting:     true,
			PendingCount: len(items),
		}
	}

	return r.Ingest(ctx, sessionID, items, params.Category, token)
}

// Resume continues a confirmed session using its persisted pending URLs.
func (r *Runner) Resume(ctx context.Context, sessionID string, token catalog.Token) catalog.Report {
	log := r.logger.With(zap.String("session_id", sessionID))

	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.Error("pending session load failed", zap.Error(err))
		return r.fail(ctx, sessionID, "", catalog.Counters{}, log)
	}
	return r.Ingest(ctx, sessionID, sess.PendingURLs, sess.CategoryName, token)
}

// collect gathers items per the run mode. all_catalogs shares one
// product budget across every catalog, in listing order.
func (r *Runner) collect(ctx context.Context, params catalog.RunParams, token catalog.Token, log *zap.Logger) ([]catalog.Item, error) {
	if params.MaxPages == 0 {
		params.MaxPages = r.cfg.MaxPagesDefault
	}
	switch params.Mode() {
	case catalog.ModeSingleItem:
		return []catalog.Item{catalog.NewItem(params.ProductURL, params.Category)}, nil

	case catalog.ModeOneCatalog:
		r.metrics.CatalogWalked()
		urls := r.walker.Walk(ctx, params.CatalogURL, params.MaxPages, params.MaxProducts, token)
		items := make([]catalog.Item, 0, len(urls))
		for _, u := range urls {
			items = append(items, catalog.NewItem(u, params.Category))
		}
		return items, nil

	default:
		refs, err := r.source.ListCatalogs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list catalogs: %w", err)
		}
		var items []catalog.Item
		for _, ref := range refs {
			if token != nil && token.Canceled() {
				break
			}
			remaining := 0
			if params.MaxProducts > 0 {
				remaining = params.MaxProducts - len(items)
				if remaining <= 0 {
					break
				}
			}
			r.metrics.CatalogWalked()
			urls := r.walker.Walk(ctx, ref.URL, params.MaxPages, remaining, token)
			log.Info("catalog walked", zap.String("catalog", ref.Name), zap.Int("urls", len(urls)))
			for _, u := range urls {
				items = append(items, catalog.NewItem(u, ref.Name))
			}
		}
		return items, nil
	}
}

// Ingest processes items sequentially: cancel checkpoint, politeness
// delay, fetch, extract, store. Individual item failures are counted and
// skipped; the run still completes. An empty batch completes at once.
func (r *Runner) Ingest(ctx context.Context, sessionID string, items []catalog.Item, categoryName string, token catalog.Token) catalog.Report {
	log := r.logger.With(zap.String("session_id", sessionID))
	counters := catalog.Counters{}

	if err := r.sessions.SaveStatus(ctx, sessionID, catalog.StatusParsingProducts, nil, catalog.ProgressParsingProducts, categoryName); err != nil {
		log.Error("ingest start write failed", zap.Error(err))
		return r.fail(ctx, sessionID, categoryName, counters, log)
	}

	for i, item := range items {
		if token != nil && token.Canceled() {
			log.Warn("ingest canceled", zap.Int("processed", i), zap.Int("total", len(items)))
			return r.cancel(ctx, sessionID, categoryName, counters, log)
		}
		if i > 0 && r.cfg.ItemDelay > 0 {
			select {
			case <-time.After(r.cfg.ItemDelay):
			case <-ctx.Done():
				return r.cancel(ctx, sessionID, categoryName, counters, log)
			}
		}

		progress := fmt.Sprintf("%s %d/%d", catalog.ProgressParsingProducts, i+1, len(items))
		if err := r.sessions.SaveStatus(ctx, sessionID, catalog.StatusParsingProducts, nil, progress, categoryName); err != nil {
			log.Warn("progress write failed", zap.Error(err))
		}

		if err := r.ingestOne(ctx, sessionID, item, log); err != nil {
			log.Warn("item failed", zap.String("url", item.URL), zap.Error(err))
			counters.ItemsFailed++
			r.metrics.ItemFailed()
			continue
		}
		counters.ItemsSucceeded++
		r.metrics.ItemIngested()
	}

	if err := r.sessions.SaveStatus(ctx, sessionID, catalog.StatusComplete, nil, catalog.ProgressDone, categoryName); err != nil {
		log.Error("completion write failed", zap.Error(err))
		return r.fail(ctx, sessionID, categoryName, counters, log)
	}
	r.metrics.SessionFinished(string(catalog.StatusComplete))
	r.publishEvent(ctx, sessionID, catalog.StatusComplete, counters, log)
	log.Info("session complete",
		zap.Int("succeeded", counters.ItemsSucceeded),
		zap.Int("failed", counters.ItemsFailed),
	)
	return catalog.Report{SessionID: sessionID, Status: catalog.StatusComplete, Counters: counters}
}

func (r *Runner) ingestOne(ctx context.Context, sessionID string, item catalog.Item, log *zap.Logger) error {
	body, err := r.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	r.archivePage(ctx, sessionID, body, log)

	rec := r.extractor.Extract(body, item.URL, item.Category)
	if rec == nil {
		return fmt.Errorf("extract %s: unparsable page", item.URL)
	}

	now := r.clock.Now()
	rec.Product.LastUpdated = now
	rec.Product.IsComplete = true

	productID, err := r.products.UpsertProduct(ctx, rec.Product)
	if err != nil {
		return fmt.Errorf("store product: %w", err)
	}
	for i := range rec.Variants {
		rec.Variants[i].ProductID = productID
		rec.Variants[i].LastUpdated = now
		rec.Variants[i].IsComplete = true
	}
	if err := r.products.UpsertVariants(ctx, productID, rec.Variants); err != nil {
		return fmt.Errorf("store variants: %w", err)
	}
	return nil
}

// archivePage is best-effort: archive failures never fail the item.
func (r *Runner) archivePage(ctx context.Context, sessionID string, body []byte, log *zap.Logger) {
	if !r.cfg.ArchivePages || r.archive == nil || r.hasher == nil {
		return
	}
	digest, err := r.hasher.Hash(body)
	if err != nil {
		log.Warn("page digest failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("sessions/%s/%s.html", sessionID, digest)
	if _, err := r.archive.PutObject(ctx, path, "text/html", body); err != nil {
		log.Warn("page archive failed", zap.String("path", path), zap.Error(err))
	}
}

func (r *Runner) cancel(ctx context.Context, sessionID, categoryName string, counters catalog.Counters, log *zap.Logger) catalog.Report {
	return r.finishAbnormally(ctx, sessionID, categoryName, catalog.StatusCanceled, counters, log)
}

func (r *Runner) fail(ctx context.Context, sessionID, categoryName string, counters catalog.Counters, log *zap.Logger) catalog.Report {
	return r.finishAbnormally(ctx, sessionID, categoryName, catalog.StatusError, counters, log)
}

// finishAbnormally records the terminal state and removes partial rows
// left by an interrupted ingest.
func (r *Runner) finishAbnormally(ctx context.Context, sessionID, categoryName string, status catalog.Status, counters catalog.Counters, log *zap.Logger) catalog.Report {
	if err := r.sessions.SaveStatus(ctx, sessionID, status, nil, string(status), categoryName); err != nil {
		log.Error("terminal status write failed", zap.String("status", string(status)), zap.Error(err))
	}
	if removed, err := r.products.CleanupIncomplete(ctx); err != nil {
		log.Error("incomplete row cleanup failed", zap.Error(err))
	} else if removed > 0 {
		log.Info("incomplete rows removed", zap.Int64("count", removed))
	}
	r.metrics.SessionFinished(string(status))
	r.publishEvent(ctx, sessionID, status, counters, log)
	return catalog.Report{SessionID: sessionID, Status: status, Counters: counters}
}

func (r *Runner) publishEvent(ctx context.Context, sessionID string, status catalog.Status, counters catalog.Counters, log *zap.Logger) {
	if r.publisher == nil || r.cfg.EventTopic == "" {
		return
	}
	evt := Event{
		SessionID:      sessionID,
		Status:         string(status),
		ItemsSucceeded: counters.ItemsSucceeded,
		ItemsFailed:    counters.ItemsFailed,
	}
	if r.clock != nil {
		evt.FinishedAt = r.clock.Now()
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.EventTopic, evt); err != nil {
		log.Warn("session event publish failed", zap.Error(err))
	}
}

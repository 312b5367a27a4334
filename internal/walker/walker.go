// Package walker implements paginated catalog traversal: one catalog URL
// in, an ordered list of unique product URLs out.
package walker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
)

// Config controls listing selectors.
type Config struct {
	// TableSelector locates the listing table. When it matches nothing
	// the walker falls back to the first table on the page.
	TableSelector string
	// RowLinkSelector locates the product link inside a listing row.
	RowLinkSelector string
	// NextSelector locates the "next page" control.
	NextSelector string
}

func (c *Config) applyDefaults() {
	if c.TableSelector == "" {
		c.TableSelector = "table.views-table"
	}
	if c.RowLinkSelector == "" {
		c.RowLinkSelector = "td.views-field-title a[href]"
	}
	if c.NextSelector == "" {
		c.NextSelector = "li.pager-next a[href]"
	}
}

// Walker follows pagination links and collects product URLs.
type Walker struct {
	fetcher catalog.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Walker.
func New(fetcher catalog.Fetcher, cfg Config, logger *zap.Logger) *Walker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Walk traverses catalog pages starting at startURL until the page limit,
// the product limit, a set cancellation token, or the end of pagination.
// Fetch and parse failures end the walk without failing it: whatever was
// collected so far is returned. Zero results is a valid outcome.
//
// maxPages and maxProducts are ignored when <= 0. Duplicate URLs are
// dropped and do not count against maxProducts.
func (w *Walker) Walk(ctx context.Context, startURL string, maxPages, maxProducts int, token catalog.Token) []string {
	var urls []string
	seen := make(map[string]struct{})
	pageURL := startURL
	pages := 0

	for pageURL != "" {
		if maxPages > 0 && pages >= maxPages {
			w.logger.Info("page limit reached", zap.Int("max_pages", maxPages))
			break
		}
		if token != nil && token.Canceled() {
			w.logger.Warn("walk canceled", zap.String("page_url", pageURL))
			break
		}

		body, err := w.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			w.logger.Error("catalog page fetch failed", zap.String("page_url", pageURL), zap.Error(err))
			break
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			w.logger.Error("catalog page parse failed", zap.String("page_url", pageURL), zap.Error(err))
			break
		}

		rows := w.listingRows(doc)
		if rows == nil || rows.Length() == 0 {
			w.logger.Warn("no listing rows found", zap.String("page_url", pageURL))
			break
		}

		limitHit := false
		rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
			href, ok := row.Find(w.cfg.RowLinkSelector).First().Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return true
			}
			productURL, err := resolveURL(pageURL, href)
			if err != nil {
				w.logger.Warn("unresolvable product link", zap.String("href", href), zap.Error(err))
				return true
			}
			if _, dup := seen[productURL]; dup {
				return true
			}
			seen[productURL] = struct{}{}
			urls = append(urls, productURL)
			if maxProducts > 0 && len(urls) >= maxProducts {
				limitHit = true
				return false
			}
			return true
		})
		if limitHit {
			w.logger.Info("product limit reached", zap.Int("max_products", maxProducts))
			return urls
		}

		pages++
		pageURL = w.nextPageURL(doc, pageURL)
	}

	w.logger.Debug("walk finished",
		zap.String("start_url", startURL),
		zap.Int("pages", pages),
		zap.Int("urls", len(urls)),
	)
	return urls
}

func (w *Walker) listingRows(doc *goquery.Document) *goquery.Selection {
	table := doc.Find(w.cfg.TableSelector).First()
	if table.Length() == 0 {
		table = doc.Find("table").First()
	}
	if table.Length() == 0 {
		return nil
	}
	return table.Find("tbody tr")
}

func (w *Walker) nextPageURL(doc *goquery.Document, pageURL string) string {
	href, ok := doc.Find(w.cfg.NextSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	next, err := resolveURL(pageURL, href)
	if err != nil {
		w.logger.Warn("unparsable next-page link", zap.String("href", href), zap.Error(err))
		return ""
	}
	return next
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

// Package extractor parses product pages and the site category menu into
// catalog records. Selectors target the shop's server-rendered markup and
// are configurable for layout drift.
package extractor

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

// Config holds the page selectors and the label text of the flexible
// specification rows.
type Config struct {
	TitleSelector      string
	PriceSelector      string
	CompositionLabel   string
	SkeinWeightLabel   string
	SkeinLengthLabel   string
	PackageWeightLabel string
	ImageSelector      string
	SamplesSelector    string
	// UnavailableMarker is the text of the out-of-stock badge.
	UnavailableMarker string
}

func (c *Config) applyDefaults() {
	if c.TitleSelector == "" {
		c.TitleSelector = "h1.page-title"
	}
	if c.PriceSelector == "" {
		c.PriceSelector = "span.price"
	}
	if c.CompositionLabel == "" {
		c.CompositionLabel = "Состав"
	}
	if c.SkeinWeightLabel == "" {
		c.SkeinWeightLabel = "Вес мотка"
	}
	if c.SkeinLengthLabel == "" {
		c.SkeinLengthLabel = "Длина мотка"
	}
	if c.PackageWeightLabel == "" {
		c.PackageWeightLabel = "Вес упаковки"
	}
	if c.ImageSelector == "" {
		c.ImageSelector = "div.field-field-yarn-foto a[href]"
	}
	if c.SamplesSelector == "" {
		c.SamplesSelector = "div#samples div.sample"
	}
	if c.UnavailableMarker == "" {
		c.UnavailableMarker = "(нет)"
	}
}

// Extractor implements catalog.Extractor over goquery.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract parses a product page into a Record. Unparsable input yields
// nil; a page without a title yields a record carrying the sentinel
// title, which the storage gateway rejects.
func (e *Extractor) Extract(pageBody []byte, pageURL, category string) *catalog.Record {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageBody))
	if err != nil {
		e.logger.Warn("product page parse failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}

	product := catalog.Product{
		URL:           pageURL,
		Title:         textOrSentinel(doc.Find(e.cfg.TitleSelector).First()),
		Price:         textOrSentinel(doc.Find(e.cfg.PriceSelector).First()),
		Composition:   e.flexibleField(doc, e.cfg.CompositionLabel),
		SkeinWeight:   e.flexibleField(doc, e.cfg.SkeinWeightLabel),
		SkeinLength:   e.flexibleField(doc, e.cfg.SkeinLengthLabel),
		PackageWeight: e.flexibleField(doc, e.cfg.PackageWeightLabel),
		Category:      category,
		ImageURL:      e.mainImage(doc, pageURL),
	}

	return &catalog.Record{
		Product:  product,
		Variants: e.variants(doc, pageURL),
	}
}

// flexibleField finds a labelled specification row. The site renders two
// shapes: a block label next to a field-item, or an inline label whose
// value is the rest of the parent's text.
func (e *Extractor) flexibleField(doc *goquery.Document, label string) string {
	result := catalog.TitleNotFound
	doc.Find("div.field").EachWithBreak(func(_ int, field *goquery.Selection) bool {
		blockLabel := field.Find("div.field-label").First()
		if blockLabel.Length() > 0 && strings.Contains(blockLabel.Text(), label) {
			if item := field.Find("div.field-item").First(); item.Length() > 0 {
				result = strings.TrimSpace(item.Text())
				return false
			}
		}
		inline := field.Find("div.field-label-inline-first").First()
		if inline.Length() > 0 && strings.Contains(inline.Text(), label) {
			parent := inline.Parent()
			full := strings.TrimSpace(parent.Text())
			result = strings.TrimSpace(strings.Replace(full, strings.TrimSpace(inline.Text()), "", 1))
			return false
		}
		return true
	})
	return result
}

func (e *Extractor) mainImage(doc *goquery.Document, pageURL string) string {
	href, ok := doc.Find(e.cfg.ImageSelector).First().Attr("href")
	if !ok {
		return ""
	}
	return absoluteURL(pageURL, href)
}

func (e *Extractor) variants(doc *goquery.Document, pageURL string) []catalog.Variant {
	var variants []catalog.Variant
	doc.Find(e.cfg.SamplesSelector).Each(func(_ int, sample *goquery.Selection) {
		articleNumber := textOrSentinel(sample.Find("span.sample-number").First())
		variantName := textOrSentinel(sample.Find("span.sample-name").First())

		hasCartLink := sample.Find("div.add-cart-link").Length() > 0
		noExist := strings.TrimSpace(sample.Find("div.no-exist").First().Text())
		isAvailable := hasCartLink && noExist != e.cfg.UnavailableMarker

		imageURL := ""
		if href, ok := sample.Find("div.sample-img a[href]").First().Attr("href"); ok {
			imageURL = absoluteURL(pageURL, href)
		}

		variants = append(variants, catalog.Variant{
			ArticleNumber: articleNumber,
			VariantName:   variantName,
			IsAvailable:   isAvailable,
			ImageURL:      imageURL,
		})
	})
	return variants
}

func textOrSentinel(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return catalog.TitleNotFound
	}
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return catalog.TitleNotFound
	}
	return text
}

func absoluteURL(base, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// SourceConfig controls category discovery from the site front page.
type SourceConfig struct {
	BaseURL      string
	MenuSelector string
}

func (c *SourceConfig) applyDefaults() {
	if c.MenuSelector == "" {
		c.MenuSelector = "div#block-block-4 ul.catalog-menu > li"
	}
}

// Source discovers the site's catalogs for all_catalogs mode.
type Source struct {
	fetcher catalog.Fetcher
	cfg     SourceConfig
	logger  *zap.Logger
}

// NewSource constructs a Source.
func NewSource(fetcher catalog.Fetcher, cfg SourceConfig, logger *zap.Logger) *Source {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{fetcher: fetcher, cfg: cfg, logger: logger}
}

// ListCatalogs fetches the front page and returns the catalog menu
// entries. Hidden entries are skipped.
func (s *Source) ListCatalogs(ctx context.Context) ([]catalog.CatalogRef, error) {
	body, err := s.fetcher.Fetch(ctx, s.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch front page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse front page: %w", err)
	}

	var refs []catalog.CatalogRef
	doc.Find(s.cfg.MenuSelector).Each(func(_ int, li *goquery.Selection) {
		if li.HasClass("hide") {
			return
		}
		link := li.Find("a[href]").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		refs = append(refs, catalog.CatalogRef{
			Name: strings.TrimSpace(link.Text()),
			URL:  absoluteURL(s.cfg.BaseURL, href),
		})
	})
	if len(refs) == 0 {
		s.logger.Warn("no catalogs found on front page", zap.String("base_url", s.cfg.BaseURL))
	}
	return refs, nil
}

// Package catalog defines core types shared across subsystems.
package catalog

import "time"

// TitleNotFound is the sentinel an extractor returns when a product page
// carries no recognizable title. The storage gateway refuses to persist it.
const TitleNotFound = "not found"

// ConfirmThreshold is the number of discovered items above which a run
// pauses for operator confirmation before any write happens.
const ConfirmThreshold = 5

// Item is one discovered product URL together with the category it was
// discovered under. A bare URL takes the run's default category.
type Item struct {
	URL      string `json:"url"`
	Category string `json:"category"`
}

// NewItem builds an Item with the run's default category.
func NewItem(url, defaultCategory string) Item {
	return Item{URL: url, Category: defaultCategory}
}

// Mode selects what a run crawls.
type Mode string

// Run modes, in input-precedence order.
const (
	ModeSingleItem  Mode = "single_item"
	ModeOneCatalog  Mode = "one_catalog"
	ModeAllCatalogs Mode = "all_catalogs"
)

// RunParams captures the inputs of one crawl run. Mode is derived from
// which targets are set: an explicit product URL wins over a catalog URL,
// and neither means "walk every known catalog".
type RunParams struct {
	ProductURL  string `json:"product_url,omitempty"`
	CatalogURL  string `json:"catalog_url,omitempty"`
	Category    string `json:"category,omitempty"`
	MaxPages    int    `json:"max_pages,omitempty"`
	MaxProducts int    `json:"max_products,omitempty"`
}

// Mode derives the run mode from the populated targets.
func (p RunParams) Mode() Mode {
	switch {
	case p.ProductURL != "":
		return ModeSingleItem
	case p.CatalogURL != "":
		return ModeOneCatalog
	default:
		return ModeAllCatalogs
	}
}

// Session is the persisted record of one crawl run.
type Session struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	Progress     string    `json:"progress"`
	PendingURLs  []Item    `json:"pending_urls,omitempty"`
	CategoryName string    `json:"category_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Advisory progress labels stored alongside the status.
const (
	ProgressCollectingURLs  = "collecting_urls"
	ProgressAwaitingConfirm = "awaiting_confirmation"
	ProgressParsingProducts = "parsing_products"
	ProgressDone            = "done"
)

// Product is a catalog item, keyed by its canonical source URL.
type Product struct {
	ID            int64     `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Price         string    `json:"price"`
	Composition   string    `json:"composition"`
	SkeinWeight   string    `json:"skein_weight"`
	SkeinLength   string    `json:"skein_length"`
	PackageWeight string    `json:"package_weight"`
	Category      string    `json:"category"`
	ImageURL      string    `json:"image_url,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
	IsComplete    bool      `json:"is_complete"`
}

// Variant belongs to exactly one Product. (product, article number,
// variant name) is the natural key; deleting the product removes it.
type Variant struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	ArticleNumber string    `json:"article_number"`
	VariantName   string    `json:"variant_name"`
	IsAvailable   bool      `json:"is_available"`
	ImageURL      string    `json:"image_url,omitempty"`
	LastUpdated   time.Time `json:"last_updated"`
	IsComplete    bool      `json:"is_complete"`
}

// Record is an extracted product together with its variants, ready for
// the storage gateway.
type Record struct {
	Product  Product
	Variants []Variant
}

// CatalogRef names one known catalog for all_catalogs mode.
type CatalogRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Counters tracks per-run ingest outcomes.
type Counters struct {
	ItemsSucceeded int `json:"items_succeeded"`
	ItemsFailed    int `json:"items_failed"`
}

// Report summarizes a finished (or gated) run.
type Report struct {
	SessionID string   `json:"session_id"`
	Status    Status   `json:"status"`
	Counters  Counters `json:"counters"`
	// Awaiting is true when the run stopped at the confirmation gate
	// without processing anything.
	Awaiting     bool `json:"awaiting,omitempty"`
	PendingCount int  `json:"pending_count,omitempty"`
}

// StatusInfo is the poller-facing view of a session.
type StatusInfo struct {
	SessionID    string `json:"session_id"`
	Status       Status `json:"status"`
	PendingCount int    `json:"pending_count"`
	Progress     string `json:"progress"`
}

// internal/scrape/adapter.go
package scrape

import (
	"context"
	"regexp"

	"github.com/order-archivers/harvest/pkg/models"
)

// Page is the narrow browser surface handed to adapters. It is satisfied by
// *browser.Session and by test fakes; adapters never hold the session
// directly, the orchestrator does.
type Page interface {
	Visit(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	OuterHTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, value string) error
	WaitVisible(ctx context.Context, selector string) error
	RemoveElements(ctx context.Context, selectors ...string) error
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	PrintToPDF(ctx context.Context) ([]byte, error)
	OpenTab(ctx context.Context) error
	CloseTab() error
}

// ShopAdapter carries everything site-specific: URL templates, the login
// redirect pattern, and the DOM parsing rules. The orchestrator owns the
// pipeline; adapters are plain strategy objects composed into it.
type ShopAdapter interface {
	// Name is the shop identifier used for the cache root and config lookup.
	Name() string

	// OrderListURL is the page listing the account's order history.
	OrderListURL() string
	// OrderURL returns the detail page URL for one order.
	OrderURL(orderID string) string
	// ItemURL returns the live listing URL for one item.
	ItemURL(itemID string) string

	// LoginURLPattern matches URLs the site redirects to when a login is
	// required. May be nil for sites that never bounce to a login page.
	LoginURLPattern() *regexp.Regexp

	// ParseOrderList extracts order summaries from the list page markup.
	// A row that cannot be parsed into id+date is an error, not a skip.
	ParseOrderList(markup string) ([]models.OrderSummary, error)

	// ParseOrderDetail fills the order (price breakdown, items) from the
	// detail page markup.
	ParseOrderDetail(markup string, order *models.Order) error
}

// LoginCapable adapters drive automatic credential entry. Adapters without
// it rely on manual operator login through the intervention gate.
type LoginCapable interface {
	Login(ctx context.Context, page Page, intendedURL string) error
}

// InterruptCapable adapters know how to dismiss their site's interstitials
// (consent banners, country pickers). The returned bool reports whether the
// page is clean; false with a nil error escalates to the operator.
type InterruptCapable interface {
	DismissInterrupts(ctx context.Context, page Page, currentURL string) (bool, error)
}

// TrackingCapable adapters expose a shipping-tracking page per order.
type TrackingCapable interface {
	// TrackingURL returns the tracking page URL, or false when this order
	// has no tracking data.
	TrackingURL(order *models.Order) (string, bool)
}

// Download describes one externally-produced file for an order. The browser
// writes it to the download directory under a name of its own choosing, so
// completion is detected by glob match plus size stability rather than a
// callback.
type Download struct {
	// Name labels the attachment in the order record ("Invoice").
	Name string
	// Glob matches the file the browser will drop in the download dir.
	Glob string
	// Trigger starts the download, typically by clicking a link. It runs
	// with the order detail page current.
	Trigger func(ctx context.Context, page Page) error
}

// DownloadCapable adapters produce per-order file downloads (invoices,
// receipts) through the browser's own download machinery.
type DownloadCapable interface {
	OrderDownloads(order *models.Order) []Download
}

// ThumbnailCapable adapters name the product-image element on the item page.
// It is screenshotted as the thumbnail for items whose order line carried no
// image URL of its own.
type ThumbnailCapable interface {
	ThumbnailSelector() string
}

// SnapshotCapable adapters customize item snapshot capture.
type SnapshotCapable interface {
	// CleanupSelectors lists overlay elements to strip from the live DOM
	// before the capture would bake them into the artifact.
	CleanupSelectors() []string
	// ItemRemoved reports whether the markup shows a dead listing
	// ("this item is no longer available").
	ItemRemoved(markup string) bool
}

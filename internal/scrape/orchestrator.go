// internal/scrape/orchestrator.go
package scrape

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/order-archivers/harvest/internal/artifact"
	"github.com/order-archivers/harvest/internal/browser"
	"github.com/order-archivers/harvest/internal/downloader"
	"github.com/order-archivers/harvest/internal/pace"
	"github.com/order-archivers/harvest/internal/retry"
	"github.com/order-archivers/harvest/pkg/models"
)

// thumbnailExts are the extensions a cached thumbnail may have been written
// under; the actual one depends on what the CDN served last time.
var thumbnailExts = []string{"png", "jpg", "gif", "webp"}

// ImageFetcher downloads an image and reports the extension matching its
// actual content. Satisfied by *downloader.Fetcher.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, string, error)
}

// Orchestrator runs the per-shop scrape pipeline: order list, filter, order
// detail, per-item media. Every stage checks the artifact store first and
// performs zero navigations when its artifact is already cached.
type Orchestrator struct {
	Adapter ShopAdapter
	Page    Page
	Store   *artifact.Store

	// Optional collaborators. A nil Pacer skips pacing, a nil Login skips
	// redirect detection, a nil Fetcher skips thumbnail downloads.
	Pacer   *pace.Pacer
	Login   *browser.Detector
	Fetcher ImageFetcher
	Retry   retry.Config
	// Waiter detects completion of externally-written downloads. Nil uses
	// artifact.DefaultWaiter.
	Waiter *artifact.StableWaiter

	// Force re-scrapes stages whose artifacts are already cached.
	Force bool
	// UseCachedList loads the order list from cache without visiting the
	// site; a missing cached list is then an error.
	UseCachedList bool
	Filter        Filter
}

// Run executes the pipeline and returns the finalized orders in list order.
// Per-order failures are logged and skipped; structural failures (an order
// list that no longer parses) abort the run.
func (o *Orchestrator) Run(ctx context.Context) ([]*models.Order, error) {
	summaries, err := o.fetchOrderList(ctx)
	if err != nil {
		return nil, err
	}

	selected := o.Filter.Apply(summaries)

	var orders []*models.Order
	for _, summary := range selected {
		if err := ctx.Err(); err != nil {
			return orders, err
		}
		order, err := o.scrapeOrder(ctx, summary)
		if err != nil {
			if IsStructural(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return orders, err
			}
			log.Error().Err(err).Str("order", summary.ID).Msg("Order scrape failed, continuing with next order")
			continue
		}
		orders = append(orders, order)
	}
	log.Info().Int("orders", len(orders)).Str("shop", o.Adapter.Name()).Msg("Scrape run finished")
	return orders, nil
}

// navigate visits url through the pacer and the login/interrupt detector.
func (o *Orchestrator) navigate(ctx context.Context, url string) error {
	if o.Pacer != nil {
		if err := o.Pacer.Wait(ctx); err != nil {
			return err
		}
	}
	if err := o.Page.Visit(ctx, url); err != nil {
		return err
	}
	if o.Login != nil {
		return o.Login.Ensure(ctx, o.Page, url)
	}
	return nil
}

// fetchOrderList loads the order list markup from cache or from the site and
// parses it. An unparseable list is structural: every later stage depends on
// it, and a silent mis-parse would corrupt the cache.
func (o *Orchestrator) fetchOrderList(ctx context.Context) ([]models.OrderSummary, error) {
	key := artifact.ListKey("html")
	cached := o.Store.Exists(key)

	var markup string
	switch {
	case cached && (!o.Force || o.UseCachedList):
		log.Info().Msg("Using cached order list")
		text, err := o.Store.ReadText(key)
		if err != nil {
			return nil, newError(ErrCodeCache, "reading cached order list", err).structural()
		}
		markup = text
	case o.UseCachedList:
		return nil, newError(ErrCodeListFetch, "cached order list requested", ErrNoCachedList).structural()
	default:
		log.Info().Str("url", o.Adapter.OrderListURL()).Msg("Fetching order list")
		if err := o.navigate(ctx, o.Adapter.OrderListURL()); err != nil {
			return nil, newError(ErrCodeListFetch, "visiting order list", err).structural()
		}
		text, err := o.Page.OuterHTML(ctx)
		if err != nil {
			return nil, newError(ErrCodeListFetch, "capturing order list", err).structural()
		}
		if _, err := o.Store.WriteHTML(key, text); err != nil {
			return nil, newError(ErrCodeCache, "caching order list", err).structural()
		}
		markup = text
	}

	summaries, err := o.Adapter.ParseOrderList(markup)
	if err != nil {
		return nil, newError(ErrCodeListParse, "parsing order list", err).structural()
	}
	log.Info().Int("orders", len(summaries)).Msg("Order list parsed")
	return summaries, nil
}

// scrapeOrder runs the detail, tracking and media stages for one order and
// finalizes it by writing the order JSON. A cached order JSON short-circuits
// the whole order: the JSON is written last, so its presence means every
// stage below it completed.
func (o *Orchestrator) scrapeOrder(ctx context.Context, summary models.OrderSummary) (*models.Order, error) {
	jsonKey := artifact.OrderKey(summary.ID, "json")
	if o.Store.Exists(jsonKey) && !o.Force {
		var order models.Order
		if err := o.Store.ReadJSON(jsonKey, &order); err != nil {
			return nil, newError(ErrCodeCache, "reading cached order", err).withOrder(summary.ID)
		}
		log.Debug().Str("order", summary.ID).Msg("Order already scraped")
		return &order, nil
	}

	order := &models.Order{
		ID:     summary.ID,
		Date:   summary.Date,
		Status: summary.Status,
		Total:  summary.Total,
		Items:  make(map[string]*models.Item),
	}

	markup, err := o.fetchOrderDetail(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := o.Adapter.ParseOrderDetail(markup, order); err != nil {
		return nil, newError(ErrCodeDetailParse, "parsing order detail", err).withOrder(order.ID)
	}

	// Downloads click elements on the detail page, so they run before any
	// stage that navigates away from it.
	if err := o.captureDownloads(ctx, order); err != nil {
		return nil, err
	}

	if err := o.captureTracking(ctx, order); err != nil {
		// Tracking is best-effort; the order itself is still good.
		log.Warn().Err(err).Str("order", order.ID).Msg("Tracking capture failed")
	}

	if err := o.captureItemMedia(ctx, order); err != nil {
		return nil, err
	}

	order.ScrapedAt = time.Now().UTC()
	if _, err := o.Store.WriteJSON(jsonKey, order); err != nil {
		return nil, newError(ErrCodeCache, "writing order", err).withOrder(order.ID)
	}
	log.Info().Str("order", order.ID).Int("items", len(order.Items)).Msg("Order scraped")
	return order, nil
}

func (o *Orchestrator) fetchOrderDetail(ctx context.Context, order *models.Order) (string, error) {
	key := artifact.OrderKey(order.ID, "html")
	order.CacheFile = o.relFor(key)

	if o.Store.Exists(key) && !o.Force {
		markup, err := o.Store.ReadText(key)
		if err != nil {
			return "", newError(ErrCodeCache, "reading cached order detail", err).withOrder(order.ID)
		}
		return markup, nil
	}

	log.Debug().Str("order", order.ID).Msg("Fetching order detail")
	if err := o.navigate(ctx, o.Adapter.OrderURL(order.ID)); err != nil {
		return "", newError(ErrCodeDetailFetch, "visiting order detail", err).withOrder(order.ID)
	}
	markup, err := o.Page.OuterHTML(ctx)
	if err != nil {
		return "", newError(ErrCodeDetailFetch, "capturing order detail", err).withOrder(order.ID)
	}
	if _, err := o.Store.WriteHTML(key, markup); err != nil {
		return "", newError(ErrCodeCache, "caching order detail", err).withOrder(order.ID)
	}
	return markup, nil
}

func (o *Orchestrator) captureTracking(ctx context.Context, order *models.Order) error {
	tc, ok := o.Adapter.(TrackingCapable)
	if !ok {
		return nil
	}
	url, ok := tc.TrackingURL(order)
	if !ok {
		return nil
	}

	key := artifact.TrackingKey(order.ID)
	if !o.Store.Exists(key) || o.Force {
		if err := o.navigate(ctx, url); err != nil {
			return newError(ErrCodeTracking, "visiting tracking page", err).withOrder(order.ID)
		}
		markup, err := o.Page.OuterHTML(ctx)
		if err != nil {
			return newError(ErrCodeTracking, "capturing tracking page", err).withOrder(order.ID)
		}
		if _, err := o.Store.WriteHTML(key, markup); err != nil {
			return newError(ErrCodeCache, "caching tracking page", err).withOrder(order.ID)
		}
	}
	order.TrackingCacheFile = o.relFor(key)
	return nil
}

// downloadPolls bounds the glob wait for a triggered download at roughly one
// minute with the default poll interval.
const downloadPolls = 60

// captureDownloads triggers the adapter's per-order file downloads and waits
// for each to land and stabilize in the download directory before moving it
// into the order's cache directory.
func (o *Orchestrator) captureDownloads(ctx context.Context, order *models.Order) error {
	dc, ok := o.Adapter.(DownloadCapable)
	if !ok {
		return nil
	}
	downloads := dc.OrderDownloads(order)
	if len(downloads) == 0 {
		return nil
	}
	waiter := o.Waiter
	if waiter == nil {
		waiter = artifact.DefaultWaiter()
	}

	onDetailPage := false
	for _, dl := range downloads {
		key := artifact.AttachmentKey(order.ID, attachmentSlug(dl.Name), globExt(dl.Glob))
		if key.Validate() == nil && o.Store.Exists(key) && !o.Force {
			o.recordAttachment(order, dl.Name, key)
			continue
		}

		// The detail markup may have come from cache, in which case the
		// browser is not on the page the trigger needs.
		if !onDetailPage {
			if err := o.navigate(ctx, o.Adapter.OrderURL(order.ID)); err != nil {
				return newError(ErrCodeMedia, "returning to order detail for downloads", err).withOrder(order.ID)
			}
			onDetailPage = true
		}
		// The glob wait must not match leftovers from an earlier download.
		if err := o.Store.ClearTemp(); err != nil {
			return newError(ErrCodeCache, "clearing download dir", err).withOrder(order.ID)
		}
		if err := dl.Trigger(ctx, o.Page); err != nil {
			return newError(ErrCodeMedia, "triggering download "+dl.Name, err).withOrder(order.ID)
		}
		matches, err := waiter.WaitForFiles(ctx, o.Store.TempDir(), dl.Glob, downloadPolls)
		if err != nil {
			return newError(ErrCodeMedia, "waiting for download "+dl.Name, err).withOrder(order.ID)
		}
		src := matches[0]
		if err := waiter.Wait(ctx, src); err != nil {
			return newError(ErrCodeMedia, "waiting for download "+dl.Name, err).withOrder(order.ID)
		}
		// The browser names the file from the remote Content-Disposition;
		// sanitize before any of it becomes a cache path.
		base := downloader.SanitizeFilename(filepath.Base(src))
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
		key = artifact.AttachmentKey(order.ID, attachmentSlug(dl.Name), ext)
		if _, err := o.Store.MoveStable(src, key); err != nil {
			return newError(ErrCodeCache, "storing download "+dl.Name, err).withOrder(order.ID)
		}
		o.recordAttachment(order, dl.Name, key)
	}
	return nil
}

func (o *Orchestrator) recordAttachment(order *models.Order, name string, key artifact.Key) {
	order.Attachments = append(order.Attachments, models.Attachment{Name: name, Path: o.relFor(key)})
}

// attachmentSlug converts an attachment label to the filename-safe token used
// in its cache path.
func attachmentSlug(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '-'
		}
		return -1
	}, name)
}

// globExt extracts a literal extension from a download glob ("*.pdf" ->
// "pdf"). A wildcarded extension yields "", which fails key validation and
// skips the cache probe.
func globExt(glob string) string {
	ext := filepath.Ext(glob)
	if ext == "" || strings.ContainsAny(ext, "*?[") {
		return ""
	}
	return ext[1:]
}

// captureItemMedia fetches the thumbnail and captures the snapshot PDF+HTML
// pair for every item on the order, in deterministic item order.
func (o *Orchestrator) captureItemMedia(ctx context.Context, order *models.Order) error {
	keys := make([]string, 0, len(order.Items))
	for k := range order.Items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		item := order.Items[k]
		if err := o.fetchThumbnail(ctx, order, item); err != nil {
			return err
		}
		if err := o.captureSnapshot(ctx, order, item); err != nil {
			return err
		}
	}
	return nil
}

// fetchThumbnail downloads the item thumbnail over plain HTTP and rewrites
// item.Thumbnail from the source URL to the cached relative path.
func (o *Orchestrator) fetchThumbnail(ctx context.Context, order *models.Order, item *models.Item) error {
	if !isRemoteURL(item.Thumbnail) {
		return nil
	}
	if !o.Force {
		for _, ext := range thumbnailExts {
			key := artifact.ItemKey(order.ID, item.Key(), ext)
			if o.Store.Exists(key) {
				item.Thumbnail = o.relFor(key)
				return nil
			}
		}
	}
	if o.Fetcher == nil {
		log.Debug().Str("item", item.Key()).Msg("No image fetcher configured, keeping thumbnail URL")
		return nil
	}

	data, ext, err := o.Fetcher.FetchImage(ctx, item.Thumbnail)
	if err != nil {
		return newError(ErrCodeMedia, "fetching thumbnail", err).withOrder(order.ID).withItem(item.Key())
	}
	key := artifact.ItemKey(order.ID, item.Key(), ext)
	if _, err := o.Store.WriteBinary(key, data); err != nil {
		return newError(ErrCodeCache, "caching thumbnail", err).withOrder(order.ID).withItem(item.Key())
	}
	item.Thumbnail = o.relFor(key)
	return nil
}

// captureSnapshot opens the item's live listing in a secondary tab, strips
// overlay UI, and saves the page as an HTML+PDF pair. Control always returns
// to the originating tab, even on failure.
func (o *Orchestrator) captureSnapshot(ctx context.Context, order *models.Order, item *models.Item) error {
	url := o.Adapter.ItemURL(item.ID)
	if url == "" {
		return nil
	}

	htmlKey := artifact.ItemKey(order.ID, item.Key(), "html")
	pdfKey := artifact.ItemKey(order.ID, item.Key(), "pdf")

	shotSel := o.thumbnailSelector()
	if shotSel != "" && item.Thumbnail == "" {
		if pngKey := artifact.ItemKey(order.ID, item.Key(), "png"); o.Store.Exists(pngKey) && !o.Force {
			item.Thumbnail = o.relFor(pngKey)
		}
	}
	needShot := shotSel != "" && item.Thumbnail == ""
	if o.Store.Exists(htmlKey) && o.Store.Exists(pdfKey) && !o.Force && !needShot {
		item.Snapshot = &models.Snapshot{HTML: o.relFor(htmlKey), PDF: o.relFor(pdfKey)}
		return nil
	}

	if err := o.Page.OpenTab(ctx); err != nil {
		return newError(ErrCodeMedia, "opening snapshot tab", err).withOrder(order.ID).withItem(item.Key())
	}
	err := retry.Do(ctx, o.Retry, func() error {
		return o.captureSnapshotInTab(ctx, url, order, item, htmlKey, pdfKey)
	})
	if closeErr := o.Page.CloseTab(); closeErr != nil {
		// Window bookkeeping is lost; this is fatal for the run.
		return newError(ErrCodeMedia, "returning to order tab", closeErr).withOrder(order.ID).structural()
	}
	if err != nil {
		return newError(ErrCodeMedia, "capturing snapshot", err).withOrder(order.ID).withItem(item.Key())
	}
	return nil
}

func (o *Orchestrator) captureSnapshotInTab(ctx context.Context, url string, order *models.Order, item *models.Item, htmlKey, pdfKey artifact.Key) error {
	if err := o.navigate(ctx, url); err != nil {
		return fmt.Errorf("visiting item page: %w", err)
	}
	if sc, ok := o.Adapter.(SnapshotCapable); ok {
		if sels := sc.CleanupSelectors(); len(sels) > 0 {
			if err := o.Page.RemoveElements(ctx, sels...); err != nil {
				return fmt.Errorf("removing overlays: %w", err)
			}
		}
	}

	// An item parsed without an image URL gets its thumbnail by
	// screenshotting the product image on the live listing.
	if sel := o.thumbnailSelector(); sel != "" && item.Thumbnail == "" {
		shot, err := o.Page.Screenshot(ctx, sel)
		if err != nil {
			return fmt.Errorf("screenshotting item image: %w", err)
		}
		pngKey := artifact.ItemKey(order.ID, item.Key(), "png")
		if _, err := o.Store.WriteBinary(pngKey, shot); err != nil {
			return fmt.Errorf("caching item screenshot: %w", err)
		}
		item.Thumbnail = o.relFor(pngKey)
	}

	markup, err := o.Page.OuterHTML(ctx)
	if err != nil {
		return fmt.Errorf("capturing item markup: %w", err)
	}
	if sc, ok := o.Adapter.(SnapshotCapable); ok && sc.ItemRemoved(markup) {
		log.Info().Str("item", item.Key()).Msg("Listing no longer available")
		item.Removed = true
	}

	if _, err := o.Store.WriteHTML(htmlKey, markup); err != nil {
		return fmt.Errorf("caching item markup: %w", err)
	}
	pdf, err := o.Page.PrintToPDF(ctx)
	if err != nil {
		return fmt.Errorf("printing item page: %w", err)
	}
	if _, err := o.Store.WriteBinary(pdfKey, pdf); err != nil {
		return fmt.Errorf("caching item PDF: %w", err)
	}
	item.Snapshot = &models.Snapshot{HTML: o.relFor(htmlKey), PDF: o.relFor(pdfKey)}
	return nil
}

func (o *Orchestrator) thumbnailSelector() string {
	if tc, ok := o.Adapter.(ThumbnailCapable); ok {
		return tc.ThumbnailSelector()
	}
	return ""
}

func (o *Orchestrator) relFor(key artifact.Key) string {
	abs, err := o.Store.PathFor(key)
	if err != nil {
		return ""
	}
	rel, err := o.Store.RelPath(abs)
	if err != nil {
		return ""
	}
	return rel
}

func isRemoteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "//")
}

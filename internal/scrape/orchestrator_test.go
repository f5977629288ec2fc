package scrape

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/order-archivers/harvest/internal/artifact"
	"github.com/order-archivers/harvest/pkg/models"
)

// fakePage implements Page without a browser and counts every navigation,
// so idempotence can be asserted as "zero visits on the second run".
type fakePage struct {
	visits   []string
	current  string
	tabDepth int
	removed  [][]string
	shots    []string

	// markup per URL; missing URLs fall back to a stub page.
	pages map[string]string
}

func (p *fakePage) Visit(ctx context.Context, url string) error {
	p.visits = append(p.visits, url)
	p.current = url
	return nil
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) { return p.current, nil }

func (p *fakePage) OuterHTML(ctx context.Context) (string, error) {
	if markup, ok := p.pages[p.current]; ok {
		return markup, nil
	}
	return "<html><body>stub</body></html>", nil
}

func (p *fakePage) Click(ctx context.Context, sel string) error            { return nil }
func (p *fakePage) SendKeys(ctx context.Context, sel, value string) error  { return nil }
func (p *fakePage) WaitVisible(ctx context.Context, sel string) error      { return nil }
func (p *fakePage) Screenshot(ctx context.Context, sel string) ([]byte, error) {
	p.shots = append(p.shots, sel)
	return []byte("png"), nil
}

func (p *fakePage) RemoveElements(ctx context.Context, sels ...string) error {
	p.removed = append(p.removed, sels)
	return nil
}

func (p *fakePage) PrintToPDF(ctx context.Context) ([]byte, error) {
	return []byte("%PDF-1.4 fake"), nil
}

func (p *fakePage) OpenTab(ctx context.Context) error {
	p.tabDepth++
	return nil
}

func (p *fakePage) CloseTab() error {
	if p.tabDepth == 0 {
		return errors.New("no secondary tab")
	}
	p.tabDepth--
	return nil
}

// fakeShop is a scripted adapter: the list and detail "parsers" return
// canned structures regardless of markup.
type fakeShop struct {
	orders      []models.OrderSummary
	items       map[string][]*models.Item // order id -> items
	listErr     error
	detailErr   map[string]error
	cleanup     []string
	thumbSel    string
	removedItem bool
}

func (s *fakeShop) Name() string                    { return "fakeshop" }
func (s *fakeShop) OrderListURL() string            { return "https://fake.example/orders" }
func (s *fakeShop) OrderURL(id string) string       { return "https://fake.example/orders/" + id }
func (s *fakeShop) ItemURL(id string) string        { return "https://fake.example/items/" + id }
func (s *fakeShop) LoginURLPattern() *regexp.Regexp { return nil }

func (s *fakeShop) ParseOrderList(markup string) ([]models.OrderSummary, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.orders, nil
}

func (s *fakeShop) ParseOrderDetail(markup string, order *models.Order) error {
	if err := s.detailErr[order.ID]; err != nil {
		return err
	}
	for _, item := range s.items[order.ID] {
		clone := *item
		order.Items[clone.Key()] = &clone
	}
	order.PriceItems = map[string]string{"Total": order.Total}
	return nil
}

func (s *fakeShop) CleanupSelectors() []string { return s.cleanup }

func (s *fakeShop) ThumbnailSelector() string { return s.thumbSel }

func (s *fakeShop) ItemRemoved(markup string) bool { return s.removedItem }

type fakeFetcher struct {
	calls int
}

func (f *fakeFetcher) FetchImage(ctx context.Context, url string) ([]byte, string, error) {
	f.calls++
	return []byte("imagebytes"), "png", nil
}

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), "fakeshop")
	require.NoError(t, err)
	return store
}

func newOrchestrator(shop *fakeShop, page *fakePage, store *artifact.Store) *Orchestrator {
	return &Orchestrator{
		Adapter: shop,
		Page:    page,
		Store:   store,
		Fetcher: &fakeFetcher{},
	}
}

func twoOrderShop() *fakeShop {
	return &fakeShop{
		orders: []models.OrderSummary{
			{ID: "1001", Date: "2024-03-01", Total: "$10.00"},
			{ID: "1002", Date: "2024-03-05", Total: "$20.00"},
		},
		items: map[string][]*models.Item{
			"1001": {{ID: "i1", Title: "Widget", Quantity: 1, Thumbnail: "https://cdn.fake.example/i1.png"}},
			"1002": {{ID: "i2", SKU: "Color: Red", Title: "Gadget", Quantity: 2}},
		},
	}
}

func TestRun_ScrapesAllStages(t *testing.T) {
	shop := twoOrderShop()
	page := &fakePage{}
	store := newTestStore(t)
	o := newOrchestrator(shop, page, store)

	orders, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.True(t, store.Exists(artifact.ListKey("html")))
	assert.True(t, store.Exists(artifact.OrderKey("1001", "html")))
	assert.True(t, store.Exists(artifact.OrderKey("1001", "json")))
	assert.True(t, store.Exists(artifact.OrderKey("1002", "json")))

	item := orders[0].Items["i1"]
	require.NotNil(t, item)
	assert.Equal(t, "orders/1001/item-i1.png", item.Thumbnail)
	require.NotNil(t, item.Snapshot)
	assert.Equal(t, "orders/1001/item-i1.html", item.Snapshot.HTML)
	assert.Equal(t, "orders/1001/item-i1.pdf", item.Snapshot.PDF)

	// Variant identity folds the SKU hash into the cache key.
	gadget := orders[1].Items["i2-"+models.SKUHash("Color: Red")]
	require.NotNil(t, gadget)

	assert.Zero(t, page.tabDepth, "control must return to the originating tab")
}

func TestRun_SecondRunPerformsZeroNavigations(t *testing.T) {
	shop := twoOrderShop()
	store := newTestStore(t)

	first := &fakePage{}
	_, err := newOrchestrator(shop, first, store).Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, first.visits)

	jsonPath, err := store.PathFor(artifact.OrderKey("1001", "json"))
	require.NoError(t, err)
	before, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	second := &fakePage{}
	orders, err := newOrchestrator(shop, second, store).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Empty(t, second.visits, "fully cached rerun must not touch the browser")

	after, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "cached artifacts must be byte identical")
}

func TestRun_ForceRescrapesCachedStages(t *testing.T) {
	shop := twoOrderShop()
	store := newTestStore(t)
	_, err := newOrchestrator(shop, &fakePage{}, store).Run(context.Background())
	require.NoError(t, err)

	second := &fakePage{}
	o := newOrchestrator(shop, second, store)
	o.Force = true
	_, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, second.visits)
}

func TestRun_OrderListParseFailureIsFatal(t *testing.T) {
	shop := twoOrderShop()
	shop.listErr = errors.New("row 3 did not match")
	o := newOrchestrator(shop, &fakePage{}, newTestStore(t))

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsStructural(err))
	assert.ErrorIs(t, err, &Error{Code: ErrCodeListParse})
}

func TestRun_SingleOrderFailureContinues(t *testing.T) {
	shop := twoOrderShop()
	shop.detailErr = map[string]error{"1001": fmt.Errorf("layout drifted")}
	o := newOrchestrator(shop, &fakePage{}, newTestStore(t))

	orders, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1002", orders[0].ID)
}

func TestRun_CachedListRequestedButMissing(t *testing.T) {
	o := newOrchestrator(twoOrderShop(), &fakePage{}, newTestStore(t))
	o.UseCachedList = true

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCachedList)
}

func TestRun_CachedListSkipsListNavigation(t *testing.T) {
	shop := twoOrderShop()
	store := newTestStore(t)
	_, err := store.WriteHTML(artifact.ListKey("html"), "<html><body>orders</body></html>")
	require.NoError(t, err)

	page := &fakePage{}
	o := newOrchestrator(shop, page, store)
	o.UseCachedList = true
	_, err = o.Run(context.Background())
	require.NoError(t, err)
	for _, url := range page.visits {
		assert.NotEqual(t, shop.OrderListURL(), url)
	}
}

func TestRun_FilterApplied(t *testing.T) {
	shop := twoOrderShop()
	o := newOrchestrator(shop, &fakePage{}, newTestStore(t))
	o.Filter = Filter{Allow: []string{"1002"}}

	orders, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1002", orders[0].ID)
}

func TestRun_OverlayCleanupBeforeCapture(t *testing.T) {
	shop := twoOrderShop()
	shop.cleanup = []string{"#cookie-banner", ".chat-widget"}
	page := &fakePage{}
	_, err := newOrchestrator(shop, page, newTestStore(t)).Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, page.removed)
	assert.Equal(t, []string{"#cookie-banner", ".chat-widget"}, page.removed[0])
}

func TestRun_ScreenshotThumbnailWhenNoImageURL(t *testing.T) {
	shop := twoOrderShop()
	shop.thumbSel = ".gallery img.primary"
	page := &fakePage{}
	store := newTestStore(t)

	orders, err := newOrchestrator(shop, page, store).Run(context.Background())
	require.NoError(t, err)

	// i2 has no image URL on the order line, so its thumbnail comes from a
	// screenshot of the live listing. i1's remote URL is fetched as usual.
	gadget := orders[1].Items["i2-"+models.SKUHash("Color: Red")]
	require.NotNil(t, gadget)
	assert.Equal(t, "orders/1002/item-i2-"+models.SKUHash("Color: Red")+".png", gadget.Thumbnail)
	assert.Equal(t, []string{".gallery img.primary"}, page.shots)
	assert.Equal(t, "orders/1001/item-i1.png", orders[0].Items["i1"].Thumbnail)
}

func TestRun_RemovedListingFlagged(t *testing.T) {
	shop := twoOrderShop()
	shop.removedItem = true
	orders, err := newOrchestrator(shop, &fakePage{}, newTestStore(t)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, orders[0].Items["i1"].Removed)
}

// downloadShop adds an invoice download on top of the scripted adapter. The
// trigger drops the file straight into the download dir, standing in for the
// browser's download machinery.
type downloadShop struct {
	*fakeShop
	store    *artifact.Store
	triggers int
}

func (s *downloadShop) OrderDownloads(order *models.Order) []Download {
	return []Download{{
		Name: "Invoice",
		Glob: "*",
		Trigger: func(ctx context.Context, page Page) error {
			s.triggers++
			// Browsers pick the name from Content-Disposition; make it ugly.
			name := fmt.Sprintf("Invoice %s.PDF", order.ID)
			return os.WriteFile(filepath.Join(s.store.TempDir(), name), []byte("%PDF-1.4 invoice"), 0o644)
		},
	}}
}

func fastDownloadWaiter() *artifact.StableWaiter {
	return &artifact.StableWaiter{
		PollInterval:   time.Millisecond,
		SampleInterval: time.Millisecond,
		Samples:        2,
		MaxRounds:      3,
	}
}

func TestRun_DownloadsMovedIntoOrderCache(t *testing.T) {
	store := newTestStore(t)
	shop := &downloadShop{fakeShop: twoOrderShop(), store: store}
	o := &Orchestrator{
		Adapter: shop,
		Page:    &fakePage{},
		Store:   store,
		Fetcher: &fakeFetcher{},
		Waiter:  fastDownloadWaiter(),
	}

	orders, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, 2, shop.triggers)

	assert.True(t, store.Exists(artifact.AttachmentKey("1001", "invoice", "pdf")))
	require.NotEmpty(t, orders[0].Attachments)
	assert.Equal(t, "Invoice", orders[0].Attachments[0].Name)
	assert.Equal(t, "orders/1001/attachment-invoice.pdf", orders[0].Attachments[0].Path)

	entries, err := os.ReadDir(store.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "finished downloads must leave the download dir")

	// Finalized orders do not re-trigger downloads.
	second := &fakePage{}
	o2 := &Orchestrator{Adapter: shop, Page: second, Store: store, Waiter: fastDownloadWaiter()}
	_, err = o2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, shop.triggers)
	assert.Empty(t, second.visits)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newOrchestrator(twoOrderShop(), &fakePage{}, newTestStore(t)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// internal/shops/demoshop.go
package shops

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/order-archivers/harvest/internal/config"
	"github.com/order-archivers/harvest/internal/scrape"
	"github.com/order-archivers/harvest/pkg/models"
)

func init() {
	Register("demoshop", newDemoshop)
}

// demoshop is the reference adapter: a generic webshop with an order table,
// per-order detail pages and item listing pages. Real adapters start as a
// copy of this one.
type demoshop struct {
	cfg     config.ShopConfig
	loginRE *regexp.Regexp

	username string
	password string
}

const (
	demoshopBase     = "https://demoshop.example"
	demoshopLoginRE  = `^https://demoshop\.example/(login|signin)`
	demoshopListURL  = demoshopBase + "/account/orders"
	demoshopOrderURL = demoshopBase + "/account/orders/{order_id}"
	demoshopItemURL  = demoshopBase + "/products/{item_id}"
)

func newDemoshop(cfg config.ShopConfig) (scrape.ShopAdapter, error) {
	pattern := cfg.LoginURLPattern
	if pattern == "" {
		pattern = demoshopLoginRE
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("demoshop login pattern: %w", err)
	}
	return &demoshop{cfg: cfg, loginRE: re}, nil
}

func (d *demoshop) Name() string { return "demoshop" }

func (d *demoshop) OrderListURL() string {
	if d.cfg.OrderListURL != "" {
		return d.cfg.OrderListURL
	}
	return demoshopListURL
}

func (d *demoshop) OrderURL(orderID string) string {
	return expand(orDefault(d.cfg.OrderURLTemplate, demoshopOrderURL), "{order_id}", orderID)
}

func (d *demoshop) ItemURL(itemID string) string {
	return expand(orDefault(d.cfg.ItemURLTemplate, demoshopItemURL), "{item_id}", itemID)
}

func (d *demoshop) LoginURLPattern() *regexp.Regexp { return d.loginRE }

// SetCredentials injects the keyring-resolved account credentials used by
// the automatic login flow.
func (d *demoshop) SetCredentials(username, password string) {
	d.username = username
	d.password = password
}

// Login fills the demoshop login form. With no stored credentials the
// operator logs in manually through the intervention gate instead.
func (d *demoshop) Login(ctx context.Context, page scrape.Page, intendedURL string) error {
	if d.username == "" {
		return fmt.Errorf("no credentials for demoshop; use manual login")
	}
	if err := page.WaitVisible(ctx, "#email"); err != nil {
		return err
	}
	if err := page.SendKeys(ctx, "#email", d.username); err != nil {
		return err
	}
	if err := page.SendKeys(ctx, "#password", d.password); err != nil {
		return err
	}
	return page.Click(ctx, "button[type=submit]")
}

// DismissInterrupts closes the consent banner when present. A CAPTCHA wall
// is reported as not clean so the orchestrator escalates to the operator.
func (d *demoshop) DismissInterrupts(ctx context.Context, page scrape.Page, currentURL string) (bool, error) {
	markup, err := page.OuterHTML(ctx)
	if err != nil {
		return false, err
	}
	if strings.Contains(markup, `id="captcha-wall"`) {
		return false, nil
	}
	if strings.Contains(markup, `id="accept-cookies"`) {
		if err := page.Click(ctx, "#accept-cookies"); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ParseOrderList reads the order history table. Any row missing an id or a
// date means the page layout drifted and the run must stop.
func (d *demoshop) ParseOrderList(markup string) ([]models.OrderSummary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing order list markup: %w", err)
	}

	var summaries []models.OrderSummary
	var rowErr error
	doc.Find("tr.order-row").EachWithBreak(func(i int, row *goquery.Selection) bool {
		id, _ := row.Attr("data-order-id")
		date := strings.TrimSpace(row.Find(".order-date").Text())
		if id == "" || date == "" {
			rowErr = fmt.Errorf("order row %d is missing id or date", i)
			return false
		}
		summaries = append(summaries, models.OrderSummary{
			ID:     id,
			Date:   date,
			Status: strings.TrimSpace(row.Find(".order-status").Text()),
			Total:  strings.TrimSpace(row.Find(".order-total").Text()),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return summaries, nil
}

// ParseOrderDetail reads the price breakdown and item lines from an order
// detail page.
func (d *demoshop) ParseOrderDetail(markup string, order *models.Order) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parsing order detail markup: %w", err)
	}

	order.PriceItems = map[string]string{}
	doc.Find(".price-line").Each(func(_ int, line *goquery.Selection) {
		label := strings.TrimSpace(line.Find(".label").Text())
		amount := strings.TrimSpace(line.Find(".amount").Text())
		if label != "" && amount != "" {
			order.PriceItems[label] = amount
		}
	})

	var itemErr error
	doc.Find(".order-item").EachWithBreak(func(i int, node *goquery.Selection) bool {
		id, _ := node.Attr("data-item-id")
		if id == "" {
			itemErr = fmt.Errorf("item %d on order %s has no id", i, order.ID)
			return false
		}
		qty := 1
		if q := strings.TrimSpace(node.Find(".item-qty").Text()); q != "" {
			if n, err := strconv.Atoi(strings.TrimPrefix(q, "x")); err == nil {
				qty = n
			}
		}
		item := &models.Item{
			ID:       id,
			Title:    strings.TrimSpace(node.Find(".item-title").Text()),
			Quantity: qty,
			Price:    strings.TrimSpace(node.Find(".item-price").Text()),
			Total:    strings.TrimSpace(node.Find(".item-total").Text()),
		}
		if sku, ok := node.Attr("data-sku"); ok {
			item.SKU = sku
		}
		if src, ok := node.Find("img.item-thumb").Attr("src"); ok {
			item.Thumbnail = src
		}
		order.Items[item.Key()] = item
		return true
	})
	if itemErr != nil {
		return itemErr
	}

	if href, ok := doc.Find("a.tracking-link").Attr("href"); ok {
		if order.Extra == nil {
			order.Extra = map[string]any{}
		}
		order.Extra["tracking_url"] = absoluteURL(href)
	}
	if doc.Find("a.invoice-link").Length() > 0 {
		if order.Extra == nil {
			order.Extra = map[string]any{}
		}
		order.Extra["has_invoice"] = true
	}
	return nil
}

// OrderDownloads triggers the invoice download when detail parsing found an
// invoice link. The browser names the file itself, hence the glob.
func (d *demoshop) OrderDownloads(order *models.Order) []scrape.Download {
	if has, _ := order.Extra["has_invoice"].(bool); !has {
		return nil
	}
	return []scrape.Download{{
		Name: "Invoice",
		Glob: "*.pdf",
		Trigger: func(ctx context.Context, page scrape.Page) error {
			return page.Click(ctx, "a.invoice-link")
		},
	}}
}

// TrackingURL exposes the tracking page found during detail parsing.
func (d *demoshop) TrackingURL(order *models.Order) (string, bool) {
	url, ok := order.Extra["tracking_url"].(string)
	return url, ok && url != ""
}

// ThumbnailSelector is screenshotted on the listing page for items whose
// order line had no image URL.
func (d *demoshop) ThumbnailSelector() string {
	return ".product-gallery img.primary"
}

// CleanupSelectors strips overlays that would end up baked into snapshots.
func (d *demoshop) CleanupSelectors() []string {
	return []string{"#cookie-banner", ".newsletter-modal", ".chat-widget"}
}

// ItemRemoved recognizes demoshop's dead-listing page.
func (d *demoshop) ItemRemoved(markup string) bool {
	return strings.Contains(markup, `class="listing-removed"`) ||
		strings.Contains(markup, "This product is no longer available")
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func expand(template, placeholder, value string) string {
	return strings.ReplaceAll(template, placeholder, value)
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return demoshopBase + "/" + strings.TrimPrefix(href, "/")
}

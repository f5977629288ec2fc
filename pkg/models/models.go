package models

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"
)

// ValueCurrency is a monetary amount with an optional ISO 4217 currency code.
// Value is a fixed-point decimal string with exactly two decimals ("1099.00").
type ValueCurrency struct {
	Value    string `json:"value"`
	Currency string `json:"currency,omitempty"`
}

// Attachment is a file produced during scraping and referenced by an order
// or item. Path is relative to the shop cache root.
type Attachment struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Comment string `json:"comment,omitempty"`
}

// Snapshot is a site-rendered capture of an item listing, kept as a PDF+HTML
// pair for provenance. Paths are relative to the shop cache root.
type Snapshot struct {
	PDF  string `json:"pdf,omitempty"`
	HTML string `json:"html,omitempty"`
}

// Item is a single line on an order. The same product id can recur in one
// order with different variants, so item identity is the composite
// (id, sku hash) returned by Key().
type Item struct {
	ID        string         `json:"id"`
	SKU       string         `json:"sku,omitempty"`
	Title     string         `json:"title"`
	Quantity  int            `json:"count"`
	Price     string         `json:"price,omitempty"`
	Total     string         `json:"total,omitempty"`
	Thumbnail string         `json:"thumbnail,omitempty"`
	Snapshot  *Snapshot      `json:"snapshot,omitempty"`
	Removed   bool           `json:"removed,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// Key returns the composite identity used for cache paths and the item map.
func (i *Item) Key() string {
	if i.SKU == "" {
		return i.ID
	}
	return i.ID + "-" + SKUHash(i.SKU)
}

var skuSpaceRE = regexp.MustCompile(" {2,}")

// SKUHash converts free-form SKU/variant text into a filename-safe token.
func SKUHash(sku string) string {
	s := strings.ReplaceAll(strings.TrimSpace(sku), " ", " ")
	s = skuSpaceRE.ReplaceAllString(s, " ")
	return base64.URLEncoding.EncodeToString([]byte(s))
}

// Order is the raw per-order record built up by the scrape pipeline.
// PriceItems keeps the scraped price breakdown verbatim; the export
// normalizer lifts known financial fields out of it.
type Order struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Status string `json:"status,omitempty"`
	Total  string `json:"total,omitempty"`

	PriceItems map[string]string `json:"price_items,omitempty"`
	Items      map[string]*Item  `json:"items"`

	CacheFile         string       `json:"cache_file,omitempty"`
	TrackingCacheFile string       `json:"tracking_cache_file,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`

	ScrapedAt time.Time `json:"scraped_at,omitzero"`
}

// OrderSummary is one parsed row of the order list page.
type OrderSummary struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Status string `json:"status,omitempty"`
	Total  string `json:"total,omitempty"`
}

// Metadata identifies the shop an export bundle came from.
type Metadata struct {
	Name       string `json:"name"`
	BranchName string `json:"branch_name"`
	OrderURL   string `json:"order_url"`
	ItemURL    string `json:"item_url"`
	Generator  string `json:"generator,omitempty"`
}

// ExportItem is the canonical, schema-validated shape of an item. Total is
// nil for priced-at-nothing lines (free gifts, promo inserts) that carry no
// amount on the order page.
type ExportItem struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Variation   string         `json:"variation,omitempty"`
	Quantity    int            `json:"quantity"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	Total       *ValueCurrency `json:"total,omitempty"`
	Attachments []Attachment   `json:"attachments"`
	ExtraData   map[string]any `json:"extra_data,omitempty"`
}

// ExportOrder is the canonical, schema-validated shape of an order.
// Financial fields the normalizer recognized are named; everything else
// from the raw price breakdown stays in ExtraData.
type ExportOrder struct {
	ID          string         `json:"id"`
	Date        string         `json:"date"`
	Items       []ExportItem   `json:"items"`
	Attachments []Attachment   `json:"attachments"`
	Subtotal    *ValueCurrency `json:"subtotal,omitempty"`
	Shipping    *ValueCurrency `json:"shipping,omitempty"`
	Tax         *ValueCurrency `json:"tax,omitempty"`
	Total       *ValueCurrency `json:"total,omitempty"`
	ExtraData   map[string]any `json:"extra_data,omitempty"`
}

// ExportBundle is the complete export document for one shop. It is written
// all-or-nothing together with an archive of every file it references.
type ExportBundle struct {
	Metadata Metadata      `json:"metadata"`
	Orders   []ExportOrder `json:"orders"`
}

// ReferencedPaths returns every relative file path the bundle points at,
// in document order. The export archive must contain exactly these files.
func (b *ExportBundle) ReferencedPaths() []string {
	var paths []string
	for _, order := range b.Orders {
		for _, a := range order.Attachments {
			paths = append(paths, a.Path)
		}
		for _, item := range order.Items {
			if item.Thumbnail != "" {
				paths = append(paths, item.Thumbnail)
			}
			for _, a := range item.Attachments {
				paths = append(paths, a.Path)
			}
		}
	}
	return paths
}

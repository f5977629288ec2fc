// internal/export/normalizer.go
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/order-archivers/harvest/pkg/models"
)

// Generator tags export bundles with the producing tool.
const Generator = "harvest"

// liftedFields maps recognized price-breakdown labels to their canonical
// field. Matching is case-insensitive on a trimmed, colon-stripped label.
var liftedFields = map[string]string{
	"subtotal":     "subtotal",
	"sub-total":    "subtotal",
	"sub total":    "subtotal",
	"shipping":     "shipping",
	"postage":      "shipping",
	"delivery":     "shipping",
	"freight":      "shipping",
	"tax":          "tax",
	"vat":          "tax",
	"sales tax":    "tax",
	"total":        "total",
	"grand total":  "total",
	"order total":  "total",
	"total amount": "total",
}

// Normalize converts raw scraped orders into the canonical export shape:
// currency strings lifted to {value, currency}, known financial fields
// relocated out of the price-breakdown bag, unknown keys preserved in
// extra_data. Normalizing an already-normal value is a no-op.
func Normalize(raw []*models.Order, meta models.Metadata) (*models.ExportBundle, error) {
	if meta.Generator == "" {
		meta.Generator = Generator
	}
	bundle := &models.ExportBundle{Metadata: meta, Orders: make([]models.ExportOrder, 0, len(raw))}
	for _, order := range raw {
		out, err := normalizeOrder(order)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", order.ID, err)
		}
		bundle.Orders = append(bundle.Orders, out)
	}
	return bundle, nil
}

func normalizeOrder(order *models.Order) (models.ExportOrder, error) {
	out := models.ExportOrder{
		ID:          order.ID,
		Date:        order.Date,
		Items:       []models.ExportItem{},
		Attachments: []models.Attachment{},
	}

	if order.CacheFile != "" {
		out.Attachments = append(out.Attachments, models.Attachment{
			Name: "Order page", Path: order.CacheFile, Comment: "HTML capture of the order detail page",
		})
	}
	if order.TrackingCacheFile != "" {
		out.Attachments = append(out.Attachments, models.Attachment{
			Name: "Tracking page", Path: order.TrackingCacheFile, Comment: "HTML capture of the shipping tracking page",
		})
	}
	out.Attachments = append(out.Attachments, order.Attachments...)

	if err := liftPriceItems(order, &out); err != nil {
		return out, err
	}
	if out.Total == nil && order.Total != "" {
		vc, err := ParseValueCurrency(order.Total)
		if err != nil {
			return out, fmt.Errorf("order total: %w", err)
		}
		out.Total = &vc
	}

	if len(order.Extra) > 0 {
		if out.ExtraData == nil {
			out.ExtraData = map[string]any{}
		}
		for k, v := range order.Extra {
			out.ExtraData[k] = v
		}
	}

	keys := make([]string, 0, len(order.Items))
	for k := range order.Items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		item, err := normalizeItem(order.Items[k])
		if err != nil {
			return out, fmt.Errorf("item %s: %w", k, err)
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

// liftPriceItems relocates recognized labels from the scraped price
// breakdown into named fields; everything else goes to extra_data verbatim.
func liftPriceItems(order *models.Order, out *models.ExportOrder) error {
	labels := make([]string, 0, len(order.PriceItems))
	for label := range order.PriceItems {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		raw := order.PriceItems[label]
		field, known := liftedFields[canonicalLabel(label)]
		if !known {
			log.Debug().Str("order", order.ID).Str("label", label).Msg("Unrecognized price field kept in extra_data")
			if out.ExtraData == nil {
				out.ExtraData = map[string]any{}
			}
			out.ExtraData[label] = raw
			continue
		}
		vc, err := ParseValueCurrency(raw)
		if err != nil {
			return fmt.Errorf("price field %q: %w", label, err)
		}
		switch field {
		case "subtotal":
			out.Subtotal = &vc
		case "shipping":
			out.Shipping = &vc
		case "tax":
			out.Tax = &vc
		case "total":
			out.Total = &vc
		}
	}
	return nil
}

func canonicalLabel(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	return strings.TrimSuffix(s, ":")
}

func normalizeItem(item *models.Item) (models.ExportItem, error) {
	out := models.ExportItem{
		ID:          item.ID,
		Name:        item.Title,
		Variation:   item.SKU,
		Quantity:    item.Quantity,
		Thumbnail:   item.Thumbnail,
		Attachments: []models.Attachment{},
	}
	if item.Quantity == 0 {
		out.Quantity = 1
	}

	// A line with no total and no price is a free-gift/promo row; it
	// exports without a total rather than blocking the whole shop.
	rawTotal := item.Total
	if rawTotal == "" {
		rawTotal = item.Price
	}
	if rawTotal != "" {
		vc, err := ParseValueCurrency(rawTotal)
		if err != nil {
			return out, fmt.Errorf("total: %w", err)
		}
		out.Total = &vc
	}

	if item.Snapshot != nil {
		if item.Snapshot.HTML != "" {
			out.Attachments = append(out.Attachments, models.Attachment{
				Name: "Snapshot", Path: item.Snapshot.HTML, Comment: "HTML capture of the item listing",
			})
		}
		if item.Snapshot.PDF != "" {
			out.Attachments = append(out.Attachments, models.Attachment{
				Name: "Snapshot PDF", Path: item.Snapshot.PDF, Comment: "PDF capture of the item listing",
			})
		}
	}
	out.Attachments = append(out.Attachments, item.Attachments...)

	if item.Removed || len(item.Extra) > 0 {
		out.ExtraData = map[string]any{}
		if item.Removed {
			out.ExtraData["removed"] = true
		}
		for k, v := range item.Extra {
			out.ExtraData[k] = v
		}
	}
	return out, nil
}

package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/order-archivers/harvest/pkg/models"
)

func sampleMetadata() models.Metadata {
	return models.Metadata{
		Name:       "demoshop",
		BranchName: "demoshop.example",
		OrderURL:   "https://demoshop.example/orders/{order_id}",
		ItemURL:    "https://demoshop.example/items/{item_id}",
	}
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:        "1001",
		Date:      "2024-03-01",
		Total:     "$42.00",
		CacheFile: "orders/1001/order.html",
		PriceItems: map[string]string{
			"Subtotal:":     "$40.00",
			"Shipping":      "$2.00",
			"Gift wrapping": "$0.00",
		},
		Items: map[string]*models.Item{
			"i1": {
				ID:        "i1",
				Title:     "Widget",
				Quantity:  2,
				Total:     "$40.00",
				Thumbnail: "orders/1001/item-i1.png",
				Snapshot:  &models.Snapshot{HTML: "orders/1001/item-i1.html", PDF: "orders/1001/item-i1.pdf"},
			},
		},
	}
}

func TestNormalize_LiftsFinancialFields(t *testing.T) {
	bundle, err := Normalize([]*models.Order{sampleOrder()}, sampleMetadata())
	require.NoError(t, err)
	require.Len(t, bundle.Orders, 1)
	order := bundle.Orders[0]

	require.NotNil(t, order.Subtotal)
	assert.Equal(t, models.ValueCurrency{Value: "40.00", Currency: "USD"}, *order.Subtotal)
	require.NotNil(t, order.Shipping)
	assert.Equal(t, "2.00", order.Shipping.Value)
	require.NotNil(t, order.Total)
	assert.Equal(t, "42.00", order.Total.Value)

	// Unrecognized price rows survive verbatim.
	assert.Equal(t, "$0.00", order.ExtraData["Gift wrapping"])
}

func TestNormalize_ItemShape(t *testing.T) {
	bundle, err := Normalize([]*models.Order{sampleOrder()}, sampleMetadata())
	require.NoError(t, err)
	item := bundle.Orders[0].Items[0]

	assert.Equal(t, "Widget", item.Name)
	assert.Equal(t, 2, item.Quantity)
	require.NotNil(t, item.Total)
	assert.Equal(t, models.ValueCurrency{Value: "40.00", Currency: "USD"}, *item.Total)

	paths := make([]string, 0, len(item.Attachments))
	for _, a := range item.Attachments {
		paths = append(paths, a.Path)
	}
	assert.Equal(t, []string{"orders/1001/item-i1.html", "orders/1001/item-i1.pdf"}, paths)
}

func TestNormalize_OrderAttachmentsIncludeCaptures(t *testing.T) {
	raw := sampleOrder()
	raw.TrackingCacheFile = "orders/1001/tracking.html"
	bundle, err := Normalize([]*models.Order{raw}, sampleMetadata())
	require.NoError(t, err)

	paths := make([]string, 0, 2)
	for _, a := range bundle.Orders[0].Attachments {
		paths = append(paths, a.Path)
	}
	assert.Equal(t, []string{"orders/1001/order.html", "orders/1001/tracking.html"}, paths)
}

func TestNormalize_PricelessItemExports(t *testing.T) {
	raw := sampleOrder()
	raw.Items["gift"] = &models.Item{ID: "gift", Title: "Free sample", Quantity: 1}

	bundle, err := Normalize([]*models.Order{raw}, sampleMetadata())
	require.NoError(t, err)

	var gift *models.ExportItem
	for i := range bundle.Orders[0].Items {
		if bundle.Orders[0].Items[i].ID == "gift" {
			gift = &bundle.Orders[0].Items[i]
		}
	}
	require.NotNil(t, gift)
	assert.Nil(t, gift.Total)

	schema, err := DefaultSchema()
	require.NoError(t, err)
	assert.NoError(t, schema.Validate(bundle))
}

func TestNormalize_RemovedItemFlagged(t *testing.T) {
	raw := sampleOrder()
	raw.Items["i1"].Removed = true
	bundle, err := Normalize([]*models.Order{raw}, sampleMetadata())
	require.NoError(t, err)
	assert.Equal(t, true, bundle.Orders[0].Items[0].ExtraData["removed"])
}

func TestNormalize_BadPriceFieldFails(t *testing.T) {
	raw := sampleOrder()
	raw.PriceItems["Total"] = "contact support"
	_, err := Normalize([]*models.Order{raw}, sampleMetadata())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Total")
}

func TestNormalize_ValidatesAgainstDefaultSchema(t *testing.T) {
	bundle, err := Normalize([]*models.Order{sampleOrder()}, sampleMetadata())
	require.NoError(t, err)

	schema, err := DefaultSchema()
	require.NoError(t, err)
	assert.NoError(t, schema.Validate(bundle))
}

func TestSchema_RejectsUnnormalizedValue(t *testing.T) {
	schema, err := DefaultSchema()
	require.NoError(t, err)

	bundle := &models.ExportBundle{
		Metadata: sampleMetadata(),
		Orders: []models.ExportOrder{{
			ID:          "1",
			Date:        "2024-01-01",
			Items:       []models.ExportItem{},
			Attachments: []models.Attachment{},
			Total:       &models.ValueCurrency{Value: "kr 1099"},
		}},
	}
	err = schema.Validate(bundle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

// internal/artifact/key.go
package artifact

import (
	"fmt"
	"path/filepath"
)

// PagePart tags which pipeline stage an artifact belongs to.
type PagePart int

const (
	PartOrderList PagePart = iota
	PartOrderDetail
	PartOrderTracking
	PartOrderItem
	PartOrderAttachment
)

func (p PagePart) String() string {
	switch p {
	case PartOrderList:
		return "order_list"
	case PartOrderDetail:
		return "order_detail"
	case PartOrderTracking:
		return "order_tracking"
	case PartOrderItem:
		return "order_item"
	case PartOrderAttachment:
		return "order_attachment"
	}
	return fmt.Sprintf("page_part(%d)", int(p))
}

// Key identifies one unit of scrape work. The same key always maps to the
// same path under a store root; a readable non-empty file at that path means
// the work is done.
type Key struct {
	Part    PagePart
	OrderID string
	ItemID  string
	Ext     string
}

// ListKey returns the key for the order list page artifact.
func ListKey(ext string) Key {
	return Key{Part: PartOrderList, Ext: ext}
}

// OrderKey returns the key for an order detail artifact.
func OrderKey(orderID, ext string) Key {
	return Key{Part: PartOrderDetail, OrderID: orderID, Ext: ext}
}

// TrackingKey returns the key for an order's tracking page artifact.
func TrackingKey(orderID string) Key {
	return Key{Part: PartOrderTracking, OrderID: orderID, Ext: "html"}
}

// ItemKey returns the key for an item media artifact. itemID is the
// composite (id, sku hash) identity, not the bare product id.
func ItemKey(orderID, itemID, ext string) Key {
	return Key{Part: PartOrderItem, OrderID: orderID, ItemID: itemID, Ext: ext}
}

// AttachmentKey returns the key for an order-level downloaded file (invoice,
// receipt). name must already be a filename-safe slug.
func AttachmentKey(orderID, name, ext string) Key {
	return Key{Part: PartOrderAttachment, OrderID: orderID, ItemID: name, Ext: ext}
}

// Validate reports whether the key names a representable path.
func (k Key) Validate() error {
	if k.Ext == "" {
		return fmt.Errorf("artifact key %s: missing extension", k.Part)
	}
	switch k.Part {
	case PartOrderList:
	case PartOrderDetail, PartOrderTracking:
		if k.OrderID == "" {
			return fmt.Errorf("artifact key %s: missing order id", k.Part)
		}
	case PartOrderItem, PartOrderAttachment:
		if k.OrderID == "" || k.ItemID == "" {
			return fmt.Errorf("artifact key %s: missing order or item id", k.Part)
		}
	default:
		return fmt.Errorf("unknown page part %d", int(k.Part))
	}
	return nil
}

// relPath maps a valid key to its path relative to the store root.
// Deterministic: identical keys always yield identical paths.
func (k Key) relPath() string {
	switch k.Part {
	case PartOrderList:
		return filepath.Join(listDir, "orders."+k.Ext)
	case PartOrderDetail:
		return filepath.Join(ordersDir, k.OrderID, "order."+k.Ext)
	case PartOrderTracking:
		return filepath.Join(ordersDir, k.OrderID, "tracking."+k.Ext)
	case PartOrderItem:
		return filepath.Join(ordersDir, k.OrderID, "item-"+k.ItemID+"."+k.Ext)
	case PartOrderAttachment:
		return filepath.Join(ordersDir, k.OrderID, "attachment-"+k.ItemID+"."+k.Ext)
	}
	return ""
}

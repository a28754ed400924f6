// Package projector maps canonical documents onto the downstream
// integration target's payload shapes. Projections are pure and total:
// identical canonical input always yields identical payload output, and
// no canonical document can make them fail.
package projector

import "edigate/internal/domain"

// Provenance memos attached to every projected payload. Constants, never
// derived from input.
const (
	POMemo  = "Created via thesis platform prototype"
	ASNMemo = "856 ASN created via thesis platform prototype"
)

// PurchaseOrderPayload projects a canonical 850 into the downstream
// sales-order shape.
func PurchaseOrderPayload(c domain.PurchaseOrder) domain.POPayload {
	return domain.POPayload{
		OtherRefNum: c.PONumber,
		Memo:        POMemo,
	}
}

// ShipmentNoticePayload projects a canonical 856 into the downstream
// fulfillment shape. Item order is preserved.
func ShipmentNoticePayload(c domain.ShipmentNotice) domain.ASNPayload {
	items := c.Items
	if items == nil {
		items = []domain.ShipmentItem{}
	}
	return domain.ASNPayload{
		CreatedFrom:    c.PONumber,
		ShipStatus:     "SHIPPED",
		ShipmentNumber: c.ShipmentNumber,
		Items:          items,
		Memo:           ASNMemo,
	}
}

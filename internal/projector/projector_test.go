package projector_test

import (
	"reflect"
	"testing"

	"edigate/internal/domain"
	"edigate/internal/projector"
)

func TestPurchaseOrderPayload(t *testing.T) {
	c := domain.PurchaseOrder{PONumber: "PO-12345", Status: "PARSED"}
	got := projector.PurchaseOrderPayload(c)
	want := domain.POPayload{
		OtherRefNum: "PO-12345",
		Memo:        "Created via thesis platform prototype",
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestShipmentNoticePayload(t *testing.T) {
	c := domain.ShipmentNotice{
		ShipmentNumber: "SHP-1",
		PONumber:       "PO-123",
		Items:          []domain.ShipmentItem{{SKU: "SKU-1", Quantity: "10"}},
		Status:         "PARSED_856",
	}
	got := projector.ShipmentNoticePayload(c)
	want := domain.ASNPayload{
		CreatedFrom:    "PO-123",
		ShipStatus:     "SHIPPED",
		ShipmentNumber: "SHP-1",
		Items:          []domain.ShipmentItem{{SKU: "SKU-1", Quantity: "10"}},
		Memo:           "856 ASN created via thesis platform prototype",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestProjectionsAreTotalOnZeroValues(t *testing.T) {
	po := projector.PurchaseOrderPayload(domain.PurchaseOrder{})
	if po.OtherRefNum != "" || po.Memo == "" {
		t.Fatalf("zero-value PO projection: %+v", po)
	}
	asn := projector.ShipmentNoticePayload(domain.ShipmentNotice{})
	if asn.Items == nil || len(asn.Items) != 0 {
		t.Fatalf("nil items must project to an empty sequence: %#v", asn.Items)
	}
	if asn.ShipStatus != "SHIPPED" {
		t.Fatalf("ship status constant: %q", asn.ShipStatus)
	}
}

func TestProjectionsAreDeterministic(t *testing.T) {
	c := domain.ShipmentNotice{
		ShipmentNumber: "SHP-9",
		PONumber:       "PO-9",
		Items: []domain.ShipmentItem{
			{SKU: "A", Quantity: "1"},
			{SKU: "B", Quantity: "2"},
		},
		Status: "PARSED_856",
	}
	first := projector.ShipmentNoticePayload(c)
	second := projector.ShipmentNoticePayload(c)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same canonical input produced different payloads: %+v vs %+v", first, second)
	}
}

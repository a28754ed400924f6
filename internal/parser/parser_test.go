package parser_test

import (
	"errors"
	"testing"

	"edigate/internal/domain"
	"edigate/internal/parser"
)

func TestParsePurchaseOrder(t *testing.T) {
	got, err := parser.ParsePurchaseOrder(`<po><poNumber>PO-12345</poNumber></po>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := domain.PurchaseOrder{PONumber: "PO-12345", Status: "PARSED"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParsePurchaseOrderIgnoresNamespaces(t *testing.T) {
	inputs := []string{
		`<ns1:po xmlns:ns1="urn:partner-a"><ns1:poNumber>PO-77</ns1:poNumber></ns1:po>`,
		// Undeclared prefixes happen in the wild and must still match.
		`<x:po><x:poNumber>PO-77</x:poNumber></x:po>`,
		`<po xmlns="urn:partner-b"><poNumber>PO-77</poNumber></po>`,
	}
	for _, raw := range inputs {
		got, err := parser.ParsePurchaseOrder(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got.PONumber != "PO-77" {
			t.Fatalf("parse %q: got poNumber %q", raw, got.PONumber)
		}
	}
}

func TestParsePurchaseOrderFirstMatchWins(t *testing.T) {
	raw := `<po><header><poNumber>PO-FIRST</poNumber></header><ref><poNumber>PO-SECOND</poNumber></ref></po>`
	got, err := parser.ParsePurchaseOrder(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.PONumber != "PO-FIRST" {
		t.Fatalf("got %q, want first match in document order", got.PONumber)
	}
}

func TestParsePurchaseOrderMissingFieldsDefaultEmpty(t *testing.T) {
	got, err := parser.ParsePurchaseOrder(`<envelope><other>x</other></envelope>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.PONumber != "" {
		t.Fatalf("got %q, want empty string default", got.PONumber)
	}
	if got.Status != "PARSED" {
		t.Fatalf("status %q", got.Status)
	}
}

func TestParseShipmentNotice(t *testing.T) {
	raw := `<asn:shipment xmlns:asn="urn:856">
  <asn:shipmentIdentificationNumber>SHP-1</asn:shipmentIdentificationNumber>
  <asn:poNumber>PO-123</asn:poNumber>
  <asn:item>
    <asn:itemIdentifier>SKU-1</asn:itemIdentifier>
    <asn:quantityShipped>10</asn:quantityShipped>
  </asn:item>
</asn:shipment>`
	got, err := parser.ParseShipmentNotice(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ShipmentNumber != "SHP-1" || got.PONumber != "PO-123" || got.Status != "PARSED_856" {
		t.Fatalf("header fields: %+v", got)
	}
	if len(got.Items) != 1 {
		t.Fatalf("items: %+v", got.Items)
	}
	if got.Items[0] != (domain.ShipmentItem{SKU: "SKU-1", Quantity: "10"}) {
		t.Fatalf("item: %+v", got.Items[0])
	}
}

func TestParseShipmentNoticeItemScopingAndOrder(t *testing.T) {
	raw := `<shipment>
  <shipmentIdentificationNumber>SHP-2</shipmentIdentificationNumber>
  <item><itemIdentifier>SKU-A</itemIdentifier><quantityShipped>1</quantityShipped></item>
  <item><itemIdentifier>SKU-B</itemIdentifier><quantityShipped>2</quantityShipped></item>
  <item><quantityShipped>3</quantityShipped></item>
</shipment>`
	got, err := parser.ParseShipmentNotice(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.ShipmentItem{
		{SKU: "SKU-A", Quantity: "1"},
		{SKU: "SKU-B", Quantity: "2"},
		{SKU: "", Quantity: "3"},
	}
	if len(got.Items) != len(want) {
		t.Fatalf("got %d items, want %d", len(got.Items), len(want))
	}
	for i := range want {
		if got.Items[i] != want[i] {
			t.Fatalf("item %d: got %+v, want %+v", i, got.Items[i], want[i])
		}
	}
}

func TestParseShipmentNoticeEmptyDocument(t *testing.T) {
	got, err := parser.ParseShipmentNotice(`<shipment/>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ShipmentNumber != "" || got.PONumber != "" {
		t.Fatalf("scalars should default empty: %+v", got)
	}
	if got.Items == nil || len(got.Items) != 0 {
		t.Fatalf("items should be an empty, non-nil sequence: %#v", got.Items)
	}
}

func TestParseMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"this is not xml",
		`<po><poNumber>PO-1</po>`,
		`<po><poNumber>PO-1</poNumber>`,
	}
	for _, raw := range cases {
		_, err := parser.ParsePurchaseOrder(raw)
		var pe *parser.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("input %q: got %v, want ParseError", raw, err)
		}
		_, err = parser.ParseShipmentNotice(raw)
		if !errors.As(err, &pe) {
			t.Fatalf("input %q (856): got %v, want ParseError", raw, err)
		}
	}
}

func TestParseContentOutsideRoot(t *testing.T) {
	cases := []string{
		`<po><poNumber>PO-1</poNumber></po><po2/>`,
		`<po><poNumber>PO-1</poNumber></po>trailing garbage`,
		`junk<po><poNumber>PO-1</poNumber></po>`,
	}
	for _, raw := range cases {
		_, err := parser.ParsePurchaseOrder(raw)
		var pe *parser.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("input %q: got %v, want ParseError", raw, err)
		}
		_, err = parser.ParseShipmentNotice(raw)
		if !errors.As(err, &pe) {
			t.Fatalf("input %q (856): got %v, want ParseError", raw, err)
		}
	}

	// Whitespace, comments, and an XML declaration around the root stay legal.
	got, err := parser.ParsePurchaseOrder("<?xml version=\"1.0\"?>\n<!-- partner feed -->\n<po><poNumber>PO-1</poNumber></po>\n")
	if err != nil {
		t.Fatalf("prolog and surrounding whitespace: %v", err)
	}
	if got.PONumber != "PO-1" {
		t.Fatalf("got %q", got.PONumber)
	}
}

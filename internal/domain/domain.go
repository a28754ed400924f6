package domain

import "encoding/json"

// Supported inbound document types. The set is closed: adding a new
// document type means adding a new canonical variant, not changing these.
const (
	DocTypePurchaseOrder  = "850"
	DocTypeShipmentNotice = "856"
)

// Run outcomes.
const (
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// Canonical statuses stamped by the parsers.
const (
	StatusParsedPO  = "PARSED"
	StatusParsedASN = "PARSED_856"
)

// PurchaseOrder is the canonical form of an inbound 850.
// Absent source fields are empty strings, never missing.
type PurchaseOrder struct {
	PONumber string `json:"poNumber"`
	Status   string `json:"status" enum:"PARSED"`
}

// ShipmentItem is one line of an ASN. Quantity stays a string; the
// downstream system receives it verbatim.
type ShipmentItem struct {
	SKU      string `json:"sku"`
	Quantity string `json:"quantity"`
}

// ShipmentNotice is the canonical form of an inbound 856. Items keep
// document order.
type ShipmentNotice struct {
	ShipmentNumber string         `json:"shipmentNumber"`
	PONumber       string         `json:"poNumber"`
	Items          []ShipmentItem `json:"items"`
	Status         string         `json:"status" enum:"PARSED_856"`
}

// POPayload is the downstream sales-order shape for an 850.
type POPayload struct {
	OtherRefNum string `json:"otherRefNum"`
	Memo        string `json:"memo"`
}

// ASNPayload is the downstream fulfillment shape for an 856.
type ASNPayload struct {
	CreatedFrom    string         `json:"createdFrom"`
	ShipStatus     string         `json:"shipStatus"`
	ShipmentNumber string         `json:"shipmentNumber"`
	Items          []ShipmentItem `json:"items"`
	Memo           string         `json:"memo"`
}

// RunRecord is one immutable audit entry for an ingestion attempt.
// Exactly one of two shapes holds: SUCCESS with canonical and target
// payload snapshots and no error, or FAILED with neither snapshot and a
// non-empty error. RawInput is kept either way so the run stays
// replayable.
type RunRecord struct {
	RunID         string          `json:"run_id"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
	Partner       string          `json:"partner"`
	DocType       string          `json:"doc_type" enum:"850,856"`
	Status        string          `json:"status" enum:"SUCCESS,FAILED"`
	PONumber      *string         `json:"po_number,omitempty"`
	RawInput      string          `json:"raw_input"`
	Canonical     json.RawMessage `json:"canonical,omitempty"`
	TargetPayload json.RawMessage `json:"target_payload,omitempty"`
	Error         *string         `json:"error,omitempty"`
}

// Event is one append-only audit stream entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Partner    string `json:"partner,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates an actor by hashed secret. The plaintext key is
// never stored.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

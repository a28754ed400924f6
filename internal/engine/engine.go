// Package engine wires parsers, projectors and the run store together.
// Ingestion records every attempt, successful or not; replay re-executes
// a recorded run from its stored input without writing anything.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"edigate/internal/config"
	"edigate/internal/domain"
	"edigate/internal/events"
	"edigate/internal/parser"
	"edigate/internal/projector"
	"edigate/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
}

// New builds an engine around an already-opened, already-migrated
// database handle. Clock injection for tests goes through Repo.Now and
// Events.Now.
func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
	}
}

// ErrNoStoredInput marks a located run record that unexpectedly lacks
// its raw input. The recorder always stores it, so hitting this is a
// data-integrity signal, not something to retry.
var ErrNoStoredInput = errors.New("no raw input stored for run")

// ErrUnknownDocType rejects doc types outside the supported set before
// any run is recorded.
var ErrUnknownDocType = errors.New("unknown doc type")

// IngestError is the failure envelope for an ingestion whose parse or
// projection failed. The run id it carries points at the FAILED record,
// which is exactly as auditable as a successful one.
type IngestError struct {
	RunID string
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed (run %s): %v", e.RunID, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// IngestOptions are parameters for one ingestion attempt.
type IngestOptions struct {
	DocType  string
	Partner  string
	RawInput string
	ActorID  string
}

// Ingest runs parser then projector for the doc type and records the
// outcome. On success the returned record carries both structured
// snapshots. On a transform failure a FAILED record is still written and
// the returned error is an *IngestError holding its run id. Only storage
// unavailability propagates as a bare error with no record.
func (e Engine) Ingest(ctx context.Context, opts IngestOptions) (domain.RunRecord, error) {
	if opts.DocType != domain.DocTypePurchaseOrder && opts.DocType != domain.DocTypeShipmentNotice {
		return domain.RunRecord{}, fmt.Errorf("%w: %q", ErrUnknownDocType, opts.DocType)
	}
	partner := opts.Partner
	if partner == "" && e.Config != nil {
		partner = e.Config.Ingest.DefaultPartner
	}

	canonical, payload, poNumber, transformErr := transform(opts.DocType, opts.RawInput)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RunRecord{}, err
	}
	defer tx.Rollback()

	n := repo.NewRun{
		Partner:  partner,
		DocType:  opts.DocType,
		RawInput: opts.RawInput,
	}
	if transformErr == nil {
		n.Status = domain.RunStatusSuccess
		n.PONumber = &poNumber
		n.Canonical = canonical
		n.TargetPayload = payload
	} else {
		msg := transformErr.Error()
		n.Status = domain.RunStatusFailed
		n.Error = &msg
	}
	rec, err := e.Repo.InsertRunTx(ctx, tx, n)
	if err != nil {
		return domain.RunRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "run.recorded", partner, "run", rec.RunID, opts.ActorID, events.EventPayload{
		"doc_type": rec.DocType,
		"status":   rec.Status,
	}); err != nil {
		return domain.RunRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RunRecord{}, err
	}
	if transformErr != nil {
		return rec, &IngestError{RunID: rec.RunID, Err: transformErr}
	}
	return rec, nil
}

// StoredRun is the recorded half of a replay, echoed unmodified.
type StoredRun struct {
	CreatedAt     string          `json:"created_at" format:"date-time"`
	Status        string          `json:"status" enum:"SUCCESS,FAILED"`
	PONumber      *string         `json:"po_number,omitempty"`
	Canonical     json.RawMessage `json:"canonical,omitempty"`
	TargetPayload json.RawMessage `json:"target_payload,omitempty"`
	Error         *string         `json:"error,omitempty"`
}

// ReplayedRun is the freshly recomputed half. Error is set when the
// stored input still fails to transform, which for an unchanged parser
// reproduces the original failure.
type ReplayedRun struct {
	Canonical     json.RawMessage `json:"canonical,omitempty"`
	TargetPayload json.RawMessage `json:"target_payload,omitempty"`
	Error         *string         `json:"error,omitempty"`
}

// ReplayResult holds both halves for the caller to diff. No drift
// verdict is computed here.
type ReplayResult struct {
	RunID    string      `json:"run_id"`
	Partner  string      `json:"partner"`
	DocType  string      `json:"doc_type" enum:"850,856"`
	Stored   StoredRun   `json:"stored"`
	Replayed ReplayedRun `json:"replayed"`
}

// Replay fetches a run record and re-executes parse+project against its
// stored raw input. It is strictly read-plus-recompute: no record is
// written or mutated. Fails with repo.ErrNotFound for unknown ids and
// ErrNoStoredInput when the record lacks raw input.
func (e Engine) Replay(ctx context.Context, runID string) (ReplayResult, error) {
	rec, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return ReplayResult{}, err
	}
	if rec.RawInput == "" {
		return ReplayResult{}, fmt.Errorf("%w %s", ErrNoStoredInput, runID)
	}
	res := ReplayResult{
		RunID:   rec.RunID,
		Partner: rec.Partner,
		DocType: rec.DocType,
		Stored: StoredRun{
			CreatedAt:     rec.CreatedAt,
			Status:        rec.Status,
			PONumber:      rec.PONumber,
			Canonical:     rec.Canonical,
			TargetPayload: rec.TargetPayload,
			Error:         rec.Error,
		},
	}
	canonical, payload, _, transformErr := transform(rec.DocType, rec.RawInput)
	if transformErr != nil {
		msg := transformErr.Error()
		res.Replayed.Error = &msg
		return res, nil
	}
	canonicalJSON, err := json.Marshal(canonical)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("marshal replayed canonical: %w", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("marshal replayed payload: %w", err)
	}
	res.Replayed.Canonical = canonicalJSON
	res.Replayed.TargetPayload = payloadJSON
	return res, nil
}

// transform runs the matching parser and projector for a doc type. The
// projection is pure and total; only the parser can fail.
func transform(docType, raw string) (canonical, payload any, poNumber string, err error) {
	switch docType {
	case domain.DocTypePurchaseOrder:
		c, perr := parser.ParsePurchaseOrder(raw)
		if perr != nil {
			return nil, nil, "", perr
		}
		return c, projector.PurchaseOrderPayload(c), c.PONumber, nil
	case domain.DocTypeShipmentNotice:
		c, perr := parser.ParseShipmentNotice(raw)
		if perr != nil {
			return nil, nil, "", perr
		}
		return c, projector.ShipmentNoticePayload(c), c.PONumber, nil
	default:
		return nil, nil, "", fmt.Errorf("%w: %q", ErrUnknownDocType, docType)
	}
}

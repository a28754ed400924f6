package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"edigate/internal/domain"
)

// Repo is the run store. It owns run record creation and the run_id
// namespace; everything else only reads records back by identifier.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// NewRun carries the inputs for one run record. Canonical and
// TargetPayload are structured snapshots serialized to JSON on insert,
// or stored as true NULLs when absent.
type NewRun struct {
	Partner       string
	DocType       string
	Status        string
	PONumber      *string
	RawInput      string
	Canonical     any
	TargetPayload any
	Error         *string
}

// InsertRun appends one immutable run row and returns the stored record
// with its freshly assigned run_id. The insert is a single atomic row;
// failure here means the store itself is unavailable.
func (r Repo) InsertRun(ctx context.Context, n NewRun) (domain.RunRecord, error) {
	return r.insertRun(ctx, nil, n)
}

// InsertRunTx is InsertRun inside a caller-held transaction.
func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, n NewRun) (domain.RunRecord, error) {
	return r.insertRun(ctx, tx, n)
}

func (r Repo) insertRun(ctx context.Context, tx *sql.Tx, n NewRun) (domain.RunRecord, error) {
	rec := domain.RunRecord{
		RunID:     uuid.New().String(),
		CreatedAt: r.now().UTC().Format(time.RFC3339),
		Partner:   n.Partner,
		DocType:   n.DocType,
		Status:    n.Status,
		PONumber:  n.PONumber,
		RawInput:  n.RawInput,
		Error:     n.Error,
	}
	if n.Canonical != nil {
		data, err := json.Marshal(n.Canonical)
		if err != nil {
			return domain.RunRecord{}, fmt.Errorf("marshal canonical: %w", err)
		}
		rec.Canonical = data
	}
	if n.TargetPayload != nil {
		data, err := json.Marshal(n.TargetPayload)
		if err != nil {
			return domain.RunRecord{}, fmt.Errorf("marshal target payload: %w", err)
		}
		rec.TargetPayload = data
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO runs(run_id,created_at,partner,doc_type,status,po_number,raw_input,canonical_json,target_payload_json,error)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.CreatedAt, rec.Partner, rec.DocType, rec.Status,
		nullableP(rec.PONumber), rec.RawInput, nullableRaw(rec.Canonical), nullableRaw(rec.TargetPayload), nullableP(rec.Error))
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

const runColumns = `run_id,created_at,partner,doc_type,status,po_number,raw_input,canonical_json,target_payload_json,error`

// GetRun returns the full stored record for a run_id, with the
// structured snapshots decoded back from their stored encoding, or
// ErrNotFound when the identifier is unknown.
func (r Repo) GetRun(ctx context.Context, runID string) (domain.RunRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID)
	return scanRun(row.Scan)
}

// ListRuns returns runs newest first with keyset pagination. Cursor
// values come from the last row of the previous page.
func (r Repo) ListRuns(ctx context.Context, limit int, cursorCreatedAt, cursorRunID string) ([]domain.RunRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if cursorCreatedAt != "" && cursorRunID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND run_id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorRunID)
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, run_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CountRunsByStatus returns run counts keyed by status.
func (r Repo) CountRunsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanRun(scan func(...any) error) (domain.RunRecord, error) {
	var rec domain.RunRecord
	var poNumber, canonical, payload, errMsg sql.NullString
	err := scan(&rec.RunID, &rec.CreatedAt, &rec.Partner, &rec.DocType, &rec.Status,
		&poNumber, &rec.RawInput, &canonical, &payload, &errMsg)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if poNumber.Valid {
		rec.PONumber = &poNumber.String
	}
	if canonical.Valid {
		rec.Canonical = json.RawMessage(canonical.String)
	}
	if payload.Valid {
		rec.TargetPayload = json.RawMessage(payload.String)
	}
	if errMsg.Valid {
		rec.Error = &errMsg.String
	}
	return rec, nil
}

// EventsAfter returns up to limit events with id greater than cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(partner,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Partner, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullableP(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableRaw(v json.RawMessage) any {
	if v == nil {
		return nil
	}
	return string(v)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

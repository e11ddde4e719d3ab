package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brokerdesk/api/internal/ledger"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record changed since it was read")
)

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(db DBInterface) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// ListRecords returns every record of a collection ordered by id.
func (s *PostgresStore) ListRecords(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, collection, data, revision, updated_at
		FROM policy_records
		WHERE collection = $1
		ORDER BY id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, collection, id string) (Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, collection, data, revision, updated_at
		FROM policy_records
		WHERE collection = $1 AND id = $2
	`, collection, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// UpdateField sets a single top-level field and returns the new revision.
func (s *PostgresStore) UpdateField(ctx context.Context, collection, id, field string, value any) (int64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode field %s: %w", field, err)
	}
	var revision int64
	err = s.db.QueryRow(ctx, `
		UPDATE policy_records
		SET data = jsonb_set(data, ARRAY[$3]::text[], $4::jsonb, true),
			revision = revision + 1,
			updated_at = NOW()
		WHERE collection = $1 AND id = $2
		RETURNING revision
	`, collection, id, field, payload).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("update field %s: %w", field, err)
	}
	return revision, nil
}

// ApplyLedgerDelta writes every ledger field in one transaction, guarded by
// the revision the delta was computed from, and appends an audit event.
func (s *PostgresStore) ApplyLedgerDelta(ctx context.Context, collection, id string, delta ledger.Delta) (int64, error) {
	payload, err := json.Marshal(delta.Fields())
	if err != nil {
		return 0, fmt.Errorf("encode ledger delta: %w", err)
	}
	entries, err := json.Marshal(delta.Fields()[ledger.FieldEntries])
	if err != nil {
		return 0, fmt.Errorf("encode ledger entries: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin ledger tx: %w", err)
	}

	var revision int64
	err = tx.QueryRow(ctx, `
		UPDATE policy_records
		SET data = data || $3::jsonb,
			revision = revision + 1,
			updated_at = NOW()
		WHERE collection = $1 AND id = $2 AND revision = $4
		RETURNING revision
	`, collection, id, payload, delta.Revision).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if existsErr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM policy_records WHERE collection = $1 AND id = $2)`, collection, id).Scan(&exists); existsErr != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("check record: %w", existsErr)
		}
		_ = tx.Rollback(ctx)
		if exists {
			return 0, ErrConflict
		}
		return 0, ErrNotFound
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("apply ledger delta: %w", err)
	}

	var due *string
	if delta.NextDueDate.IsKnown() {
		v := delta.NextDueDate.String()
		due = &v
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_events (collection, record_id, operation, current_index, next_due_date, entries, revision)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
	`, collection, id, delta.Operation, delta.CurrentIndex, due, entries, revision); err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("insert ledger event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit ledger delta: %w", err)
	}
	return revision, nil
}

// ListLedgerEvents returns the audit trail of one record, newest first.
func (s *PostgresStore) ListLedgerEvents(ctx context.Context, collection, id string, limit int) ([]LedgerEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, collection, record_id, operation, current_index, COALESCE(next_due_date, ''), revision, created_at
		FROM ledger_events
		WHERE collection = $1 AND record_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, collection, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	defer rows.Close()

	var events []LedgerEvent
	for rows.Next() {
		var e LedgerEvent
		if err := rows.Scan(&e.ID, &e.Collection, &e.RecordID, &e.Operation, &e.CurrentIndex, &e.NextDueDate, &e.Revision, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		data      []byte
		updatedAt time.Time
	)
	if err := row.Scan(&rec.ID, &rec.Collection, &data, &rec.Revision, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = updatedAt
	rec.Fields = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Fields); err != nil {
			return Record{}, fmt.Errorf("decode record %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

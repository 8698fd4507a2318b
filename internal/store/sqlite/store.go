// Package sqlite persists triggers and event logs in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

//go:embed schema.sql
var schema string

const triggerColumns = `id, kind, schedule_type, schedule_value, is_recurring, api_endpoint, payload, is_test, created_at, updated_at`

type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, busyTimeout, opTimeout time.Duration) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if busyTimeout > 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma busy_timeout: %w", err)
		}
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma wal: %w", err)
		}
	}

	return &Store{db: db, opTimeout: opTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := encodePayload(t.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triggers (`+triggerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(),
		string(t.Kind),
		string(t.ScheduleType),
		t.ScheduleValue,
		t.IsRecurring,
		t.APIEndpoint,
		payload,
		t.IsTest,
		t.CreatedAt.UnixNano(),
		t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := scanTrigger(s.db.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trigger{}, domain.ErrTriggerNotFound
	}
	return t, err
}

func (s *Store) UpdateTrigger(ctx context.Context, t domain.Trigger) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := encodePayload(t.Payload)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE triggers
SET schedule_type = ?, schedule_value = ?, is_recurring = ?, api_endpoint = ?,
    payload = ?, is_test = ?, updated_at = ?
WHERE id = ?`,
		string(t.ScheduleType),
		t.ScheduleValue,
		t.IsRecurring,
		t.APIEndpoint,
		payload,
		t.IsTest,
		t.UpdatedAt.UnixNano(),
		t.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	return requireRow(result)
}

// DeleteTrigger removes the trigger. Its event logs are kept.
func (s *Store) DeleteTrigger(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return requireRow(result)
}

func (s *Store) ListTriggers(ctx context.Context, limit, offset int) ([]domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return collectTriggers(rows)
}

func (s *Store) ListScheduledTriggers(ctx context.Context) ([]domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE kind = ? ORDER BY created_at`,
		string(domain.TriggerKindScheduled))
	if err != nil {
		return nil, fmt.Errorf("list scheduled triggers: %w", err)
	}
	return collectTriggers(rows)
}

// AppendEventLog reads the trigger and inserts the log built from it in one
// transaction. Returns domain.ErrTriggerNotFound if the trigger is gone.
func (s *Store) AppendEventLog(ctx context.Context, triggerID uuid.UUID, build func(domain.Trigger) domain.EventLog) (domain.EventLog, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EventLog{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTrigger(tx.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, triggerID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventLog{}, domain.ErrTriggerNotFound
	}
	if err != nil {
		return domain.EventLog{}, err
	}

	log := build(t)
	payload, err := encodePayload(log.Payload)
	if err != nil {
		return domain.EventLog{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_logs (id, trigger_id, triggered_at, payload, is_test, state) VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID.String(),
		log.TriggerID.String(),
		log.TriggeredAt.UnixNano(),
		payload,
		log.IsTest,
		string(log.State),
	)
	if err != nil {
		return domain.EventLog{}, fmt.Errorf("insert event log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.EventLog{}, fmt.Errorf("commit: %w", err)
	}
	return log, nil
}

func (s *Store) ListEventLogs(ctx context.Context, limit, offset int) ([]domain.EventLog, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger_id, triggered_at, payload, is_test, state
FROM event_logs ORDER BY triggered_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var result []domain.EventLog
	for rows.Next() {
		var log domain.EventLog
		var id, triggerID, payload, state string
		var triggeredAt int64

		if err := rows.Scan(&id, &triggerID, &triggeredAt, &payload, &log.IsTest, &state); err != nil {
			return nil, err
		}
		if log.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("event log id: %w", err)
		}
		if log.TriggerID, err = uuid.Parse(triggerID); err != nil {
			return nil, fmt.Errorf("event log trigger id: %w", err)
		}
		if log.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
		log.TriggeredAt = fromNanos(triggeredAt)
		log.State = domain.EventLogState(state)
		result = append(result, log)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteEventLogsBefore removes logs with triggered_at strictly before cutoff.
func (s *Store) DeleteEventLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM event_logs WHERE triggered_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete event logs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var t domain.Trigger
	var id, kind, scheduleType, payload string
	var createdAt, updatedAt int64

	err := row.Scan(
		&id,
		&kind,
		&scheduleType,
		&t.ScheduleValue,
		&t.IsRecurring,
		&t.APIEndpoint,
		&payload,
		&t.IsTest,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Trigger{}, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return domain.Trigger{}, fmt.Errorf("trigger id: %w", err)
	}
	if t.Payload, err = decodePayload(payload); err != nil {
		return domain.Trigger{}, err
	}
	t.Kind = domain.TriggerKind(kind)
	t.ScheduleType = domain.ScheduleType(scheduleType)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	return t, nil
}

func collectTriggers(rows *sql.Rows) ([]domain.Trigger, error) {
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrTriggerNotFound
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func encodePayload(p domain.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(s string) (domain.Payload, error) {
	p := domain.Payload{}
	if s == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

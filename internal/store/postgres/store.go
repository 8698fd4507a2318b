package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

//go:embed schema.sql
var schema string

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Store persists triggers and event logs in PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store. A positive opTimeout bounds every operation.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
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

	_, err = s.db.ExecContext(ctx, queryInsertTrigger,
		t.ID,
		string(t.Kind),
		string(t.ScheduleType),
		t.ScheduleValue,
		t.IsRecurring,
		t.APIEndpoint,
		payload,
		t.IsTest,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

// GetTrigger returns domain.ErrTriggerNotFound if no trigger has the id.
func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := scanTrigger(s.db.QueryRowContext(ctx, queryGetTrigger, id))
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

	result, err := s.db.ExecContext(ctx, queryUpdateTrigger,
		t.ID,
		string(t.ScheduleType),
		t.ScheduleValue,
		t.IsRecurring,
		t.APIEndpoint,
		payload,
		t.IsTest,
		t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteTrigger removes the trigger. Its event logs are kept.
func (s *Store) DeleteTrigger(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryDeleteTrigger, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// ListTriggers returns triggers newest first, paginated by limit and offset.
func (s *Store) ListTriggers(ctx context.Context, limit, offset int) ([]domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTriggers, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTriggers(rows)
}

// ListScheduledTriggers returns every trigger of the scheduled kind.
func (s *Store) ListScheduledTriggers(ctx context.Context) ([]domain.Trigger, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListScheduledTriggers)
	if err != nil {
		return nil, err
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
		return domain.EventLog{}, err
	}
	defer tx.Rollback()

	t, err := scanTrigger(tx.QueryRowContext(ctx, queryGetTriggerForShare, triggerID))
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

	_, err = tx.ExecContext(ctx, queryInsertEventLog,
		log.ID,
		log.TriggerID,
		log.TriggeredAt,
		payload,
		log.IsTest,
		string(log.State),
	)
	if err != nil {
		return domain.EventLog{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.EventLog{}, err
	}
	return log, nil
}

// ListEventLogs returns logs newest first, paginated by limit and offset.
func (s *Store) ListEventLogs(ctx context.Context, limit, offset int) ([]domain.EventLog, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEventLogs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EventLog
	for rows.Next() {
		var log domain.EventLog
		var payload []byte
		var state string

		if err := rows.Scan(&log.ID, &log.TriggerID, &log.TriggeredAt, &payload, &log.IsTest, &state); err != nil {
			return nil, err
		}
		if log.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
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

	result, err := s.db.ExecContext(ctx, queryDeleteEventLogsBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var t domain.Trigger
	var kind, scheduleType string
	var payload []byte

	err := row.Scan(
		&t.ID,
		&kind,
		&scheduleType,
		&t.ScheduleValue,
		&t.IsRecurring,
		&t.APIEndpoint,
		&payload,
		&t.IsTest,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.Trigger{}, err
	}
	t.Kind = domain.TriggerKind(kind)
	t.ScheduleType = domain.ScheduleType(scheduleType)
	if t.Payload, err = decodePayload(payload); err != nil {
		return domain.Trigger{}, err
	}
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

// encodePayload returns the JSON text; lib/pq would send []byte as bytea.
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

func decodePayload(b []byte) (domain.Payload, error) {
	p := domain.Payload{}
	if len(b) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

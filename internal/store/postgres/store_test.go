package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

var (
	triggerCols = []string{"id", "kind", "schedule_type", "schedule_value", "is_recurring", "api_endpoint", "payload", "is_test", "created_at", "updated_at"}
	logCols     = []string{"id", "trigger_id", "triggered_at", "payload", "is_test", "state"}
	created     = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return New(db, time.Second), mock
}

func verify(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func sampleTrigger() domain.Trigger {
	return domain.Trigger{
		ID:            uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
		Kind:          domain.TriggerKindScheduled,
		ScheduleType:  domain.ScheduleTypeFixedInterval,
		ScheduleValue: "30",
		IsRecurring:   true,
		Payload:       domain.Payload{"n": 1.0},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func triggerRow(rows *sqlmock.Rows, t domain.Trigger) *sqlmock.Rows {
	return rows.AddRow(t.ID.String(), string(t.Kind), string(t.ScheduleType), t.ScheduleValue,
		t.IsRecurring, t.APIEndpoint, []byte(`{"n":1}`), t.IsTest, t.CreatedAt, t.UpdatedAt)
}

func TestCreateTrigger(t *testing.T) {
	s, mock := newMockStore(t)
	trig := sampleTrigger()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO triggers")).
		WithArgs(trig.ID, "scheduled", "fixed_interval", "30", true, "", `{"n":1}`, false, created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateTrigger(context.Background(), trig); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	verify(t, mock)
}

func TestGetTrigger(t *testing.T) {
	s, mock := newMockStore(t)
	trig := sampleTrigger()

	mock.ExpectQuery(regexp.QuoteMeta("FROM triggers")).
		WithArgs(trig.ID).
		WillReturnRows(triggerRow(sqlmock.NewRows(triggerCols), trig))

	got, err := s.GetTrigger(context.Background(), trig.ID)
	if err != nil {
		t.Fatalf("GetTrigger failed: %v", err)
	}
	if got.ID != trig.ID || got.Kind != trig.Kind || got.ScheduleValue != "30" || !got.IsRecurring {
		t.Errorf("unexpected trigger: %+v", got)
	}
	if got.Payload["n"] != 1.0 {
		t.Errorf("payload not decoded: %v", got.Payload)
	}
	verify(t, mock)
}

func TestGetTrigger_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM triggers")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetTrigger(context.Background(), id); !errors.Is(err, domain.ErrTriggerNotFound) {
		t.Errorf("expected ErrTriggerNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestUpdateTrigger_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	trig := sampleTrigger()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE triggers")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpdateTrigger(context.Background(), trig); !errors.Is(err, domain.ErrTriggerNotFound) {
		t.Errorf("expected ErrTriggerNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestDeleteTrigger(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM triggers")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM triggers")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteTrigger(context.Background(), id); err != nil {
		t.Fatalf("DeleteTrigger failed: %v", err)
	}
	if err := s.DeleteTrigger(context.Background(), id); !errors.Is(err, domain.ErrTriggerNotFound) {
		t.Errorf("second delete: expected ErrTriggerNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestListScheduledTriggers(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := sampleTrigger(), sampleTrigger()
	b.ID = uuid.New()

	rows := sqlmock.NewRows(triggerCols)
	triggerRow(rows, a)
	triggerRow(rows, b)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE kind = 'scheduled'")).WillReturnRows(rows)

	got, err := s.ListScheduledTriggers(context.Background())
	if err != nil {
		t.Fatalf("ListScheduledTriggers failed: %v", err)
	}
	if len(got) != 2 || got[1].ID != b.ID {
		t.Errorf("unexpected triggers: %+v", got)
	}
	verify(t, mock)
}

func TestAppendEventLog(t *testing.T) {
	s, mock := newMockStore(t)
	trig := sampleTrigger()
	logID := uuid.New()
	firedAt := created.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR SHARE")).
		WithArgs(trig.ID).
		WillReturnRows(triggerRow(sqlmock.NewRows(triggerCols), trig))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_logs")).
		WithArgs(logID, trig.ID, firedAt, `{"n":1}`, false, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	log, err := s.AppendEventLog(context.Background(), trig.ID, func(t domain.Trigger) domain.EventLog {
		return domain.EventLog{
			ID:          logID,
			TriggerID:   t.ID,
			TriggeredAt: firedAt,
			Payload:     t.Payload,
			State:       domain.EventLogStateActive,
		}
	})
	if err != nil {
		t.Fatalf("AppendEventLog failed: %v", err)
	}
	if log.ID != logID {
		t.Errorf("log id = %s, want %s", log.ID, logID)
	}
	verify(t, mock)
}

func TestAppendEventLog_TriggerGone(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR SHARE")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	_, err := s.AppendEventLog(context.Background(), id, func(domain.Trigger) domain.EventLog {
		called = true
		return domain.EventLog{}
	})
	if !errors.Is(err, domain.ErrTriggerNotFound) {
		t.Fatalf("expected ErrTriggerNotFound, got %v", err)
	}
	if called {
		t.Error("build must not run for a missing trigger")
	}
	verify(t, mock)
}

func TestAppendEventLog_InsertFailsRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	trig := sampleTrigger()
	insertErr := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR SHARE")).
		WithArgs(trig.ID).
		WillReturnRows(triggerRow(sqlmock.NewRows(triggerCols), trig))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_logs")).WillReturnError(insertErr)
	mock.ExpectRollback()

	_, err := s.AppendEventLog(context.Background(), trig.ID, func(t domain.Trigger) domain.EventLog {
		return domain.EventLog{ID: uuid.New(), TriggerID: t.ID, TriggeredAt: created}
	})
	if !errors.Is(err, insertErr) {
		t.Fatalf("expected insert error, got %v", err)
	}
	verify(t, mock)
}

func TestListEventLogs(t *testing.T) {
	s, mock := newMockStore(t)
	logID, trigID := uuid.New(), uuid.New()

	rows := sqlmock.NewRows(logCols).
		AddRow(logID.String(), trigID.String(), created, []byte(`{"k":"v"}`), true, "active")
	mock.ExpectQuery(regexp.QuoteMeta("FROM event_logs")).
		WithArgs(50, 0).
		WillReturnRows(rows)

	got, err := s.ListEventLogs(context.Background(), 50, 0)
	if err != nil {
		t.Fatalf("ListEventLogs failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 log, got %d", len(got))
	}
	if got[0].TriggerID != trigID || !got[0].IsTest || got[0].Payload["k"] != "v" || got[0].State != domain.EventLogStateActive {
		t.Errorf("unexpected log: %+v", got[0])
	}
	verify(t, mock)
}

func TestDeleteEventLogsBefore(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := created.Add(-48 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM event_logs WHERE triggered_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.DeleteEventLogsBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteEventLogsBefore failed: %v", err)
	}
	if n != 7 {
		t.Errorf("deleted = %d, want 7", n)
	}
	verify(t, mock)
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS triggers")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	verify(t, mock)
}

func TestPayloadCodec(t *testing.T) {
	s, err := encodePayload(nil)
	if err != nil || s != "{}" {
		t.Errorf("encodePayload(nil) = %q, %v", s, err)
	}

	p, err := decodePayload(nil)
	if err != nil || p == nil || len(p) != 0 {
		t.Errorf("decodePayload(nil) = %v, %v", p, err)
	}

	if _, err := decodePayload([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"buildstate/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var failureRowColumns = []string{"id", "build_id", "checkpoint", "category", "message", "detail", "component",
	"retry_attempt", "resolved", "resolution_note", "resolved_at", "resolved_by", "created_by", "created_at"}

func TestCreateFailure(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	component := "packer"
	f := &store.FailureRecord{
		ID:           uuid.New(),
		BuildID:      uuid.New(),
		Checkpoint:   5,
		Category:     "resource_error",
		Message:      "disk full",
		Component:    &component,
		RetryAttempt: 1,
		CreatedBy:    "worker-1",
		CreatedAt:    time.Now(),
	}

	mock.ExpectExec(`INSERT INTO build_failures`).
		WithArgs(f.ID, f.BuildID, 5, "resource_error", "disk full", sqlmock.AnyArg(), "packer", 1,
			false, nil, nil, nil, "worker-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateFailure(context.Background(), f); err != nil {
		t.Fatalf("CreateFailure failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetFailure(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	buildID := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM build_failures WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(failureRowColumns).
			AddRow(id.String(), buildID.String(), 5, "tool_error", "exit 2", []byte(`{"exit_code":2}`), nil,
				0, false, nil, nil, nil, "w1", time.Now()))

	f, err := s.GetFailure(context.Background(), id)
	if err != nil {
		t.Fatalf("GetFailure failed: %v", err)
	}
	if f.BuildID != buildID || f.Resolved {
		t.Errorf("unexpected failure: %+v", f)
	}
	if f.Detail["exit_code"] != float64(2) {
		t.Errorf("detail not decoded: %v", f.Detail)
	}
}

func TestGetFailure_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM build_failures WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetFailure(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveFailure(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	note := "expanded volume"
	by := "ops"
	at := time.Now()
	f := &store.FailureRecord{ID: uuid.New(), ResolutionNote: &note, ResolvedAt: &at, ResolvedBy: &by}

	mock.ExpectExec(`UPDATE build_failures`).
		WithArgs(note, sqlmock.AnyArg(), by, f.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ResolveFailure(context.Background(), f); err != nil {
		t.Fatalf("ResolveFailure failed: %v", err)
	}

	mock.ExpectExec(`UPDATE build_failures`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.ResolveFailure(context.Background(), f); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectExec(`UPDATE build_failures`).
		WillReturnError(sql.ErrConnDone)

	if err := s.ResolveFailure(context.Background(), f); !errors.Is(err, sql.ErrConnDone) {
		t.Errorf("expected store error to surface, got %v", err)
	}
}

func TestListFailures_UnresolvedOnly(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	buildID := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM build_failures WHERE build_id = \$1 AND resolved = FALSE`).
		WithArgs(buildID).
		WillReturnRows(sqlmock.NewRows(failureRowColumns).
			AddRow(uuid.NewString(), buildID.String(), 5, "resource_error", "disk full", []byte(`{}`), nil,
				0, false, nil, nil, nil, "w1", time.Now()))

	failures, err := s.ListFailures(context.Background(), buildID, true)
	if err != nil {
		t.Fatalf("ListFailures failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
}

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

var variableRowColumns = []string{"build_id", "key", "value", "type", "sensitive", "required_for_resume",
	"set_at_checkpoint", "created_at", "updated_at"}

func TestUpsertVariable_KeepsCreatedAt(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	v := &store.Variable{
		BuildID:           uuid.New(),
		Key:               "ami_id",
		Value:             "ami-123",
		Type:              "string",
		RequiredForResume: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	mock.ExpectQuery(`INSERT INTO build_variables (.+) ON CONFLICT \(build_id, key\) DO UPDATE`).
		WithArgs(v.BuildID, "ami_id", "ami-123", "string", false, true, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	if err := s.UpsertVariable(context.Background(), v); err != nil {
		t.Fatalf("UpsertVariable failed: %v", err)
	}
	if !v.CreatedAt.Equal(created) {
		t.Errorf("got CreatedAt %v, want %v", v.CreatedAt, created)
	}
}

func TestGetVariable(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	buildID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM build_variables WHERE build_id = \$1 AND key = \$2`).
		WithArgs(buildID, "token").
		WillReturnRows(sqlmock.NewRows(variableRowColumns).
			AddRow(buildID.String(), "token", "s3cr3t", "secret_ref", true, true, 20, now, now))

	v, err := s.GetVariable(context.Background(), buildID, "token")
	if err != nil {
		t.Fatalf("GetVariable failed: %v", err)
	}
	if v.Value != "s3cr3t" || !v.Sensitive {
		t.Errorf("unexpected variable: %+v", v)
	}
	if v.SetAtCheckpoint == nil || *v.SetAtCheckpoint != 20 {
		t.Errorf("unexpected checkpoint: %v", v.SetAtCheckpoint)
	}

	mock.ExpectQuery(`SELECT (.+) FROM build_variables`).
		WithArgs(buildID, "missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetVariable(context.Background(), buildID, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListVariables_RequiredOnly(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	buildID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM build_variables WHERE build_id = \$1 AND required_for_resume = TRUE ORDER BY key ASC`).
		WithArgs(buildID).
		WillReturnRows(sqlmock.NewRows(variableRowColumns).
			AddRow(buildID.String(), "a", "1", "int", false, true, nil, now, now).
			AddRow(buildID.String(), "b", "", "string", false, true, nil, now, now))

	vars, err := s.ListVariables(context.Background(), buildID, true)
	if err != nil {
		t.Fatalf("ListVariables failed: %v", err)
	}
	if len(vars) != 2 {
		t.Fatalf("got %d variables, want 2", len(vars))
	}
	if vars[1].Present() {
		t.Error("empty value should not count as present")
	}
}

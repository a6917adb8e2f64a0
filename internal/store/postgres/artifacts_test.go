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

var artifactRowColumns = []string{"id", "build_id", "checkpoint", "name", "storage_type", "storage_path",
	"size_bytes", "checksum", "metadata", "resumable", "final", "created_by", "created_at"}

func TestCreateArtifact(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	size := int64(1024)
	sum := "sha256:" + "ab"
	a := &store.Artifact{
		ID:          uuid.New(),
		BuildID:     uuid.New(),
		Checkpoint:  20,
		StorageType: "s3",
		StoragePath: "s3://images/base.qcow2",
		SizeBytes:   &size,
		Checksum:    &sum,
		Resumable:   true,
		CreatedBy:   "worker-1",
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO build_artifacts`).
		WithArgs(a.ID, a.BuildID, 20, nil, "s3", "s3://images/base.qcow2", int64(1024),
			sum, sqlmock.AnyArg(), true, false, "worker-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateArtifact(context.Background(), a); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestLatestArtifact_ResumableOnly(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	buildID := uuid.New()
	id := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM build_artifacts WHERE build_id = \$1 AND checkpoint = \$2 AND resumable = TRUE ORDER BY created_at DESC, id DESC LIMIT 1`).
		WithArgs(buildID, 20).
		WillReturnRows(sqlmock.NewRows(artifactRowColumns).
			AddRow(id.String(), buildID.String(), 20, "base", "nfs", "/mnt/images/base.qcow2",
				int64(2048), "sha256:00", []byte(`{}`), true, false, "w1", time.Now()))

	a, err := s.LatestArtifact(context.Background(), buildID, 20, true)
	if err != nil {
		t.Fatalf("LatestArtifact failed: %v", err)
	}
	if a.ID != id || !a.Resumable {
		t.Errorf("unexpected artifact: %+v", a)
	}
	if a.Name == nil || *a.Name != "base" {
		t.Errorf("unexpected name: %v", a.Name)
	}
}

func TestLatestArtifact_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	buildID := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM build_artifacts WHERE build_id = \$1 AND checkpoint = \$2 ORDER BY`).
		WithArgs(buildID, 20).
		WillReturnError(sql.ErrNoRows)

	if _, err := s.LatestArtifact(context.Background(), buildID, 20, false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListArtifacts_Filters(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	buildID := uuid.New()
	checkpoint := 100
	final := true

	mock.ExpectQuery(`SELECT (.+) FROM build_artifacts WHERE build_id = \$1 AND checkpoint = \$2 AND final = \$3`).
		WithArgs(buildID, 100, true).
		WillReturnRows(sqlmock.NewRows(artifactRowColumns).
			AddRow(uuid.NewString(), buildID.String(), 100, nil, "s3", "s3://out/ami.txt",
				nil, nil, []byte(`{}`), false, true, "w1", time.Now()))

	artifacts, err := s.ListArtifacts(context.Background(), buildID, store.ArtifactFilter{
		Checkpoint: &checkpoint,
		Final:      &final,
	})
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(artifacts) != 1 || !artifacts[0].Final {
		t.Errorf("unexpected artifacts: %+v", artifacts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

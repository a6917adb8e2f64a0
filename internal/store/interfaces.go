package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// BuildFilter narrows ListBuilds.
type BuildFilter struct {
	Statuses []BuildStatus
	Platform string
	Limit    int
	Offset   int
}

// ArtifactFilter narrows ListArtifacts. Nil fields match everything.
type ArtifactFilter struct {
	Checkpoint *int
	Resumable  *bool
	Final      *bool
}

// BuildStore persists Build rows.
type BuildStore interface {
	// CreateBuild inserts a new build with Version 1.
	CreateBuild(ctx context.Context, build *Build) error

	// GetBuild returns ErrNotFound when the id is unknown.
	GetBuild(ctx context.Context, id uuid.UUID) (*Build, error)

	GetBuildByNumber(ctx context.Context, number string) (*Build, error)

	ListBuilds(ctx context.Context, filter BuildFilter) ([]Build, error)

	// UpdateBuild applies update only if the stored version still equals
	// update.ExpectedVersion, otherwise it returns ErrVersionConflict.
	UpdateBuild(ctx context.Context, update BuildUpdate) error

	CountBuildsByStatus(ctx context.Context) (map[BuildStatus]int64, error)
}

// LedgerStore persists the append-only checkpoint ledger.
type LedgerStore interface {
	// AppendTransition inserts entry and applies update as one atomic unit.
	// It returns ErrVersionConflict without inserting anything when the
	// build row changed since it was read.
	AppendTransition(ctx context.Context, entry *CheckpointEntry, update BuildUpdate) error

	// ListLedger returns entries ordered by (created_at, id).
	ListLedger(ctx context.Context, buildID uuid.UUID) ([]CheckpointEntry, error)

	// LatestEntry returns the most recent entry for a checkpoint or ErrNotFound.
	LatestEntry(ctx context.Context, buildID uuid.UUID, checkpoint int) (*CheckpointEntry, error)

	CountFailedEntries(ctx context.Context, buildID uuid.UUID, checkpoint int) (int, error)

	// HighestCompleted returns the highest completed checkpoint <= atOrBelow or ErrNotFound.
	HighestCompleted(ctx context.Context, buildID uuid.UUID, atOrBelow int) (int, error)

	// LastFailedCheckpoint returns the checkpoint of the most recent failed entry or ErrNotFound.
	LastFailedCheckpoint(ctx context.Context, buildID uuid.UUID) (int, error)
}

// FailureStore persists failure records.
type FailureStore interface {
	CreateFailure(ctx context.Context, failure *FailureRecord) error
	GetFailure(ctx context.Context, id uuid.UUID) (*FailureRecord, error)

	// ResolveFailure persists the resolution fields of failure.
	ResolveFailure(ctx context.Context, failure *FailureRecord) error

	ListFailures(ctx context.Context, buildID uuid.UUID, unresolvedOnly bool) ([]FailureRecord, error)
}

// ArtifactStore persists artifact records.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, artifact *Artifact) error

	// LatestArtifact returns the most recently created artifact at exactly
	// checkpoint, optionally restricted to resumable ones, or ErrNotFound.
	LatestArtifact(ctx context.Context, buildID uuid.UUID, checkpoint int, resumableOnly bool) (*Artifact, error)

	ListArtifacts(ctx context.Context, buildID uuid.UUID, filter ArtifactFilter) ([]Artifact, error)
}

// VariableStore persists build variables.
type VariableStore interface {
	// UpsertVariable inserts or replaces the variable keyed by (build, key).
	// CreatedAt of an existing row is preserved and written back into v.
	UpsertVariable(ctx context.Context, v *Variable) error

	GetVariable(ctx context.Context, buildID uuid.UUID, key string) (*Variable, error)

	ListVariables(ctx context.Context, buildID uuid.UUID, requiredOnly bool) ([]Variable, error)
}

// ReferenceStore resolves platform, OS version and image type identifiers.
type ReferenceStore interface {
	ReferenceExists(ctx context.Context, kind ReferenceKind, name string) (bool, error)

	// CreateReference is idempotent.
	CreateReference(ctx context.Context, kind ReferenceKind, name string) error
}

// PrincipalStore handles retrieving API key holders for authentication.
type PrincipalStore interface {
	// CreatePrincipal inserts a new principal to the database
	CreatePrincipal(ctx context.Context, principal *Principal, hashedKey string) error

	// GetPrincipalByAPIKeyHash returns ErrNotFound when no key matches.
	GetPrincipalByAPIKeyHash(ctx context.Context, hash string) (*Principal, error)
}

// Store is everything a buildstate deployment persists.
type Store interface {
	BuildStore
	LedgerStore
	FailureStore
	ArtifactStore
	VariableStore
	ReferenceStore
	PrincipalStore
	Ping(ctx context.Context) error
	Close() error
}

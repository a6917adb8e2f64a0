// Package store contains the database layer for buildstate.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MinCheckpoint and MaxCheckpoint bound every checkpoint number.
const (
	MinCheckpoint = 0
	MaxCheckpoint = 100
)

// Build is the mutable summary of one logical build.
// CurrentCheckpoint and Status are derived from the checkpoint ledger and
// guarded by Version.
type Build struct {
	ID                uuid.UUID
	BuildNumber       string
	Platform          string
	OSVersion         string
	ImageType         string
	Description       *string
	Metadata          Metadata
	CurrentCheckpoint int
	StartCheckpoint   int
	Status            BuildStatus
	Owner             string
	Version           int64
	StartTime         time.Time
	EndTime           *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BuildStatus represents the state of a build.
type BuildStatus string

const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (s BuildStatus) Terminal() bool {
	return s == BuildStatusCompleted || s == BuildStatusCancelled
}

// Valid reports whether s is a known build status.
func (s BuildStatus) Valid() bool {
	switch s {
	case BuildStatusPending, BuildStatusRunning, BuildStatusCompleted, BuildStatusFailed, BuildStatusCancelled:
		return true
	}
	return false
}

// CheckpointEntry is one immutable row of the checkpoint ledger.
type CheckpointEntry struct {
	ID         int64
	BuildID    uuid.UUID
	Checkpoint int
	Status     EntryStatus
	StartTime  time.Time
	EndTime    *time.Time
	DurationMs *int64
	Message    *string
	Metadata   Metadata
	RetryCount int
	CreatedBy  string
	CreatedAt  time.Time
}

// EntryStatus is the status recorded on a ledger row.
type EntryStatus string

const (
	EntryStatusStarted   EntryStatus = "started"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusSkipped   EntryStatus = "skipped"
)

// Valid reports whether s is one of the four ledger statuses.
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryStatusStarted, EntryStatusCompleted, EntryStatusFailed, EntryStatusSkipped:
		return true
	}
	return false
}

// Closed reports whether an entry with this status carries an end time.
func (s EntryStatus) Closed() bool {
	return s == EntryStatusCompleted || s == EntryStatusFailed || s == EntryStatusSkipped
}

// BuildUpdate is the version-guarded change applied to a Build row.
type BuildUpdate struct {
	ID                uuid.UUID
	ExpectedVersion   int64
	CurrentCheckpoint int
	Status            BuildStatus
	EndTime           *time.Time
	UpdatedAt         time.Time
}

// FailureRecord describes one failed attempt at a checkpoint.
type FailureRecord struct {
	ID             uuid.UUID
	BuildID        uuid.UUID
	Checkpoint     int
	Category       string
	Message        string
	Detail         Metadata
	Component      *string
	RetryAttempt   int
	Resolved       bool
	ResolutionNote *string
	ResolvedAt     *time.Time
	ResolvedBy     *string
	CreatedBy      string
	CreatedAt      time.Time
}

// Artifact records where the output of a checkpoint lives.
type Artifact struct {
	ID          uuid.UUID
	BuildID     uuid.UUID
	Checkpoint  int
	Name        *string
	StorageType string
	StoragePath string
	SizeBytes   *int64
	Checksum    *string
	Metadata    Metadata
	Resumable   bool
	Final       bool
	CreatedBy   string
	CreatedAt   time.Time
}

// Variable is one key of a build's resume context.
type Variable struct {
	BuildID           uuid.UUID
	Key               string
	Value             string
	Type              string
	Sensitive         bool
	RequiredForResume bool
	SetAtCheckpoint   *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Present reports whether the variable carries a usable value.
func (v *Variable) Present() bool {
	return v != nil && v.Value != ""
}

// Principal is an API key holder.
type Principal struct {
	ID             uuid.UUID
	Name           string
	Permission     Permission
	RateLimit      int
	RateLimitBurst int
	CreatedAt      time.Time
}

// Permission is a coarse access level.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

func (p Permission) rank() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	}
	return 0
}

// Allows reports whether p is at least required.
func (p Permission) Allows(required Permission) bool {
	return p.rank() > 0 && p.rank() >= required.rank()
}

// Valid reports whether p is a known level.
func (p Permission) Valid() bool {
	return p.rank() > 0
}

// ReferenceKind names a reference data table.
type ReferenceKind string

const (
	ReferencePlatform  ReferenceKind = "platform"
	ReferenceOSVersion ReferenceKind = "os_version"
	ReferenceImageType ReferenceKind = "image_type"
)

// Valid reports whether k is a known reference kind.
func (k ReferenceKind) Valid() bool {
	return k == ReferencePlatform || k == ReferenceOSVersion || k == ReferenceImageType
}

// Metadata is a free-form JSON object stored as JSONB.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, m)
}

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a build row changed since it was read.
	ErrVersionConflict = errors.New("build version conflict")

	// ErrDuplicate is returned on unique key violations.
	ErrDuplicate = errors.New("duplicate key")
)

// Package api contains shared JSON request/response structs.
// This package is shared between the CLI, the stage runner and the Controller.
package api

import "time"

// CreatePrincipalRequest is the request body for creating a new API key holder.
type CreatePrincipalRequest struct {
	Name string `json:"name"`
	// Permission is one of read, write or admin (default: write).
	Permission     string `json:"permission,omitempty"`
	RateLimit      int    `json:"rate_limit,omitempty"`
	RateLimitBurst int    `json:"rate_limit_burst,omitempty"`
}

// CreatePrincipalResponse is returned once; the raw key is not stored.
type CreatePrincipalResponse struct {
	ID         string `json:"principal_id"`
	Name       string `json:"name"`
	Permission string `json:"permission"`
	ApiKey     string `json:"api_key"`
}

// RegisterReferenceRequest adds a platform, OS version or image type.
type RegisterReferenceRequest struct {
	Name string `json:"name"`
}

// StartBuildRequest is the request body for POST /builds.
type StartBuildRequest struct {
	Owner           string         `json:"owner,omitempty"`
	Platform        string         `json:"platform"`
	OSVersion       string         `json:"os_version"`
	ImageType       string         `json:"image_type"`
	StartCheckpoint int            `json:"start_checkpoint,omitempty"`
	Description     *string        `json:"description,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// BuildResponse represents a build in API responses.
type BuildResponse struct {
	ID                string         `json:"id"`
	BuildNumber       string         `json:"build_number"`
	Platform          string         `json:"platform"`
	OSVersion         string         `json:"os_version"`
	ImageType         string         `json:"image_type"`
	Description       *string        `json:"description,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CurrentCheckpoint int            `json:"current_checkpoint"`
	StartCheckpoint   int            `json:"start_checkpoint"`
	Status            string         `json:"status"`
	Owner             string         `json:"owner"`
	Version           int64          `json:"version"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// ListBuildsResponse is the response body for GET /builds.
type ListBuildsResponse struct {
	Builds []BuildResponse `json:"builds"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// CancelBuildRequest is the request body for POST /builds/{id}/cancel.
type CancelBuildRequest struct {
	Reason string `json:"reason"`
}

// TransitionRequest records a checkpoint status change.
type TransitionRequest struct {
	Checkpoint *int           `json:"checkpoint"`
	Status     string         `json:"status"`
	Message    *string        `json:"message,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	// Terminal completes the build regardless of the checkpoint number.
	Terminal bool `json:"terminal,omitempty"`
}

// LedgerEntryResponse is one row of the checkpoint ledger.
type LedgerEntryResponse struct {
	ID         int64          `json:"id"`
	BuildID    string         `json:"build_id"`
	Checkpoint int            `json:"checkpoint"`
	Status     string         `json:"status"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
	Message    *string        `json:"message,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RetryCount int            `json:"retry_count"`
	CreatedBy  string         `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RecordFailureRequest is the request body for POST /builds/{id}/failures.
type RecordFailureRequest struct {
	Checkpoint   int            `json:"checkpoint"`
	Category     string         `json:"category"`
	Message      string         `json:"message"`
	Detail       map[string]any `json:"detail,omitempty"`
	Component    *string        `json:"component,omitempty"`
	RetryAttempt int            `json:"retry_attempt,omitempty"`
}

// ResolveFailureRequest is the request body for POST /failures/{id}/resolve.
type ResolveFailureRequest struct {
	Note string `json:"note"`
}

// FailureResponse represents a failure record.
type FailureResponse struct {
	ID             string         `json:"id"`
	BuildID        string         `json:"build_id"`
	Checkpoint     int            `json:"checkpoint"`
	Category       string         `json:"category"`
	Message        string         `json:"message"`
	Detail         map[string]any `json:"detail,omitempty"`
	Component      *string        `json:"component,omitempty"`
	RetryAttempt   int            `json:"retry_attempt"`
	Resolved       bool           `json:"resolved"`
	ResolutionNote *string        `json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     *string        `json:"resolved_by,omitempty"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RegisterArtifactRequest is the request body for POST /builds/{id}/artifacts.
type RegisterArtifactRequest struct {
	Checkpoint  int            `json:"checkpoint"`
	Name        *string        `json:"name,omitempty"`
	StorageType string         `json:"storage_type"`
	StoragePath string         `json:"storage_path"`
	SizeBytes   *int64         `json:"size_bytes,omitempty"`
	Checksum    *string        `json:"checksum,omitempty"`
	Resumable   bool           `json:"resumable"`
	Final       bool           `json:"final"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ArtifactResponse represents an artifact record.
type ArtifactResponse struct {
	ID          string         `json:"id"`
	BuildID     string         `json:"build_id"`
	Checkpoint  int            `json:"checkpoint"`
	Name        *string        `json:"name,omitempty"`
	StorageType string         `json:"storage_type"`
	StoragePath string         `json:"storage_path"`
	SizeBytes   *int64         `json:"size_bytes,omitempty"`
	Checksum    *string        `json:"checksum,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Resumable   bool           `json:"resumable"`
	Final       bool           `json:"final"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SetVariableRequest is the request body for PUT /builds/{id}/variables/{key}.
type SetVariableRequest struct {
	Value             string `json:"value"`
	Type              string `json:"type,omitempty"`
	RequiredForResume bool   `json:"required_for_resume"`
	Sensitive         bool   `json:"sensitive"`
	Checkpoint        *int   `json:"checkpoint,omitempty"`
}

// VariableResponse represents a build variable. Sensitive values are masked
// everywhere except GET /builds/{id}/variables/{key}.
type VariableResponse struct {
	Key               string    `json:"key"`
	Value             string    `json:"value"`
	Type              string    `json:"type"`
	Sensitive         bool      `json:"sensitive"`
	RequiredForResume bool      `json:"required_for_resume"`
	SetAtCheckpoint   *int      `json:"set_at_checkpoint,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ResumePlanResponse is the response body for GET /builds/{id}/resume.
type ResumePlanResponse struct {
	Build                BuildResponse      `json:"build"`
	ResumeCheckpoint     int                `json:"resume_checkpoint"`
	Artifact             *ArtifactResponse  `json:"artifact,omitempty"`
	RequiredVariables    []VariableResponse `json:"required_variables"`
	LastFailedCheckpoint *int               `json:"last_failed_checkpoint,omitempty"`
}

// SummaryResponse counts builds by status.
type SummaryResponse struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	BuildID    string   `json:"build_id,omitempty"`
	Checkpoint *int     `json:"checkpoint,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Details    string   `json:"details,omitempty"`
}

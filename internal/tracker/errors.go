package tracker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies an error returned by the Service.
type Kind string

const (
	KindInvalidReference         Kind = "invalid_reference"
	KindUnknownBuild             Kind = "unknown_build"
	KindInvalidCheckpoint        Kind = "invalid_checkpoint"
	KindPermissionDenied         Kind = "permission_denied"
	KindNoResumePoint            Kind = "no_resume_point"
	KindIncompleteResumeContext  Kind = "incomplete_resume_context"
	KindChecksumMismatch         Kind = "checksum_mismatch"
	KindConcurrentUpdateConflict Kind = "concurrent_update_conflict"
	KindInvalidArgument          Kind = "invalid_argument"
	KindInvalidTransition        Kind = "invalid_transition"
	KindNotFound                 Kind = "not_found"
	KindInternal                 Kind = "internal"
)

// Error is the typed error every Service operation returns.
type Error struct {
	Kind       Kind
	BuildID    uuid.UUID
	Checkpoint *int
	Missing    []string // absent variable keys for KindIncompleteResumeContext
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.BuildID != uuid.Nil {
		fmt.Fprintf(&b, " (build %s", e.BuildID)
		if e.Checkpoint != nil {
			fmt.Fprintf(&b, ", checkpoint %d", *e.Checkpoint)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func newError(kind Kind, buildID uuid.UUID, format string, args ...any) *Error {
	return &Error{Kind: kind, BuildID: buildID, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) at(checkpoint int) *Error {
	e.Checkpoint = &checkpoint
	return e
}

func storeError(buildID uuid.UUID, op string, err error) *Error {
	return &Error{Kind: KindInternal, BuildID: buildID, Message: op, Err: err}
}

// ChecksumMismatch builds the consumer-side verification error.
func ChecksumMismatch(buildID uuid.UUID, checkpoint int, expected, actual string) *Error {
	return newError(KindChecksumMismatch, buildID, "expected %s, computed %s", expected, actual).at(checkpoint)
}

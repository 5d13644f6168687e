// Package report carries the error taxonomy and outcome type shared by every
// sync path. Each isolated failure becomes a SyncError with enough context
// (container, stage, collection) to replay it by hand.
package report

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind categorizes a sync failure.
type Kind string

const (
	// KindTransport is a source or target call that failed after retries.
	KindTransport Kind = "TRANSPORT"

	// KindPartialBatch is one detail batch or one flush that failed while
	// its siblings continued.
	KindPartialBatch Kind = "PARTIAL_BATCH"

	// KindPagination stops the remainder of one container's listing.
	KindPagination Kind = "PAGINATION"

	// KindMalformed is a record or event missing mandatory identity.
	KindMalformed Kind = "MALFORMED"

	// KindNotImplemented marks an event type with no handler yet.
	KindNotImplemented Kind = "NOT_IMPLEMENTED"
)

// Stage names where in a run the failure happened.
type Stage string

const (
	StageResolve     Stage = "resolve"
	StageContainer   Stage = "container"
	StagePermissions Stage = "permissions"
	StageList        Stage = "list"
	StageListDeleted Stage = "list_deleted"
	StageDetails     Stage = "details"
	StageBuild       Stage = "build"
	StageFlush       Stage = "flush"
	StageDispatch    Stage = "dispatch"
)

// MaxMessageLen bounds the diagnostic text kept on a SyncError.
const MaxMessageLen = 500

// SyncError is one isolated failure recorded by a run.
type SyncError struct {
	Kind        Kind   `json:"kind"`
	Stage       Stage  `json:"stage"`
	ContainerID int64  `json:"container_id,omitempty"`
	Collection  string `json:"collection,omitempty"`
	Message     string `json:"message"`

	// Err is the underlying cause. Not serialized.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" [")
	b.WriteString(string(e.Stage))
	b.WriteString("]")
	if e.ContainerID != 0 {
		fmt.Fprintf(&b, " container=%d", e.ContainerID)
	}
	if e.Collection != "" {
		fmt.Fprintf(&b, " collection=%s", e.Collection)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, stage Stage, containerID int64, collection string, err error) *SyncError {
	msg := ""
	if err != nil {
		msg = Truncate(err.Error(), MaxMessageLen)
	}
	return &SyncError{
		Kind:        kind,
		Stage:       stage,
		ContainerID: containerID,
		Collection:  collection,
		Message:     msg,
		Err:         err,
	}
}

// Transport records a failed call to the source or target store.
func Transport(stage Stage, containerID int64, err error) *SyncError {
	return newError(KindTransport, stage, containerID, "", err)
}

// Pagination records a failed listing page.
func Pagination(stage Stage, containerID int64, err error) *SyncError {
	return newError(KindPagination, stage, containerID, "", err)
}

// PartialBatch records one failed detail batch or flush.
func PartialBatch(stage Stage, containerID int64, collection string, err error) *SyncError {
	return newError(KindPartialBatch, stage, containerID, collection, err)
}

// Malformed records input missing mandatory identity fields.
func Malformed(stage Stage, containerID int64, format string, args ...any) *SyncError {
	return newError(KindMalformed, stage, containerID, "", fmt.Errorf(format, args...))
}

// NotImplemented records an event type whose handler is an extension point.
func NotImplemented(what string) *SyncError {
	return newError(KindNotImplemented, StageDispatch, 0, "", fmt.Errorf("%s is not implemented", what))
}

// IsKind reports whether err wraps a SyncError of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsNotImplemented reports whether err marks an unimplemented handler.
func IsNotImplemented(err error) bool {
	return IsKind(err, KindNotImplemented)
}

// IsMalformed reports whether err marks malformed input.
func IsMalformed(err error) bool {
	return IsKind(err, KindMalformed)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

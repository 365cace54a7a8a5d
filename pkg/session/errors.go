package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPaired means no accepted pairing exists for the requested ID.
	ErrNotPaired = errors.New("no accepted pairing")
	// ErrForbidden means the caller is not a member of the pairing.
	ErrForbidden = errors.New("caller is not a pairing member")
	// ErrNotFound means no live session of the requested kind exists.
	ErrNotFound = errors.New("no live session")
	// ErrVersionConflict is the sentinel wrapped by ConflictError; match it
	// with errors.Is and recover by re-reading and retrying.
	ErrVersionConflict = errors.New("session version moved on")
	// ErrTimeout means a store round trip exceeded its bound.
	ErrTimeout = errors.New("store round trip timed out")
	// ErrPayloadTooLarge means the state document exceeds the configured bound.
	ErrPayloadTooLarge = errors.New("state document too large")
)

// ConflictError reports a failed optimistic-concurrency check. Current holds
// the committed session at the time of the failure so the caller can
// recompute its patch against fresh state instead of blindly overwriting.
type ConflictError struct {
	Expected int64
	Current  *Session
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("version conflict: expected %d", e.Expected)
	}
	return fmt.Sprintf("version conflict: expected %d, now at %d", e.Expected, e.Current.Version)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

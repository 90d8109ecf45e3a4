// Package coreerrors defines the error kinds shared across the commit-graph
// engine. Each kind is a distinct type so callers can branch on it with
// errors.As; none of them are raised for conditions the caller is expected
// to treat as ordinary control flow (bookmark precondition failure is
// reported as a boolean, never as one of these).
package coreerrors

import (
	"fmt"

	"github.com/scmcore/engine/internal/coretypes"
)

// NotFound reports that a requested key was absent: a changeset, bookmark,
// vertex, or derived value.
type NotFound struct {
	What string
	Key  string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("not found: %s %q", e.What, e.Key)
}

// HashMismatch reports that commit-store hash verification failed.
type HashMismatch struct {
	Expected coretypes.VertexName
	Actual   coretypes.VertexName
}

func (e *HashMismatch) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, computed %s", e.Expected, e.Actual)
}

// PermissionDenied reports that a bookmark operation was rejected by the
// authorisation policy.
type PermissionDenied struct {
	User     string
	Bookmark string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: user %q may not modify bookmark %q", e.User, e.Bookmark)
}

// InvalidBookmarkKind reports a namespace policy violation: the requested
// kind does not match the bookmark's pattern classification.
type InvalidBookmarkKind struct {
	Name    string
	Pattern string
}

func (e *InvalidBookmarkKind) Error() string {
	return fmt.Sprintf("invalid bookmark kind for %q against pattern %q", e.Name, e.Pattern)
}

// ScratchDisabled reports that a scratch-only operation was attempted
// against a repo with no configured infinitepush namespace.
type ScratchDisabled struct {
	Name string
}

func (e *ScratchDisabled) Error() string {
	return fmt.Sprintf("scratch bookmarks disabled, rejecting %q", e.Name)
}

// DuplicateAssignment reports an IdMap conflict: vid is already bound to a
// different changeset than the one the caller attempted to assign.
type DuplicateAssignment struct {
	Vid         coretypes.Vid
	ExistingCs  coretypes.CsId
	AttemptedCs coretypes.CsId
}

func (e *DuplicateAssignment) Error() string {
	return fmt.Sprintf("duplicate assignment for vid %d: existing %s, attempted %s", e.Vid, e.ExistingCs, e.AttemptedCs)
}

// UnsupportedDerivedType reports that a derived-data factory lookup named
// an unrecognised type.
type UnsupportedDerivedType struct {
	Name string
}

func (e *UnsupportedDerivedType) Error() string {
	return fmt.Sprintf("unsupported derived data type %q", e.Name)
}

// DeriveError wraps a lower-level failure encountered while deriving data.
// It is retryable at the caller's discretion.
type DeriveError struct {
	Cause error
}

func (e *DeriveError) Error() string { return fmt.Sprintf("derive error: %v", e.Cause) }
func (e *DeriveError) Unwrap() error { return e.Cause }

// Backend wraps a blob-store or SQL transport failure. Typically retryable
// at the call site.
type Backend struct {
	Cause error
}

func (e *Backend) Error() string { return fmt.Sprintf("backend error: %v", e.Cause) }
func (e *Backend) Unwrap() error { return e.Cause }

// Cancelled reports that the caller dropped interest in an in-flight
// operation.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "operation cancelled" }

// Redacted reports that a blob-store key was rejected by the redaction
// policy. Reason carries whatever metadata the redaction record held (e.g.
// a task id or human explanation); it is opaque to the blob store.
type Redacted struct {
	Key    string
	Reason string
}

func (e *Redacted) Error() string {
	return fmt.Sprintf("key %q is redacted: %s", e.Key, e.Reason)
}

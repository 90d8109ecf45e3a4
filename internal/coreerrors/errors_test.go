package coreerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/scmcore/engine/internal/coretypes"
)

func TestNotFoundMessage(t *testing.T) {
	err := &NotFound{What: "changeset", Key: "deadbeef"}
	var nf *NotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected errors.As to match *NotFound")
	}
	if nf.What != "changeset" || nf.Key != "deadbeef" {
		t.Fatalf("unexpected fields: %+v", nf)
	}
}

func TestDuplicateAssignmentCarriesConflictingIds(t *testing.T) {
	existing := coretypes.CsId{0x01}
	attempted := coretypes.CsId{0x02}
	err := &DuplicateAssignment{Vid: 7, ExistingCs: existing, AttemptedCs: attempted}

	var dup *DuplicateAssignment
	if !errors.As(err, &dup) {
		t.Fatalf("expected errors.As to match *DuplicateAssignment")
	}
	if dup.Vid != 7 || dup.ExistingCs != existing || dup.AttemptedCs != attempted {
		t.Fatalf("unexpected fields: %+v", dup)
	}
}

// TestBackendAndDeriveErrorUnwrap checks the two retryable kinds
// actually expose their cause through errors.Unwrap/errors.Is, so
// a caller's retry policy can inspect the underlying transport failure.
func TestBackendAndDeriveErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")

	backend := fmt.Errorf("wrapping: %w", &Backend{Cause: cause})
	if !errors.Is(backend, cause) {
		t.Fatalf("expected Backend to unwrap to its cause")
	}

	derive := fmt.Errorf("wrapping: %w", &DeriveError{Cause: cause})
	if !errors.Is(derive, cause) {
		t.Fatalf("expected DeriveError to unwrap to its cause")
	}
}

func TestPermissionDeniedAndInvalidBookmarkKindDistinctFromNotFound(t *testing.T) {
	var nf *NotFound
	if errors.As(error(&PermissionDenied{User: "alice", Bookmark: "book"}), &nf) {
		t.Fatalf("PermissionDenied must not satisfy errors.As(*NotFound)")
	}
	if errors.As(error(&InvalidBookmarkKind{Name: "book", Pattern: "scratch/*"}), &nf) {
		t.Fatalf("InvalidBookmarkKind must not satisfy errors.As(*NotFound)")
	}
}

func TestUnsupportedDerivedTypeAndScratchDisabledMessages(t *testing.T) {
	if (&UnsupportedDerivedType{Name: "widget"}).Error() == "" {
		t.Fatalf("expected non-empty error message")
	}
	if (&ScratchDisabled{Name: "scratch/foo"}).Error() == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestCancelledHasStableMessage(t *testing.T) {
	if (&Cancelled{}).Error() != "operation cancelled" {
		t.Fatalf("unexpected Cancelled message: %q", (&Cancelled{}).Error())
	}
}

func TestRedactedCarriesKeyAndReason(t *testing.T) {
	err := &Redacted{Key: "hgchangeset.sha1.abcd", Reason: "legal hold #123"}
	if err.Key != "hgchangeset.sha1.abcd" || err.Reason != "legal hold #123" {
		t.Fatalf("unexpected fields: %+v", err)
	}
}

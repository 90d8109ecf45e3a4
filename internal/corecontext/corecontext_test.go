package corecontext

import (
	"context"
	"testing"
)

func TestWithIdentityIsVisibleThroughContextAndIdentityFromContext(t *testing.T) {
	cc := New(context.Background(), "test", "sess-1")
	if _, ok := cc.Identity(); ok {
		t.Fatalf("expected no identity on a freshly built context")
	}

	withUser := cc.WithIdentity("alice")
	user, ok := withUser.Identity()
	if !ok || user != "alice" {
		t.Fatalf("Identity() = %q, %v; want alice, true", user, ok)
	}

	// The bookmark store's authorisation check reads identity off the plain
	// context.Context, not a *CoreContext.
	user2, ok2 := IdentityFromContext(withUser.Context())
	if !ok2 || user2 != "alice" {
		t.Fatalf("IdentityFromContext() = %q, %v; want alice, true", user2, ok2)
	}

	// The original context must be unaffected by the derived clone.
	if _, ok := cc.Identity(); ok {
		t.Fatalf("WithIdentity must not mutate the original CoreContext")
	}
}

func TestCloneSharesCountersAndIdentity(t *testing.T) {
	cc := New(context.Background(), "test", "sess-2")
	withUser := cc.WithIdentity("bob")
	clone := withUser.Clone()

	user, ok := clone.Identity()
	if !ok || user != "bob" {
		t.Fatalf("clone should retain identity, got %q, %v", user, ok)
	}
	if clone.Counters != withUser.Counters {
		t.Fatalf("Clone should share the same counters instance so totals aggregate correctly")
	}
}

func TestWithStdContextDropsIdentityOfUnrelatedContext(t *testing.T) {
	cc := New(context.Background(), "test", "sess-3").WithIdentity("carol")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	derived := cc.WithStdContext(ctx)
	if derived.Context() != ctx {
		t.Fatalf("WithStdContext should swap in the new context.Context")
	}
	// Swapping the std context loses any values stashed on the old one,
	// since WithIdentity attaches identity to the CoreContext's own
	// context.Context tree.
	if _, ok := derived.Identity(); ok {
		t.Fatalf("expected identity to not carry over onto an unrelated context.Context")
	}
}

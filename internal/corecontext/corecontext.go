// Package corecontext implements the engine's ambient request context:
// a cheap, cloneable handle carrying caller identity, a session id, a
// logger, and perf counters through every operation. It wraps, rather than
// replaces, context.Context so callers still get cancellation and
// deadlines from the standard library.
package corecontext

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/scmcore/engine/internal/corelog"
	"github.com/scmcore/engine/internal/perfcounters"
)

type identityKey struct{}

// CoreContext bundles the ambient state every engine call needs. It is
// intentionally small and copied by value; cloning never shares mutable
// state except the counters, which are meant to be shared across an
// operation's fan-out so totals aggregate correctly.
type CoreContext struct {
	ctx       context.Context
	Logger    zerolog.Logger
	Counters  *perfcounters.Counters
	SessionID string
}

// New builds a root CoreContext for a request, deriving a session-scoped
// logger and a fresh counter bag.
func New(ctx context.Context, component, sessionID string) *CoreContext {
	l := corelog.WithSession(corelog.Component(component), sessionID)
	return &CoreContext{
		ctx:       ctx,
		Logger:    l,
		Counters:  &perfcounters.Counters{},
		SessionID: sessionID,
	}
}

// WithIdentity returns a derived CoreContext carrying the given caller
// identity, consulted by the bookmark store's authorisation policy.
// Absence of an identity is not an error; it is simply absent from the
// returned context's Go context.Context.
func (c *CoreContext) WithIdentity(user string) *CoreContext {
	clone := *c
	clone.ctx = context.WithValue(c.ctx, identityKey{}, user)
	return &clone
}

// Identity returns the caller identity stashed by WithIdentity, and
// whether one was ever set.
func (c *CoreContext) Identity() (string, bool) {
	v := c.ctx.Value(identityKey{})
	if v == nil {
		return "", false
	}
	user, ok := v.(string)
	return user, ok
}

// IdentityFromContext extracts the identity stashed by WithIdentity from a
// plain context.Context (e.g. the one returned by Context()), for
// consumers on the other side of a package boundary that don't carry a
// *CoreContext, such as the bookmark store's authorisation check.
func IdentityFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(identityKey{})
	if v == nil {
		return "", false
	}
	user, ok := v.(string)
	return user, ok
}

// Context returns the underlying standard-library context, used for
// cancellation/deadline propagation into blob-store and SQL calls.
func (c *CoreContext) Context() context.Context { return c.ctx }

// WithStdContext returns a derived CoreContext wrapping a new
// context.Context (e.g. one with a deadline attached), keeping the
// logger, counters, and session id. The identity set by WithIdentity is
// stored on the old context.Context, so it carries over only when ctx was
// derived from c.Context().
func (c *CoreContext) WithStdContext(ctx context.Context) *CoreContext {
	clone := *c
	clone.ctx = ctx
	return &clone
}

// Clone returns a shallow copy; cloning is cheap by construction.
func (c *CoreContext) Clone() *CoreContext {
	clone := *c
	return &clone
}

package derived

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/scmcore/engine/internal/coretypes"
)

// DeriveMany derives every changeset in css concurrently, bounded by
// maxInFlight simultaneous Derive calls, the buffered-unordered limit on
// batched derivation fan-out. A non-positive
// maxInFlight means unbounded (errgroup.SetLimit(-1)). The first error
// cancels the remaining work and is returned; results already computed
// before cancellation are still recorded in the mapping, matching Derive's
// own per-changeset atomicity.
func (u *DerivedUtils) DeriveMany(ctx context.Context, css []coretypes.CsId, maxInFlight int) (map[coretypes.CsId][]byte, error) {
	out := make(map[coretypes.CsId][]byte, len(css))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if maxInFlight > 0 {
		g.SetLimit(maxInFlight)
	}
	for _, cs := range css {
		cs := cs
		g.Go(func() error {
			v, err := u.Derive(gctx, cs)
			if err != nil {
				return err
			}
			mu.Lock()
			out[cs] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

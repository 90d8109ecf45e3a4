package sqlstore

import (
	"context"
	"time"
)

// ReplicationConfig bounds how long a caller is willing to wait for a
// replica to catch up before giving up.
type ReplicationConfig struct {
	Timeout time.Duration
}

// ReplicaLagMonitor is the abstract replica-lag monitor collaborator
// writers consult between insert batches.
type ReplicaLagMonitor interface {
	WaitForReplication(ctx context.Context, cfg ReplicationConfig) error
}

// SameProcessMonitor is the monitor used when master and replica are the
// same SQLite file accessed in-process: there is no real lag to drain, so
// it returns immediately. Exercising the same call sites as a networked
// deployment would keeps IdMap.InsertMany's batching logic identical
// regardless of backend.
type SameProcessMonitor struct{}

func (SameProcessMonitor) WaitForReplication(ctx context.Context, _ ReplicationConfig) error {
	return ctx.Err()
}

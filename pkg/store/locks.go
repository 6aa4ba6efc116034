package store

import (
	"context"
	"time"
)

// A restore rewrites the whole table, so only one may run per database.
// The lock lives in the cache layer and expires on its own if the server
// dies mid-restore.
const restoreLockTTL = 10 * time.Minute

func restoreLockKey(db string) string { return "restore:" + db }

// AcquireRestoreLock returns false when another restore is in flight.
func AcquireRestoreLock(ctx context.Context, c Cache, db string) (bool, error) {
	return c.SetNX(ctx, restoreLockKey(db), "1", restoreLockTTL)
}

func ReleaseRestoreLock(ctx context.Context, c Cache, db string) error {
	return c.Del(ctx, restoreLockKey(db))
}

package lockmgr

import (
	"context"
	"time"
)

// ILockManager defines the interface for a key lock manager.
type ILockManager interface {
	// Acquire locks the keys of one invocation: readKeys shared, writeKeys exclusive
	// (a key in both sets is locked exclusive). The call blocks until all locks are held
	// or ctx is done; in the latter case no lock is held and ctx.Err() is returned.
	// The returned function releases all locks and may be called more than once.
	Acquire(ctx context.Context, database uint64, readKeys, writeKeys []string) (release func(), err error)

	// Stats returns counters about lock usage.
	Stats() Stats
}

// Stats describes the lock usage of a manager since it was created.
type Stats struct {
	Acquired  int64         // Number of successful Acquire calls
	Contended int64         // Number of Acquire calls that had to wait for at least one key
	Canceled  int64         // Number of Acquire calls aborted by their context
	Held      int           // Number of keys currently locked or waited for
	WaitMean  time.Duration // Mean time spent in Acquire
	WaitP99   time.Duration // 99th percentile of the time spent in Acquire
}

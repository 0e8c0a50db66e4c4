// Package lockmgr serializes conflicting command invocations on the host.
//
// Before a handler runs, the invoker acquires the keys the command declared: read keys
// are locked shared, write keys exclusive. Two invocations therefore only run in
// parallel if neither writes a key the other one reads or writes.
//
// Implementation Approach:
//
//   - Lock Table: Locks live in an xsync.MapOf keyed by (database, key). An entry is
//     created on first use and removed again when the last holder or waiter is gone,
//     so the table only grows with the number of keys in use.
//
//   - Ordering: All keys of an invocation are locked in sorted order. Two invocations
//     can never wait on each other in a cycle, so no deadlock is possible.
//
//   - Fairness: Every key is a weighted semaphore (golang.org/x/sync). A reader takes
//     weight 1, a writer the full weight. Waiters are served in arrival order, so a
//     stream of readers cannot starve a writer.
//
//   - Cancellation: A waiting Acquire can be aborted by its context. An aborted Acquire
//     releases every lock it already took.
//
// Metrics:
//
//	Wait time, contention and cancellations are recorded with go-metrics and can be
//	read with Stats.
//
// Usage Example:
//
//	lm := lockmgr.NewLockManager(nil)
//	release, err := lm.Acquire(ctx, 0, []string{"user:1"}, []string{"user:2"})
//	if err != nil {
//	    return err
//	}
//	defer release()
package lockmgr

package lockmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/semaphore"
)

var lockLogger = logger.GetLogger("lockmgr")

// exclusiveWeight is taken by a writer, a reader takes 1.
// The semaphore queues waiters in order, so a waiting writer blocks readers arriving after it.
const exclusiveWeight = 1 << 30

// lockKey identifies a key of a logical database
type lockKey struct {
	database uint64
	key      string
}

// keyLock is the lock of one key, refs counts the invocations holding or waiting for it
type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// planned is one lock to take
type planned struct {
	key       lockKey
	exclusive bool
}

type lockMgrImpl struct {
	locks *xsync.MapOf[lockKey, *keyLock]

	registry  metrics.Registry
	wait      metrics.Timer
	contended metrics.Counter
	canceled  metrics.Counter
}

// NewLockManager creates an in-process lock manager.
// If registry is nil, a private go-metrics registry is used.
func NewLockManager(registry metrics.Registry) ILockManager {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &lockMgrImpl{
		locks:     xsync.NewMapOf[lockKey, *keyLock](),
		registry:  registry,
		wait:      metrics.GetOrRegisterTimer("lockmgr.wait", registry),
		contended: metrics.GetOrRegisterCounter("lockmgr.contended", registry),
		canceled:  metrics.GetOrRegisterCounter("lockmgr.canceled", registry),
	}
}

func (lm *lockMgrImpl) Acquire(ctx context.Context, database uint64, readKeys, writeKeys []string) (func(), error) {
	start := time.Now()
	plan := makePlan(database, readKeys, writeKeys)

	held := make([]*keyLock, 0, len(plan))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(weight(plan[i].exclusive))
			lm.unref(plan[i].key)
		}
	}

	contended := false
	for _, p := range plan {
		l := lm.ref(p.key)
		if !l.sem.TryAcquire(weight(p.exclusive)) {
			contended = true
			if err := l.sem.Acquire(ctx, weight(p.exclusive)); err != nil {
				lm.unref(p.key)
				releaseHeld()
				lm.canceled.Inc(1)
				lockLogger.Debugf("acquire of %d keys in database %d aborted: %v", len(plan), database, err)
				return nil, err
			}
		}
		held = append(held, l)
	}

	if contended {
		lm.contended.Inc(1)
	}
	lm.wait.UpdateSince(start)

	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

func (lm *lockMgrImpl) Stats() Stats {
	return Stats{
		Acquired:  lm.wait.Count(),
		Contended: lm.contended.Count(),
		Canceled:  lm.canceled.Count(),
		Held:      lm.locks.Size(),
		WaitMean:  time.Duration(lm.wait.Mean()),
		WaitP99:   time.Duration(lm.wait.Percentile(0.99)),
	}
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

// makePlan returns the locks to take in sorted key order.
// A key that is read and written is only locked once (exclusive).
func makePlan(database uint64, readKeys, writeKeys []string) []planned {
	modes := make(map[string]bool, len(readKeys)+len(writeKeys))
	for _, k := range readKeys {
		if _, ok := modes[k]; !ok {
			modes[k] = false
		}
	}
	for _, k := range writeKeys {
		modes[k] = true
	}

	plan := make([]planned, 0, len(modes))
	for k, exclusive := range modes {
		plan = append(plan, planned{key: lockKey{database: database, key: k}, exclusive: exclusive})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].key.key < plan[j].key.key })
	return plan
}

// ref returns the lock for a key and registers the caller as user
func (lm *lockMgrImpl) ref(k lockKey) *keyLock {
	l, _ := lm.locks.Compute(k, func(old *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			old = &keyLock{sem: semaphore.NewWeighted(exclusiveWeight)}
		}
		old.refs++
		return old, false
	})
	return l
}

// unref drops the caller as user and removes the lock once nobody uses it
func (lm *lockMgrImpl) unref(k lockKey) {
	lm.locks.Compute(k, func(old *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

func weight(exclusive bool) int64 {
	if exclusive {
		return exclusiveWeight
	}
	return 1
}

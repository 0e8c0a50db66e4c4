package replog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("replog")
)

// RaftLog is an ILog backed by a dragonboat raft shard.
// Append returns once the entry is committed by a quorum of the shard.
type RaftLog struct {
	nh       *dragonboat.NodeHost
	shardID  uint64
	cs       *client.Session
	instance uuid.UUID
	timeout  time.Duration
}

// NewRaftLog creates a log that proposes entries to the given shard.
// instance must be the id the local state machine was created with (see CreateStateMachineFactory),
// so the local replica does not apply its own entries a second time.
func NewRaftLog(nh *dragonboat.NodeHost, shardID uint64, instance uuid.UUID, timeout time.Duration) *RaftLog {
	return &RaftLog{
		nh:       nh,
		shardID:  shardID,
		cs:       nh.GetNoOPSession(shardID),
		instance: instance,
		timeout:  timeout,
	}
}

// Append marshals the entry and sends it via SyncPropose.
// If the shard is busy the proposal is retried up to 5 times.
func (r *RaftLog) Append(ctx context.Context, e Entry) error {
	e.Origin = r.instance
	data, err := e.Marshal()
	if err != nil {
		return store.Errorf(store.RetCInternalError, "marshal entry: %v", err)
	}

	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.nh.SyncPropose(pctx, r.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.timeout / 10):
			}
			continue
		}

		if err != nil {
			return store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	return store.NewError(store.RetCInternalError, "timeout")
}

// AppliedIndex returns the raft index of the last entry the local state machine applied.
// If stale is false, a linearizable read is done, so the index includes every entry committed so far.
func (r *RaftLog) AppliedIndex(ctx context.Context, stale bool) (uint64, error) {
	var res interface{}
	var err error
	if stale {
		res, err = r.nh.StaleRead(r.shardID, queryApplied)
	} else {
		rctx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err = r.nh.SyncRead(rctx, r.shardID, queryApplied)
		cancel()
	}
	if err != nil {
		return 0, store.NewError(store.RetCInternalError, err.Error())
	}
	idx, ok := res.(uint64)
	if !ok {
		return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("unexpected type: received %T, expected uint64", res))
	}
	return idx, nil
}

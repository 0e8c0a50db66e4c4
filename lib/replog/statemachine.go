package replog

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/google/uuid"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// query is the type of read requests served by Lookup
type query uint8

const (
	queryApplied query = iota // Last applied raft index (uint64)
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StateMachine applies replicated entries to the local store.
// Entries that were committed locally by the same instance are skipped, since their
// writes already are in the store.
type StateMachine struct {
	replicaID uint64
	shardID   uint64
	instance  uuid.UUID
	store     store.IStore
	applied   atomic.Uint64
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// All state machines created by it write to the given store.
func CreateStateMachineFactory(s store.IStore, instance uuid.UUID) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &StateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			instance:  instance,
			store:     s,
		}
	}
}

// Lookup handles read-only queries.
func (fsm *StateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid query type: %T", itf))
	}

	switch q {
	case queryApplied:
		return fsm.applied.Load(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown query: %d", q))
	}
}

// Update applies a batch of committed entries to the store.
func (fsm *StateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e)
		fsm.applied.Store(e.Index)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func (fsm *StateMachine) apply(e sm.Entry) sm.Result {
	if len(e.Cmd) == 0 {
		return sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty entry ignored")}
	}

	entry, err := Unmarshal(e.Cmd)
	if err != nil {
		return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(err.Error())}
	}

	// already in the local store
	if entry.Origin == fsm.instance {
		return sm.Result{Value: uint64(store.RetCSuccess)}
	}

	writes, err := entry.Values()
	if err != nil {
		return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(err.Error())}
	}

	if _, err := fsm.store.Commit(entry.Database, writes); err != nil {
		log.Errorf("failed to apply entry %s (%v) to database %d: %v", entry.ID, entry.Command, entry.Database, err)
		if serr, ok := err.(*store.Error); ok {
			return sm.Result{Value: uint64(serr.Code), Data: []byte(serr.Msg)}
		}
		return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(err.Error())}
	}
	return sm.Result{Value: uint64(store.RetCSuccess)}
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *StateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes the applied index followed by a snapshot of the store
func (fsm *StateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], fsm.applied.Load())
	if _, err := writer.Write(header[:]); err != nil {
		return err
	}
	return fsm.store.Snapshot(writer)
}

// RecoverFromSnapshot replaces the store content with the snapshot
func (fsm *StateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read snapshot header: %w", err)
	}
	if err := fsm.store.Restore(r); err != nil {
		return err
	}
	fsm.applied.Store(binary.BigEndian.Uint64(header[:]))
	log.Infof("shard %d replica %d recovered from snapshot at index %d", fsm.shardID, fsm.replicaID, fsm.applied.Load())
	return nil
}

// Close performs any necessary cleanup. The store is owned by the host and stays open.
func (fsm *StateMachine) Close() error {
	return nil
}

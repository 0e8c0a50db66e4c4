package lstore

import (
	"bytes"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/kvx/lib/db"
	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/fxamacker/cbor/v2"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var storeLogger = logger.GetLogger("store")

// snapshots use canonical CBOR, so map order does not change the bytes
var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

type storeImpl struct {
	factory      store.DBFactory
	maxDatabases uint64
	dbs          *xsync.MapOf[uint64, db.KVDB]
	index        atomic.Uint64

	// restoreMu is held exclusively while a snapshot is restored
	restoreMu sync.RWMutex
}

// snapshot is the persisted form of the store
type snapshot struct {
	Index     uint64            `cbor:"1,keyasint"`
	Databases map[uint64][]byte `cbor:"2,keyasint"`
}

// NewLocalStore creates a new local store instance.
// A database for an index is created with the factory when it is first written to.
// maxDatabases limits the valid database indexes to [0, maxDatabases); 0 means no limit.
func NewLocalStore(factory store.DBFactory, maxDatabases uint64) store.IStore {
	return &storeImpl{
		factory:      factory,
		maxDatabases: maxDatabases,
		dbs:          xsync.NewMapOf[uint64, db.KVDB](),
	}
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each commit has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

func (s *storeImpl) checkDatabase(database uint64) error {
	if s.maxDatabases > 0 && database >= s.maxDatabases {
		return store.Errorf(store.RetCInvalidArgument, "database index %d out of range [0, %d)", database, s.maxDatabases)
	}
	return nil
}

// lookup returns the database for the index or nil if nothing was written to it yet
func (s *storeImpl) lookup(database uint64) db.KVDB {
	d, _ := s.dbs.Load(database)
	return d
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Exists(database uint64, keys []string) (map[string]bool, error) {
	if err := s.checkDatabase(database); err != nil {
		return nil, err
	}
	s.restoreMu.RLock()
	defer s.restoreMu.RUnlock()

	res := make(map[string]bool, len(keys))
	d := s.lookup(database)
	for _, key := range keys {
		res[key] = d != nil && d.Has(key)
	}
	return res, nil
}

func (s *storeImpl) Get(database uint64, keys []string) (map[string]value.Value, error) {
	if err := s.checkDatabase(database); err != nil {
		return nil, err
	}
	s.restoreMu.RLock()
	defer s.restoreMu.RUnlock()

	d := s.lookup(database)
	if d != nil && !d.SupportsFeature(db.FeatureGet) {
		return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
	}

	res := make(map[string]value.Value, len(keys))
	for _, key := range keys {
		if d == nil {
			res[key] = value.Nil{}
			continue
		}
		v, _ := d.Get(key)
		res[key] = value.Normalize(v)
	}
	return res, nil
}

func (s *storeImpl) Commit(database uint64, writes map[string]value.Value) (uint64, error) {
	if err := s.checkDatabase(database); err != nil {
		return 0, err
	}
	if len(writes) == 0 {
		return 0, nil
	}

	mutations := make([]db.Mutation, 0, len(writes))
	for key, v := range writes {
		if h, ok := v.(*value.Hash); ok && h == nil {
			return 0, store.Errorf(store.RetCInvalidArgument, "nil hash written to key %q", key)
		}
		mutations = append(mutations, db.Mutation{Key: key, Value: value.Normalize(v)})
	}
	// deterministic order, the batch is atomic anyway
	sort.Slice(mutations, func(i, j int) bool { return mutations[i].Key < mutations[j].Key })

	s.restoreMu.RLock()
	defer s.restoreMu.RUnlock()

	d, _ := s.dbs.LoadOrCompute(database, func() db.KVDB {
		storeLogger.Debugf("creating database %d", database)
		return s.factory()
	})
	if !d.SupportsFeature(db.FeatureApply) {
		return 0, store.NewError(store.RetCUnsupportedOperation, "Apply operation is not supported")
	}

	idx := s.incAndGetIndex()
	d.Apply(mutations, idx)
	return idx, nil
}

func (s *storeImpl) Snapshot(w io.Writer) error {
	s.restoreMu.RLock()
	defer s.restoreMu.RUnlock()

	snap := snapshot{
		Index:     s.index.Load(),
		Databases: make(map[uint64][]byte),
	}

	var rangeErr error
	s.dbs.Range(func(idx uint64, d db.KVDB) bool {
		if !d.SupportsFeature(db.FeatureSave) {
			rangeErr = store.NewError(store.RetCUnsupportedOperation, "Save operation is not supported")
			return false
		}
		var buf bytes.Buffer
		if err := d.Save(&buf); err != nil {
			rangeErr = store.Errorf(store.RetCInternalError, "save database %d: %v", idx, err)
			return false
		}
		snap.Databases[idx] = buf.Bytes()
		return true
	})
	if rangeErr != nil {
		return rangeErr
	}

	if err := encMode.NewEncoder(w).Encode(snap); err != nil {
		return store.Errorf(store.RetCInternalError, "encode snapshot: %v", err)
	}
	return nil
}

func (s *storeImpl) Restore(r io.Reader) error {
	var snap snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return store.Errorf(store.RetCInternalError, "decode snapshot: %v", err)
	}

	// load everything before the live databases are replaced
	loaded := make(map[uint64]db.KVDB, len(snap.Databases))
	for idx, data := range snap.Databases {
		d := s.factory()
		if err := d.Load(bytes.NewReader(data)); err != nil {
			return store.Errorf(store.RetCInternalError, "load database %d: %v", idx, err)
		}
		loaded[idx] = d
	}

	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()

	s.dbs.Range(func(idx uint64, d db.KVDB) bool {
		if err := d.Close(); err != nil {
			storeLogger.Warningf("closing database %d: %v", idx, err)
		}
		return true
	})
	s.dbs.Clear()
	for idx, d := range loaded {
		s.dbs.Store(idx, d)
	}
	s.index.Store(snap.Index)

	storeLogger.Infof("restored %d databases at index %d", len(loaded), snap.Index)
	return nil
}

func (s *storeImpl) Databases() []uint64 {
	res := make([]uint64, 0, s.dbs.Size())
	s.dbs.Range(func(idx uint64, _ db.KVDB) bool {
		res = append(res, idx)
		return true
	})
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func (s *storeImpl) GetDBInfo(database uint64) (db.DatabaseInfo, error) {
	if err := s.checkDatabase(database); err != nil {
		return db.DatabaseInfo{}, err
	}
	d := s.lookup(database)
	if d == nil {
		return db.DatabaseInfo{}, store.Errorf(store.RetCInvalidOperation, "database %d is empty", database)
	}
	return d.GetInfo(), nil
}

package maple

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/kvx/lib/db"
	"github.com/ValentinKolb/kvx/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/kvx/lib/db/util"
	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/fxamacker/cbor/v2"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 4             // Database version (4 = CBOR encoded values)
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("maple: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory database with sharded data.
//
// Shards keep lookups cheap under concurrency; batch atomicity comes from mu:
// Apply holds it exclusively, reads hold it shared.
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for shard selection
	shards    []*internal.Shard // Array of shards
	currIndex atomic.Uint64     // Current logical timestamp

	mu sync.RWMutex
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(),
	}
}

// savedEntry and snapshot are the persisted form of the database
type savedEntry struct {
	Key   string     `cbor:"1,keyasint"`
	Index uint64     `cbor:"2,keyasint"`
	Value value.Wire `cbor:"3,keyasint"`
}

type snapshot struct {
	WriteIdx uint64       `cbor:"1,keyasint"`
	Entries  []savedEntry `cbor:"2,keyasint"`
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	newDB := &mapleImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
	}
	newDB.shards = newShards(opts.NumShards)
	return newDB
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(key, maple.seed, maple.shards)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Apply writes the batch atomically. Values are copied, so the caller keeps ownership
// of what it passed in.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Apply(mutations []db.Mutation, writeIndex uint64) {
	maple.SetWriteIdx(writeIndex)

	maple.mu.Lock()
	defer maple.mu.Unlock()

	for _, m := range mutations {
		m := m
		maple.shardFor(m.Key).Data.Compute(m.Key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
			// stale writes are ignored
			if loaded && writeIndex < old.Index {
				return old, false
			}
			if m.IsDelete() {
				return old, true
			}
			return internal.Entry{Value: value.Clone(m.Value), Index: writeIndex}, false
		})
	}
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a copy of the value for a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) (value.Value, bool) {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return value.Nil{}, false
	}
	return value.Clone(e.Value), true
}

// Has checks if a key exists in the database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	_, ok := maple.shardFor(key).Data.Load(key)
	return ok
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer.
// The snapshot is consistent: no batch is applied while it is taken.
func (maple *mapleImpl) Save(w io.Writer) error {
	snap := snapshot{}

	maple.mu.RLock()
	snap.WriteIdx = maple.currIndex.Load()
	for _, shard := range maple.shards {
		var rangeErr error
		shard.Data.Range(func(key string, entry internal.Entry) bool {
			wire, err := value.ToWire(entry.Value)
			if err != nil {
				rangeErr = fmt.Errorf("key %q: %w", key, err)
				return false
			}
			snap.Entries = append(snap.Entries, savedEntry{Key: key, Index: entry.Index, Value: wire})
			return true
		})
		if rangeErr != nil {
			maple.mu.RUnlock()
			return rangeErr
		}
	}
	maple.mu.RUnlock()

	// sort so the same content always gives the same bytes
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Key < snap.Entries[j].Key })

	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := bw.WriteByte(mapleVersion); err != nil {
		return err
	}
	if err := encMode.NewEncoder(bw).Encode(snap); err != nil {
		return err
	}
	return bw.Flush()
}

// Load replaces the database content with a snapshot written by Save.
func (maple *mapleImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var snap snapshot
	if err := cbor.NewDecoder(br).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	// decode everything before touching the live shards
	shards := newShards(maple.numShards)
	for _, e := range snap.Entries {
		v, err := value.FromWire(e.Value)
		if err != nil {
			return fmt.Errorf("key %q: %w", e.Key, err)
		}
		internal.GetShard(e.Key, maple.seed, shards).Data.Store(e.Key, internal.Entry{Value: v, Index: e.Index})
	}

	maple.mu.Lock()
	maple.shards = shards
	maple.currIndex.Store(snap.WriteIdx)
	maple.mu.Unlock()
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	keys := 0
	shardSizes := make([]int, len(maple.shards))
	for i, shard := range maple.shards {
		shardSizes[i] = shard.Data.Size()
		keys += shardSizes[i]
	}

	meta := &struct {
		CurrentWriteIndex uint64 `json:"current_write_index"`
		ShardCount        int    `json:"shard_count"`
		ShardSizes        []int  `json:"shard_sizes"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		ShardCount:        len(maple.shards),
		ShardSizes:        shardSizes,
	}

	return db.DatabaseInfo{
		Keys:   keys,
		DbType: db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureApply, db.FeatureGet, db.FeatureHas, db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureApply |
		db.FeatureGet |
		db.FeatureHas |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close releases the data held by the database
func (maple *mapleImpl) Close() error {
	maple.mu.Lock()
	defer maple.mu.Unlock()
	maple.shards = newShards(maple.numShards)
	return nil
}

// --------------------------------------------------------------------------
// Index Management
// --------------------------------------------------------------------------

// SetWriteIdx safely updates the current index
// It only updates if the new index is greater than the current one
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}

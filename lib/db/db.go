package db

import (
	"io"

	"github.com/ValentinKolb/kvx/lib/value"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureApply Feature = 1 << iota // Support for atomic batch writes
	FeatureGet                       // Support for Get operations
	FeatureHas                       // Support for Has operations
	FeatureSave                      // Support for Save operations
	FeatureLoad                      // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeatureApply:
		return "Apply"
	case FeatureGet:
		return "Get"
	case FeatureHas:
		return "Has"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

// Mutation is a single write of a batch.
// A Nil value deletes the key.
type Mutation struct {
	Key   string
	Value value.Value
}

// IsDelete reports whether the mutation removes the key.
func (m Mutation) IsDelete() bool {
	return value.IsNil(m.Value)
}

type DatabaseInfo struct {
	Keys              int            `json:"keys"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for a single logical database holding values.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Apply writes all mutations as one atomic step: a concurrent reader sees either none or all of them.
	// Mutations are applied in order, so a later write to the same key wins.
	// The writeIndex parameter is used as a logical timestamp; a mutation is ignored for a key
	// that was last written with a higher index (stale writes, e.g. when a log is replayed).
	Apply(mutations []Mutation, writeIndex uint64)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The returned value is a deep copy and may be modified by the caller.
	// The boolean return value indicates whether a value for the key was found.
	Get(key string) (value value.Value, loaded bool)

	// Has checks whether a key exists in the database.
	Has(key string) (loaded bool)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load replaces the database state with data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}

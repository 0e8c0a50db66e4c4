package store

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/kvx/lib/db"
	"github.com/ValentinKolb/kvx/lib/value"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
// The store calls it once for every logical database that is written to.
type DBFactory func() db.KVDB

// IStore is the host side of the extension bridge: a set of logical databases (addressed by index)
// that holds values. Reads are served per key; writes are only possible as a whole batch via Commit.
// All methods return a *Error (nil on success).
type IStore interface {
	// Exists reports for every key whether it holds a value in the given database.
	Exists(database uint64, keys []string) (exists map[string]bool, err error)
	// Get returns a copy of the value of every key. Missing keys map to value.Nil.
	Get(database uint64, keys []string) (values map[string]value.Value, err error)
	// Commit applies all writes to the database as one atomic step and returns the write index used.
	// A value.Nil deletes the key. An empty batch is a no-op and returns index 0.
	Commit(database uint64, writes map[string]value.Value) (index uint64, err error)
	// Snapshot writes the content of all databases to w.
	Snapshot(w io.Writer) (err error)
	// Restore replaces the content of all databases with a snapshot written by Snapshot.
	Restore(r io.Reader) (err error)
	// Databases returns the indexes of all databases that were written to, in ascending order.
	Databases() (databases []uint64)
	// GetDBInfo returns metadata about the database with the given index.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo(database uint64) (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new KVStoreError with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCInvalidArgument                     // 4: An argument (database index, value) is not valid.
	RetCWrongType                           // 5: Operation against a key holding the wrong kind of value.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCWrongType:
		return "WrongType"
	default:
		return "Unknown"
	}
}

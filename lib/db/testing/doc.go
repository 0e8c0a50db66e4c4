// Package testing provides a standardised test suite for database implementations
// that satisfy the db.KVDB interface.
//
// The suite checks the contract the store relies on: atomic batches, stale write
// protection, copy semantics for values and deterministic Save/Load.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.KVDB {
//		return NewMyDatabase()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
package testing

// Package db provides the interface for the storage engines behind the host store.
// A KVDB holds the values of one logical database; the store keeps one KVDB per database index.
//
// The package focuses on:
//   - A unified interface for value storage with atomic batch writes
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//
// Key Components:
//
//   - KVDB Interface: The core interface that all engines must satisfy. Writes only happen
//     through Apply, which takes an ordered batch of Mutations and applies it as one step.
//     A Mutation with a Nil value deletes its key. Reads (Get, Has) never observe a
//     partially applied batch.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: DatabaseInfo reports the key count, implementation type and
//     implementation-specific metadata.
//
// Note on Write Indexes:
//   - Every batch carries a write index used as a logical timestamp. Engines remember the
//     index per key and ignore mutations older than the stored one, so replaying a
//     replication log after a snapshot restore never moves a key backwards.
//   - The write index of the database only increases; SetWriteIdx ignores lower values.
//
// Related Packages:
//
// The engines/maple package provides a sharded in-memory implementation with CBOR based
// persistence. The testing package provides RunKVDBTests, a conformance suite every engine
// should pass.
package db

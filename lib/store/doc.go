// Package store provides the host side of the extension bridge: an interface over a set
// of logical databases holding values, with unified error handling.
// It serves as an abstraction layer over the lower-level db.KVDB implementations, adding
// functionality such as write index management, database addressing and standardized error reporting.
//
// Key Components:
//
//   - IStore Interface: Existence checks and bulk reads per key, and Commit, which applies a
//     whole write set atomically. Extension commands never get an IStore; they only see the
//     narrow bridge built on top of it by the module package.
//
//   - Error System: A structured error reporting mechanism using typed error codes
//     (RetCode) and descriptive messages.
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances, one per logical database.
//
// Implementations:
//
//   - Local Store (lstore): An in-memory implementation that creates a db.KVDB per logical
//     database on first write. Replication is layered on top by the replog package, which
//     applies committed write sets of other replicas to a local store.
//     Available in the "github.com/ValentinKolb/kvx/lib/store/lstore" package.
package store

// Package lstore implements a local, in-memory, single-node store based on the
// store.IStore interface. It keeps one db.KVDB per logical database and adds automatic
// write index management on top.
//
// Implementation Details:
//
//   - Databases: The engines live in an xsync.MapOf keyed by database index. An engine is
//     created with the store.DBFactory on the first Commit to its index; reads of an index
//     that was never written to behave like reads of an empty database.
//
//   - Write Index Management: The store maintains an atomic counter that is incremented
//     with each Commit. The whole batch is applied with that index, so the engine can
//     ignore stale writes and replicas can compare progress.
//
//   - Snapshots: Snapshot saves every engine and writes a single canonical CBOR document
//     (index plus one blob per database). Restore decodes and loads all engines before it
//     swaps them in, so a broken snapshot leaves the store unchanged.
//
// Thread Safety:
//
//	All operations are thread-safe. Commit relies on the engine to apply a batch atomically;
//	Restore excludes all other operations while the databases are swapped.
//
// Usage Example:
//
//	factory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	s := lstore.NewLocalStore(factory, 16)
//
//	_, err := s.Commit(0, map[string]value.Value{"user:1": value.NewHash(map[string]string{"name": "ada"})})
//	values, err := s.Get(0, []string{"user:1", "user:2"}) // user:2 maps to value.Nil
package lstore

// Package maple provides a sharded in-memory implementation of the db.KVDB interface.
//
// Keys are distributed over shards (one per CPU by default) using a seeded FNV-1a hash;
// each shard is an xsync.MapOf. A database-wide RW lock makes Apply atomic with respect
// to Get and Has, so a batch written by one command is never observed half applied.
//
// Values are copied on the way in and on the way out. A *value.Hash stored in maple can
// therefore never be changed through a reference held by a command.
//
// Persistence: Save writes a magic header, a version byte and a canonical CBOR document
// holding the write index and every entry sorted by key. Load decodes the whole document
// before it swaps the shards in, so a corrupt snapshot leaves the database unchanged.
package maple

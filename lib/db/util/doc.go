// Package util provides small helpers shared by the storage engines and the command line:
// seed generation and a seeded FNV-1a string hash (used for shard selection and for
// deriving numeric replica ids from node names).
package util

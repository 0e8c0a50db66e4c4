package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// GenerateSeed creates a random seed for hash distribution.
// It falls back to the current time if the system random source fails.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// UintKey is a hashed string key
type UintKey uint64

// HashString hashes s with FNV-1a, mixing the seed into the offset basis.
// The same string and seed always give the same result, which makes it usable for
// deriving stable ids (e.g. replica ids from node names with seed 0).
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return UintKey(hash)
}

// ShardIndex maps a hashed key onto one of n shards.
// The low bits are shifted away because FNV mixes the upper bits better.
func ShardIndex(key UintKey, n int) int {
	return int((uint64(key) >> 7) % uint64(n))
}

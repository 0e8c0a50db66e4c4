// Package hashcmd provides the built-in hash commands (HSET, HSETNX, HGET, HMGET, HLEN,
// HDEL, HGETALL and HEXISTS).
//
// They are ordinary extension commands: each one declares the single key it touches and
// works on a copy of the stored hash obtained through the bridge. A key holding another
// kind of value fails with value.ErrWrongType and is left unchanged. HDEL removing the
// last field deletes the key.
package hashcmd

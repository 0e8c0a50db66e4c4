// Package value defines the values that cross the boundary between the key-value store and
// the extension commands running on top of it.
//
// Value is a closed tagged union with the variants Number, String, Nil, *Hash, Set and
// SortedSet. Code that receives a Value is expected to switch on the concrete type and to
// reject anything it does not know (see ToWire and FromWire), instead of coercing it.
//
// Hash is the string-keyed map type of the store. Its operations mirror the hash commands:
//
//	h := value.NewHash(nil)
//	h.Set(map[string]string{"a": "1", "b": "2"})   // 2, overwrites existing fields
//	h.SetNX(map[string]string{"b": "3", "c": "3"}) // 1, only c is inserted
//	h.Delete("a", "x")                             // 1, absent fields are not counted
//
// Values are serialised as canonical CBOR (Marshal / Unmarshal). The wire form is used by
// the replication log and by engine snapshots.
package value

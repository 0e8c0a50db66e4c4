package value

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Hash is a mapping from field names to values.
//
// Every operation is atomic with respect to the instance: a reader never observes a
// partially applied Set, SetNX or Delete. A Hash is owned either by the store key holding it
// or by the command that created it; values handed out by the store are copies.
type Hash struct {
	mu     sync.RWMutex
	fields map[string]Value
}

// NewHash creates a hash initialised with the given fields (may be nil).
func NewHash(fields map[string]string) *Hash {
	h := &Hash{fields: make(map[string]Value, len(fields))}
	for field, v := range fields {
		h.fields[field] = String(v)
	}
	return h
}

func (*Hash) Kind() Kind { return KindHash }
func (*Hash) isValue()   {}

// String renders the hash with fields in sorted order, e.g. {a: 1, b: 2}.
func (h *Hash) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	parts := make([]string, 0, len(h.fields))
	for _, field := range h.sortedFields() {
		parts = append(parts, fmt.Sprintf("%s: %s", field, h.fields[field]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// --------------------------------------------------------------------------
// Hash Operations
// --------------------------------------------------------------------------

// Set inserts or overwrites every given field and returns the number of fields in the input.
func (h *Hash) Set(fields map[string]string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for field, v := range fields {
		h.fields[field] = String(v)
	}
	return len(fields)
}

// SetNX inserts only the fields that are not yet present and returns how many were inserted.
// Existing fields are left untouched.
func (h *Hash) SetNX(fields map[string]string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for field, v := range fields {
		if _, ok := h.fields[field]; ok {
			continue
		}
		h.fields[field] = String(v)
		count++
	}
	return count
}

// Get returns the value of every requested field, Nil for fields that do not exist.
func (h *Hash) Get(fields ...string) map[string]Value {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := make(map[string]Value, len(fields))
	for _, field := range fields {
		if v, ok := h.fields[field]; ok {
			res[field] = v
		} else {
			res[field] = Nil{}
		}
	}
	return res
}

// Len returns the number of fields.
func (h *Hash) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.fields)
}

// Delete removes the given fields and returns how many were actually removed.
// Absent fields are ignored.
func (h *Hash) Delete(fields ...string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, field := range fields {
		if _, ok := h.fields[field]; ok {
			delete(h.fields, field)
			count++
		}
	}
	return count
}

// All returns a snapshot of every field.
func (h *Hash) All() map[string]Value {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := make(map[string]Value, len(h.fields))
	for field, v := range h.fields {
		res[field] = v
	}
	return res
}

// Exists reports for every requested field whether it is present.
func (h *Hash) Exists(fields ...string) map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := make(map[string]bool, len(fields))
	for _, field := range fields {
		_, res[field] = h.fields[field]
	}
	return res
}

// Fields returns the field names in sorted order.
func (h *Hash) Fields() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sortedFields()
}

// Clone returns a deep copy of the hash.
func (h *Hash) Clone() *Hash {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := &Hash{fields: make(map[string]Value, len(h.fields))}
	for field, v := range h.fields {
		c.fields[field] = Clone(v)
	}
	return c
}

// --------------------------------------------------------------------------
// Conversion Helpers
// --------------------------------------------------------------------------

// AsHash returns v as a hash. Any other kind (including Nil) yields ErrWrongType.
func AsHash(v Value) (*Hash, error) {
	if h, ok := v.(*Hash); ok && h != nil {
		return h, nil
	}
	return nil, fmt.Errorf("%w: expected hash, got %s", ErrWrongType, Normalize(v).Kind())
}

// HashOrNew returns v as a hash, or a new empty hash if v is Nil.
// Values of any other kind yield ErrWrongType.
func HashOrNew(v Value) (*Hash, error) {
	if IsNil(v) {
		return NewHash(nil), nil
	}
	return AsHash(v)
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

// put stores an arbitrary value for a field (used when decoding)
func (h *Hash) put(field string, v Value) {
	h.mu.Lock()
	h.fields[field] = v
	h.mu.Unlock()
}

// sortedFields expects the caller to hold the lock
func (h *Hash) sortedFields() []string {
	keys := make([]string, 0, len(h.fields))
	for field := range h.fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	return keys
}

// equal treats a nil hash as equal only to another nil hash
func (h *Hash) equal(o *Hash) bool {
	if h == o {
		return true
	}
	if h == nil || o == nil {
		return false
	}
	a, b := h.All(), o.All()
	if len(a) != len(b) {
		return false
	}
	for field, v := range a {
		w, ok := b[field]
		if !ok || !Equal(v, w) {
			return false
		}
	}
	return true
}

package module

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/ValentinKolb/kvx/lib/value"
)

// Bridge is the only way a handler can reach the store.
//
// Reads accept keys declared as read or write keys, writes only declared write keys;
// any other key fails the call with ErrKeyNotDeclared. Writes are buffered and only reach
// the store if the handler succeeds. Reads see the invocation's own buffered writes.
type Bridge interface {
	// KeyExists reports for every key whether it holds a value.
	KeyExists(keys []string) (map[string]bool, error)
	// GetValues returns a copy of the value of every key, value.Nil for missing keys.
	GetValues(keys []string) (map[string]value.Value, error)
	// SetValues buffers the writes. Writing value.Nil deletes the key.
	// The values are copied, later changes by the handler have no effect.
	SetValues(writes map[string]value.Value) error
}

// scopedBridge is the Bridge of one invocation
type scopedBridge struct {
	store    store.IStore
	database uint64
	readable map[string]struct{}
	writable map[string]struct{}
	mu       sync.Mutex
	writes   map[string]value.Value
	closed   bool
}

func newScopedBridge(s store.IStore, database uint64, keys KeySets) *scopedBridge {
	b := &scopedBridge{
		store:    s,
		database: database,
		readable: make(map[string]struct{}, len(keys.ReadKeys)+len(keys.WriteKeys)),
		writable: make(map[string]struct{}, len(keys.WriteKeys)),
		writes:   make(map[string]value.Value),
	}
	for _, k := range keys.ReadKeys {
		b.readable[k] = struct{}{}
	}
	for _, k := range keys.WriteKeys {
		b.readable[k] = struct{}{}
		b.writable[k] = struct{}{}
	}
	return b
}

func (b *scopedBridge) checkRead(keys []string) error {
	for _, k := range keys {
		if _, ok := b.readable[k]; !ok {
			return fmt.Errorf("%w: read of %q", ErrKeyNotDeclared, k)
		}
	}
	return nil
}

// pending splits keys into buffered and unbuffered ones, the caller must hold mu
func (b *scopedBridge) pending(keys []string) (buffered map[string]value.Value, rest []string) {
	buffered = make(map[string]value.Value)
	for _, k := range keys {
		if v, ok := b.writes[k]; ok {
			buffered[k] = v
		} else {
			rest = append(rest, k)
		}
	}
	return buffered, rest
}

func (b *scopedBridge) KeyExists(keys []string) (map[string]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBridgeClosed
	}
	if err := b.checkRead(keys); err != nil {
		return nil, err
	}

	buffered, rest := b.pending(keys)
	res := make(map[string]bool, len(keys))
	if len(rest) > 0 {
		exists, err := b.store.Exists(b.database, rest)
		if err != nil {
			return nil, err
		}
		for k, ok := range exists {
			res[k] = ok
		}
	}
	for k, v := range buffered {
		res[k] = !value.IsNil(v)
	}
	return res, nil
}

func (b *scopedBridge) GetValues(keys []string) (map[string]value.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBridgeClosed
	}
	if err := b.checkRead(keys); err != nil {
		return nil, err
	}

	buffered, rest := b.pending(keys)
	res := make(map[string]value.Value, len(keys))
	if len(rest) > 0 {
		values, err := b.store.Get(b.database, rest)
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			res[k] = v
		}
	}
	for k, v := range buffered {
		res[k] = value.Clone(v)
	}
	return res, nil
}

func (b *scopedBridge) SetValues(writes map[string]value.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBridgeClosed
	}

	// check everything first, a rejected call buffers nothing
	for k, v := range writes {
		if _, ok := b.writable[k]; !ok {
			return fmt.Errorf("%w: write of %q", ErrKeyNotDeclared, k)
		}
		if h, ok := v.(*value.Hash); ok && h == nil {
			return fmt.Errorf("%w: nil hash for key %q", value.ErrUnsupportedType, k)
		}
	}
	for k, v := range writes {
		b.writes[k] = value.Clone(v)
	}
	return nil
}

// seal ends the invocation and returns the buffered writes.
// Every later call fails with ErrBridgeClosed.
func (b *scopedBridge) seal() map[string]value.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	writes := b.writes
	b.writes = nil
	return writes
}

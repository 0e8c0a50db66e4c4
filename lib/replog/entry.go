package replog

import (
	"context"
	"fmt"
	"sort"

	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("replog: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// ILog is a replication log. Append blocks until the entry is durable in the log
// (for a consensus log: committed by a quorum) or ctx is done.
type ILog interface {
	Append(ctx context.Context, e Entry) (err error)
}

// Entry is the record of one command invocation that changed the store.
// Writes holds the net effect of the command; a Nil value deletes the key.
type Entry struct {
	ID       uuid.UUID             `cbor:"1,keyasint"`
	Origin   uuid.UUID             `cbor:"2,keyasint"` // Instance that committed the writes locally
	Database uint64                `cbor:"3,keyasint"`
	Command  []string              `cbor:"4,keyasint"`
	Writes   map[string]value.Wire `cbor:"5,keyasint"`
}

// NewEntry creates an entry with a fresh id. Origin is set by the log.
func NewEntry(database uint64, command []string, writes map[string]value.Value) (Entry, error) {
	e := Entry{
		ID:       uuid.New(),
		Database: database,
		Command:  append([]string(nil), command...),
		Writes:   make(map[string]value.Wire, len(writes)),
	}
	for key, v := range writes {
		w, err := value.ToWire(v)
		if err != nil {
			return Entry{}, fmt.Errorf("key %q: %w", key, err)
		}
		e.Writes[key] = w
	}
	return e, nil
}

// Values decodes the writes of the entry.
func (e Entry) Values() (map[string]value.Value, error) {
	res := make(map[string]value.Value, len(e.Writes))
	for key, w := range e.Writes {
		v, err := value.FromWire(w)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		res[key] = v
	}
	return res, nil
}

// Keys returns the written keys in sorted order.
func (e Entry) Keys() []string {
	keys := make([]string, 0, len(e.Writes))
	for key := range e.Writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Marshal encodes the entry as canonical CBOR.
func (e Entry) Marshal() ([]byte, error) {
	return encMode.Marshal(e)
}

// Unmarshal decodes an entry produced by Marshal.
func Unmarshal(data []byte) (Entry, error) {
	var e Entry
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("replog: unmarshal entry: %w", err)
	}
	return e, nil
}

// NewInstanceID returns a random id for a running log instance.
// A fresh id per process start lets a replica replay its own entries after a restart.
func NewInstanceID() uuid.UUID {
	return uuid.New()
}

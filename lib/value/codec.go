package value

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses canonical CBOR so equal values always encode to equal bytes
// (replicas compare log entries and snapshots byte-wise).
var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("value: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Wire is the serialisable form of a Value.
// Only the fields that belong to Kind are set.
type Wire struct {
	Kind    Kind            `cbor:"1,keyasint"`
	Num     float64         `cbor:"2,keyasint,omitempty"`
	Str     string          `cbor:"3,keyasint,omitempty"`
	Fields  map[string]Wire `cbor:"4,keyasint,omitempty"`
	Members []Wire          `cbor:"5,keyasint,omitempty"`
	Scores  []float64       `cbor:"6,keyasint,omitempty"`
}

// ToWire converts a Value into its wire form.
// A value outside the closed set of implementations is rejected with ErrUnsupportedType.
func ToWire(v Value) (Wire, error) {
	switch x := v.(type) {
	case nil, Nil:
		return Wire{Kind: KindNil}, nil
	case Number:
		return Wire{Kind: KindNumber, Num: float64(x)}, nil
	case String:
		return Wire{Kind: KindString, Str: string(x)}, nil
	case *Hash:
		if x == nil {
			return Wire{}, fmt.Errorf("%w: nil hash", ErrUnsupportedType)
		}
		all := x.All()
		w := Wire{Kind: KindHash, Fields: make(map[string]Wire, len(all))}
		for field, fv := range all {
			fw, err := ToWire(fv)
			if err != nil {
				return Wire{}, fmt.Errorf("hash field %q: %w", field, err)
			}
			w.Fields[field] = fw
		}
		return w, nil
	case Set:
		// members are ordered by their encoding, sets are unordered
		type encoded struct {
			wire Wire
			data []byte
		}
		members := make([]encoded, len(x))
		for i, m := range x {
			mw, err := ToWire(m)
			if err != nil {
				return Wire{}, fmt.Errorf("set member %d: %w", i, err)
			}
			data, err := encMode.Marshal(mw)
			if err != nil {
				return Wire{}, fmt.Errorf("set member %d: %w", i, err)
			}
			members[i] = encoded{wire: mw, data: data}
		}
		sort.Slice(members, func(i, j int) bool { return bytes.Compare(members[i].data, members[j].data) < 0 })

		w := Wire{Kind: KindSet, Members: make([]Wire, len(members))}
		for i, m := range members {
			w.Members[i] = m.wire
		}
		return w, nil
	case SortedSet:
		w := Wire{Kind: KindSortedSet, Members: make([]Wire, len(x)), Scores: make([]float64, len(x))}
		for i, m := range x {
			mw, err := ToWire(m.Member)
			if err != nil {
				return Wire{}, fmt.Errorf("zset member %d: %w", i, err)
			}
			w.Members[i] = mw
			w.Scores[i] = m.Score
		}
		return w, nil
	default:
		return Wire{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// FromWire converts a wire form back into a Value. Unknown kinds are rejected.
func FromWire(w Wire) (Value, error) {
	switch w.Kind {
	case KindNil:
		return Nil{}, nil
	case KindNumber:
		return Number(w.Num), nil
	case KindString:
		return String(w.Str), nil
	case KindHash:
		h := NewHash(nil)
		for field, fw := range w.Fields {
			fv, err := FromWire(fw)
			if err != nil {
				return nil, fmt.Errorf("hash field %q: %w", field, err)
			}
			h.put(field, fv)
		}
		return h, nil
	case KindSet:
		set := make(Set, len(w.Members))
		for i, mw := range w.Members {
			m, err := FromWire(mw)
			if err != nil {
				return nil, fmt.Errorf("set member %d: %w", i, err)
			}
			set[i] = m
		}
		return set, nil
	case KindSortedSet:
		if len(w.Members) != len(w.Scores) {
			return nil, fmt.Errorf("zset: %d members but %d scores", len(w.Members), len(w.Scores))
		}
		zset := make(SortedSet, len(w.Members))
		for i, mw := range w.Members {
			m, err := FromWire(mw)
			if err != nil {
				return nil, fmt.Errorf("zset member %d: %w", i, err)
			}
			zset[i] = ScoredMember{Member: m, Score: w.Scores[i]}
		}
		return zset, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrUnsupportedType, w.Kind)
	}
}

// Marshal encodes a Value as canonical CBOR.
func Marshal(v Value) ([]byte, error) {
	w, err := ToWire(v)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(w)
}

// Unmarshal decodes a Value produced by Marshal.
func Unmarshal(data []byte) (Value, error) {
	var w Wire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("value: unmarshal: %w", err)
	}
	return FromWire(w)
}

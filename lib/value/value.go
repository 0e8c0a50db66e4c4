package value

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Kinds
// --------------------------------------------------------------------------

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNil       Kind = iota // No value (absent key or field)
	KindNumber                // 64 bit float
	KindString                // String
	KindHash                  // Mapping string -> Value
	KindSet                   // Set of values
	KindSortedSet             // Members with a score, ordered by score
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindHash:
		return "hash"
	case KindSet:
		return "set"
	case KindSortedSet:
		return "zset"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrWrongType is returned when an operation is applied to a value of the wrong kind,
	// e.g. a hash operation on a key holding a string.
	ErrWrongType = errors.New("WRONGTYPE operation against a key holding the wrong kind of value")

	// ErrUnsupportedType is returned when a value (or a go type) has no Value representation.
	ErrUnsupportedType = errors.New("unsupported value type")
)

// --------------------------------------------------------------------------
// Value (tagged union)
// --------------------------------------------------------------------------

// Value is a value that can cross the boundary between the store and an extension command.
// The set of implementations is closed: Number, String, Nil, *Hash, Set and SortedSet.
type Value interface {
	Kind() Kind
	String() string
	isValue()
}

// Number is a numeric value.
type Number float64

// String is a string value.
type String string

// Nil is the absence of a value.
type Nil struct{}

// Set is an unordered collection of distinct values. Use NewSet to build one without duplicates.
type Set []Value

// ScoredMember is a single entry of a SortedSet.
type ScoredMember struct {
	Member Value
	Score  float64
}

// SortedSet is a collection of members ordered by their score.
type SortedSet []ScoredMember

func (Number) Kind() Kind    { return KindNumber }
func (String) Kind() Kind    { return KindString }
func (Nil) Kind() Kind       { return KindNil }
func (Set) Kind() Kind       { return KindSet }
func (SortedSet) Kind() Kind { return KindSortedSet }

func (Number) isValue()    {}
func (String) isValue()    {}
func (Nil) isValue()       {}
func (Set) isValue()       {}
func (SortedSet) isValue() {}

func (n Number) String() string { return strconv.FormatFloat(float64(n), 'f', -1, 64) }
func (s String) String() string { return string(s) }
func (Nil) String() string      { return "nil" }

func (s Set) String() string {
	parts := make([]string, len(s))
	for i, m := range s {
		parts[i] = m.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (z SortedSet) String() string {
	parts := make([]string, len(z))
	for i, m := range z {
		parts[i] = fmt.Sprintf("%s:%s", m.Member, Number(m.Score))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// NewSet creates a Set from the given members, dropping duplicates (first occurrence wins).
func NewSet(members ...Value) Set {
	set := make(Set, 0, len(members))
	for _, m := range members {
		if !set.Contains(m) {
			set = append(set, m)
		}
	}
	return set
}

// Contains reports whether the set holds a member equal to v.
func (s Set) Contains(v Value) bool {
	for _, m := range s {
		if Equal(m, v) {
			return true
		}
	}
	return false
}

// NewSortedSet creates a SortedSet ordered by score (stable for equal scores).
// A member that appears more than once keeps its last score.
func NewSortedSet(members ...ScoredMember) SortedSet {
	zset := make(SortedSet, 0, len(members))
outer:
	for _, m := range members {
		for i := range zset {
			if Equal(zset[i].Member, m.Member) {
				zset[i].Score = m.Score
				continue outer
			}
		}
		zset = append(zset, m)
	}
	sort.SliceStable(zset, func(i, j int) bool { return zset[i].Score < zset[j].Score })
	return zset
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// IsNil reports whether v is Nil (a nil interface counts as Nil).
func IsNil(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Nil)
	return ok
}

// Normalize maps a nil interface to Nil{} and returns any other value unchanged.
func Normalize(v Value) Value {
	if v == nil {
		return Nil{}
	}
	return v
}

// Of converts a native go value into a Value.
// Supported are nil, bool (as 0/1), all integer and float types, string, []byte,
// map[string]string, map[string]Value and Value itself.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Nil{}, nil
	case Value:
		return x, nil
	case bool:
		if x {
			return Number(1), nil
		}
		return Number(0), nil
	case int:
		return Number(x), nil
	case int8:
		return Number(x), nil
	case int16:
		return Number(x), nil
	case int32:
		return Number(x), nil
	case int64:
		return Number(x), nil
	case uint:
		return Number(x), nil
	case uint8:
		return Number(x), nil
	case uint16:
		return Number(x), nil
	case uint32:
		return Number(x), nil
	case uint64:
		return Number(x), nil
	case float32:
		return Number(x), nil
	case float64:
		return Number(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(x), nil
	case map[string]string:
		return NewHash(x), nil
	case map[string]Value:
		h := NewHash(nil)
		for field, fv := range x {
			h.put(field, Normalize(fv))
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch x := v.(type) {
	case nil:
		return Nil{}
	case *Hash:
		return x.Clone()
	case Set:
		out := make(Set, len(x))
		for i, m := range x {
			out[i] = Clone(m)
		}
		return out
	case SortedSet:
		out := make(SortedSet, len(x))
		for i, m := range x {
			out[i] = ScoredMember{Member: Clone(m.Member), Score: m.Score}
		}
		return out
	default:
		return x
	}
}

// Equal reports whether a and b hold the same kind and the same content.
// Sets are compared without regard to order, sorted sets by position.
func Equal(a, b Value) bool {
	a, b = Normalize(a), Normalize(b)
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Number:
		return x == b.(Number)
	case String:
		return x == b.(String)
	case Nil:
		return true
	case *Hash:
		return x.equal(b.(*Hash))
	case Set:
		y := b.(Set)
		if len(x) != len(y) {
			return false
		}
		for _, m := range x {
			if !y.Contains(m) {
				return false
			}
		}
		return true
	case SortedSet:
		y := b.(SortedSet)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i].Score != y[i].Score || !Equal(x[i].Member, y[i].Member) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

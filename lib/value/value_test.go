package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{name: "nil", in: nil, want: Nil{}},
		{name: "int", in: 3, want: Number(3)},
		{name: "uint64", in: uint64(7), want: Number(7)},
		{name: "float", in: 3.142, want: Number(3.142)},
		{name: "bool", in: true, want: Number(1)},
		{name: "string", in: "Pi", want: String("Pi")},
		{name: "bytes", in: []byte("raw"), want: String("raw")},
		{name: "value", in: String("v"), want: String("v")},
		{name: "string map", in: map[string]string{"a": "1"}, want: NewHash(map[string]string{"a": "1"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Of(tt.in)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %s, want %s", got, tt.want)
		})
	}

	_, err := Of(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, Nil{}))
	assert.False(t, Equal(Number(1), String("1")))
	assert.True(t, Equal(NewSet(Number(1), String("a")), NewSet(String("a"), Number(1))))
	assert.False(t, Equal(NewSet(Number(1)), NewSet(Number(2))))
	assert.True(t, Equal(
		NewSortedSet(ScoredMember{Member: String("a"), Score: 2}, ScoredMember{Member: String("b"), Score: 1}),
		SortedSet{{Member: String("b"), Score: 1}, {Member: String("a"), Score: 2}},
	))

	var none *Hash
	assert.False(t, Equal(none, NewHash(nil)))
	assert.False(t, Equal(NewHash(nil), none))
	assert.True(t, Equal(none, none))
}

func TestNewSetDropsDuplicates(t *testing.T) {
	s := NewSet(String("a"), String("a"), Number(1))
	assert.Len(t, s, 2)
}

func TestNewSortedSetKeepsLastScore(t *testing.T) {
	z := NewSortedSet(
		ScoredMember{Member: String("a"), Score: 5},
		ScoredMember{Member: String("b"), Score: 1},
		ScoredMember{Member: String("a"), Score: 0},
	)
	require.Len(t, z, 2)
	assert.Equal(t, String("a"), z[0].Member)
	assert.Equal(t, 0.0, z[0].Score)
}

func TestCloneDeep(t *testing.T) {
	inner := NewHash(map[string]string{"x": "1"})
	s := Set{inner}
	c := Clone(s).(Set)
	inner.Set(map[string]string{"x": "2"})
	assert.Equal(t, String("1"), c[0].(*Hash).Get("x")["x"])
	assert.Equal(t, Nil{}, Clone(nil))
}

func TestKindAndString(t *testing.T) {
	assert.Equal(t, "3.5", Number(3.5).String())
	assert.Equal(t, "100", Number(100).String())
	assert.Equal(t, "nil", Nil{}.String())
	assert.Equal(t, "hash", KindHash.String())
	assert.Equal(t, "zset", SortedSet{}.Kind().String())
	assert.True(t, IsNil(nil))
	assert.False(t, IsNil(String("")))
}

package resp

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	hash := value.NewHash(map[string]string{"b": "2", "a": "1"})
	zset := value.NewSortedSet(
		value.ScoredMember{Member: value.String("x"), Score: 2.5},
		value.ScoredMember{Member: value.String("y"), Score: 1},
	)

	tests := []struct {
		name  string
		v     value.Value
		resp2 string
		resp3 string
	}{
		{"nil", value.Nil{}, "$-1\r\n", "_\r\n"},
		{"nil interface", nil, "$-1\r\n", "_\r\n"},
		{"integer", value.Number(42), ":42\r\n", ":42\r\n"},
		{"negative", value.Number(-3), ":-3\r\n", ":-3\r\n"},
		{"float", value.Number(1.5), "$3\r\n1.5\r\n", ",1.5\r\n"},
		{"string", value.String("hello"), "$5\r\nhello\r\n", "$5\r\nhello\r\n"},
		{"empty string", value.String(""), "$0\r\n\r\n", "$0\r\n\r\n"},
		{"hash", hash,
			"*4\r\n$1\r\na\r\n$1\r\n1\r\n$1\r\nb\r\n$1\r\n2\r\n",
			"%2\r\n$1\r\na\r\n$1\r\n1\r\n$1\r\nb\r\n$1\r\n2\r\n"},
		{"set", value.Set{value.String("a"), value.Number(1)},
			"*2\r\n$1\r\na\r\n:1\r\n",
			"~2\r\n$1\r\na\r\n:1\r\n"},
		{"zset", zset,
			"*4\r\n$1\r\ny\r\n$1\r\n1\r\n$1\r\nx\r\n$3\r\n2.5\r\n",
			"*2\r\n*2\r\n$1\r\ny\r\n,1\r\n*2\r\n$1\r\nx\r\n,2.5\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.v, 2)
			require.NoError(t, err)
			assert.Equal(t, tt.resp2, string(got))

			got, err = Encode(tt.v, 3)
			require.NoError(t, err)
			assert.Equal(t, tt.resp3, string(got))
		})
	}
}

func TestEncodeSpecialDoubles(t *testing.T) {
	got, err := Encode(value.Number(math.Inf(1)), 3)
	require.NoError(t, err)
	assert.Equal(t, ",inf\r\n", string(got))

	got, err = Encode(value.Number(math.NaN()), 3)
	require.NoError(t, err)
	assert.Equal(t, ",nan\r\n", string(got))
}

func TestInvalidProtocol(t *testing.T) {
	_, err := Encode(value.Number(1), 1)
	assert.ErrorIs(t, err, ErrInvalidProtocol)
}

func TestEncodeError(t *testing.T) {
	assert.Equal(t, "-ERR boom\r\n", string(EncodeError(errors.New("boom"))))
	assert.Equal(t, "-ERR two lines\r\n", string(EncodeError(errors.New("two\nlines"))))

	wrongType := fmt.Errorf("%w: expected hash, got string", value.ErrWrongType)
	assert.Equal(t, "-"+wrongType.Error()+"\r\n", string(EncodeError(wrongType)))
}

func TestWriteOK(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 2)
	require.NoError(t, err)
	require.NoError(t, w.WriteOK())
	require.NoError(t, w.Flush())
	assert.Equal(t, "+OK\r\n", buf.String())
}

package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"HSET h a 1", []string{"HSET", "h", "a", "1"}},
		{"  HGET   h  a  ", []string{"HGET", "h", "a"}},
		{`HSET h "a b" 'c d'`, []string{"HSET", "h", "a b", "c d"}},
		{`HSET h "say \"hi\"" ""`, []string{"HSET", "h", `say "hi"`, ""}},
		{`HSET h 'no \n escape' "new\nline"`, []string{"HSET", "h", `no \n escape`, "new\nline"}},
		{`key"with"quotes`, []string{"keywithquotes"}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	for _, bad := range []string{`"open`, `'open`, `"trailing\`} {
		_, err := SplitArgs(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "(nil)", FormatValue(nil))
	assert.Equal(t, "(integer) 2", FormatValue(value.Number(2)))
	assert.Equal(t, "(double) 1.5", FormatValue(value.Number(1.5)))
	assert.Equal(t, `"OK"`, FormatValue(value.String("OK")))
	assert.Equal(t, "1# \"a\" => \"1\"\n2# \"b\" => \"2\"",
		FormatValue(value.NewHash(map[string]string{"b": "2", "a": "1"})))
	assert.Equal(t, "(empty hash)", FormatValue(value.NewHash(nil)))
	assert.Equal(t, "1) \"x\"\n2) (integer) 1", FormatValue(value.Set{value.String("x"), value.Number(1)}))
	assert.Equal(t, "1) \"m\" (score 2)", FormatValue(value.SortedSet{{Member: value.String("m"), Score: 2}}))
}

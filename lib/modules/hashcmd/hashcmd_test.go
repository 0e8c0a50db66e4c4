package hashcmd

import (
	"context"
	"testing"

	"github.com/ValentinKolb/kvx/lib/db"
	"github.com/ValentinKolb/kvx/lib/db/engines/maple"
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/ValentinKolb/kvx/lib/replog"
	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/ValentinKolb/kvx/lib/store/lstore"
	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHost struct {
	*module.Host
	store store.IStore
	log   *replog.MemLog
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	s := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }, 16)
	l := replog.NewMemLog()
	h := module.NewHost(module.InvokerConfig{Store: s, Log: l})
	require.NoError(t, h.Registry.RegisterModule(Module()))
	return &testHost{Host: h, store: s, log: l}
}

func (h *testHost) run(t *testing.T, tokens ...string) value.Value {
	t.Helper()
	res, err := h.Execute(context.Background(), module.Context{Protocol: 3}, tokens)
	require.NoError(t, err, "%v", tokens)
	return res
}

func TestScenario(t *testing.T) {
	h := newTestHost(t)

	assert.Equal(t, value.Number(2), h.run(t, "HSET", "h", "a", "1", "b", "2"))
	assert.Equal(t, value.Number(1), h.run(t, "HSETNX", "h", "b", "3", "c", "3"))

	got := h.run(t, "HMGET", "h", "a", "b", "c")
	assert.True(t, value.Equal(value.NewHash(map[string]string{"a": "1", "b": "2", "c": "3"}), got), "got %s", got)

	assert.Equal(t, value.Number(1), h.run(t, "HDEL", "h", "a", "x"))
	assert.Equal(t, value.Number(2), h.run(t, "HLEN", "h"))

	assert.Equal(t, value.String("2"), h.run(t, "HGET", "h", "b"))
	assert.True(t, value.IsNil(h.run(t, "HGET", "h", "a")))
	assert.Equal(t, value.Number(1), h.run(t, "HEXISTS", "h", "c"))
	assert.Equal(t, value.Number(0), h.run(t, "hexists", "h", "a"))

	all := h.run(t, "HGETALL", "h")
	assert.True(t, value.Equal(value.NewHash(map[string]string{"b": "2", "c": "3"}), all))

	// only the writing commands were replicated: HSET, HSETNX, HDEL
	assert.Equal(t, 3, h.log.Len())
}

func TestSetOverwrites(t *testing.T) {
	h := newTestHost(t)
	h.run(t, "HSET", "h", "a", "old")
	assert.Equal(t, value.Number(1), h.run(t, "HSET", "h", "a", "new"))
	assert.Equal(t, value.String("new"), h.run(t, "HGET", "h", "a"))
}

func TestSetNXNeverOverwrites(t *testing.T) {
	h := newTestHost(t)
	h.run(t, "HSET", "h", "a", "old")
	assert.Equal(t, value.Number(0), h.run(t, "HSETNX", "h", "a", "new"))
	assert.Equal(t, value.String("old"), h.run(t, "HGET", "h", "a"))

	// nothing changed, so nothing was written (only the HSET entry exists)
	assert.Equal(t, 1, h.log.Len())
}

func TestMissingKey(t *testing.T) {
	h := newTestHost(t)

	assert.True(t, value.IsNil(h.run(t, "HGET", "nope", "a")))
	assert.Equal(t, value.Number(0), h.run(t, "HLEN", "nope"))
	assert.Equal(t, value.Number(0), h.run(t, "HDEL", "nope", "a"))
	assert.Equal(t, value.Number(0), h.run(t, "HEXISTS", "nope", "a"))

	all := h.run(t, "HGETALL", "nope")
	hash, err := value.AsHash(all)
	require.NoError(t, err)
	assert.Zero(t, hash.Len())

	exists, err := h.store.Exists(0, []string{"nope"})
	require.NoError(t, err)
	assert.False(t, exists["nope"], "reads must not create the key")
}

func TestDeleteLastFieldDeletesKey(t *testing.T) {
	h := newTestHost(t)
	h.run(t, "HSET", "h", "a", "1")
	assert.Equal(t, value.Number(1), h.run(t, "HDEL", "h", "a"))

	exists, err := h.store.Exists(0, []string{"h"})
	require.NoError(t, err)
	assert.False(t, exists["h"])
}

func TestWrongType(t *testing.T) {
	h := newTestHost(t)
	_, err := h.store.Commit(0, map[string]value.Value{"s": value.String("plain")})
	require.NoError(t, err)

	for _, tokens := range [][]string{
		{"HSET", "s", "a", "1"},
		{"HSETNX", "s", "a", "1"},
		{"HGET", "s", "a"},
		{"HDEL", "s", "a"},
		{"HLEN", "s"},
	} {
		_, err := h.Execute(context.Background(), module.Context{Protocol: 2}, tokens)
		assert.ErrorIs(t, err, value.ErrWrongType, "%v", tokens)
	}

	values, err := h.store.Get(0, []string{"s"})
	require.NoError(t, err)
	assert.Equal(t, value.String("plain"), values["s"])
}

func TestWrongArgs(t *testing.T) {
	h := newTestHost(t)

	for _, tokens := range [][]string{
		{"HSET", "h"},
		{"HSET", "h", "a"},
		{"HSET", "h", "a", "1", "b"},
		{"HSETNX", "h", "a"},
		{"HGET", "h"},
		{"HGET", "h", "a", "b"},
		{"HMGET", "h"},
		{"HLEN"},
		{"HLEN", "h", "x"},
		{"HDEL", "h"},
		{"HGETALL"},
		{"HEXISTS", "h"},
	} {
		_, err := h.Execute(context.Background(), module.Context{Protocol: 2}, tokens)
		assert.ErrorIs(t, err, module.ErrWrongArgs, "%v", tokens)
	}
	assert.Zero(t, h.log.Len())
}

func TestDescriptors(t *testing.T) {
	h := newTestHost(t)

	for _, name := range []string{"HSET", "HSETNX", "HDEL"} {
		d, ok := h.Registry.Lookup(name)
		require.True(t, ok)
		assert.True(t, d.Replicate, name)
		assert.True(t, d.HasCategory("write"), name)
		assert.True(t, d.HasCategory("hash"), name)
	}
	for _, name := range []string{"HGET", "HMGET", "HLEN", "HGETALL", "HEXISTS"} {
		d, ok := h.Registry.Lookup(name)
		require.True(t, ok)
		assert.False(t, d.Replicate, name)
		assert.True(t, d.HasCategory("read"), name)
	}
}

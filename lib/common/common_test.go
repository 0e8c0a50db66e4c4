package common

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/kvx/lib/acl"
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("verbose"))
}

func TestParseClusterMembers(t *testing.T) {
	members, err := ParseClusterMembers("node-1=localhost:63001, node-2=localhost:63002")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{
		ReplicaIDFromName("node-1"): "localhost:63001",
		ReplicaIDFromName("node-2"): "localhost:63002",
	}, members)

	members, err = ParseClusterMembers("")
	require.NoError(t, err)
	assert.Empty(t, members)

	for _, bad := range []string{"node-1", "=addr", "node-1=", "a=x,a=y"} {
		_, err := ParseClusterMembers(bad)
		assert.Error(t, err, bad)
	}
}

func TestHostConfig(t *testing.T) {
	c := &HostConfig{TimeoutSecond: 5, LogLevel: "info"}
	require.NoError(t, c.Validate())
	assert.Equal(t, "5s", c.Timeout().String())

	c.Replicated = true
	assert.Error(t, c.Validate(), "replica id missing")

	c.ReplicaID = ReplicaIDFromName("node-1")
	c.ClusterMembers, _ = ParseClusterMembers("node-1=localhost:63001")
	c.DataDir = t.TempDir()
	c.ShardID = 7
	c.RTTMillisecond = 100
	require.NoError(t, c.Validate())

	rc := c.ToDragonboatConfig()
	assert.Equal(t, c.ReplicaID, rc.ReplicaID)
	assert.Equal(t, uint64(7), rc.ShardID)
	assert.True(t, rc.CheckQuorum)

	nhc := c.ToNodeHostConfig()
	assert.Equal(t, "localhost:63001", nhc.RaftAddress)
	assert.Equal(t, c.DataDir, nhc.WALDir)

	assert.Contains(t, c.String(), "localhost:63001")

	c.ClusterMembers, _ = ParseClusterMembers("node-2=localhost:63002")
	assert.Error(t, c.Validate(), "replica not a member")

	c.TimeoutSecond = -1
	assert.Error(t, c.Validate())
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modules", "echo.lua"), []byte(`
command = "ECHO"
categories = {"read"}
function keyExtractionFunc(command, args) return {} end
function handlerFunc(ctx, command, keysExist, getValues, setValues, args) return args[1] end
`), 0o644))
	path := filepath.Join(dir, "kvx.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[module]]
builtin = "hash"

[[module]]
path = "modules/echo.lua"
args = ["pong"]

[[user]]
name = "reader"
categories = ["read"]
commands = ["*"]
read_keys = ["public:*"]
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Modules, 2)
	require.Len(t, m.Users, 1)

	reg := module.NewRegistry()
	require.NoError(t, m.LoadModules(reg))
	assert.Equal(t, []string{"hash", "lua:echo"}, reg.Modules())

	d, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, []string{"pong"}, d.ModuleArgs)

	a, err := m.ACL()
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "reader"}, a.Users())

	ctx := acl.WithUser(context.Background(), "reader")
	assert.NoError(t, a.Authorize(ctx, "HGET", []string{"read"}, []string{"public:x"}, nil))
	assert.ErrorIs(t, a.Authorize(ctx, "HSET", []string{"write"}, nil, []string{"public:x"}), acl.ErrNotAuthorized)
}

func TestManifestErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":       "[[module]]\nbuiltin = \"hash\"\nfoo = 1\n",
		"unknown builtin":   "[[module]]\nbuiltin = \"zset\"\n",
		"both sources":      "[[module]]\nbuiltin = \"hash\"\npath = \"x.lua\"\n",
		"no source":         "[[module]]\nargs = [\"a\"]\n",
		"bad key pattern":   "[[user]]\nname = \"u\"\nread_keys = [\"[\"]\n",
		"user without name": "[[user]]\ndisabled = true\n",
		"syntax":            "[[module]\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest(data, "")
			assert.Error(t, err)
		})
	}
}

func TestManifestMissingModule(t *testing.T) {
	m, err := ParseManifest("[[module]]\npath = \"missing.lua\"\n", t.TempDir())
	require.NoError(t, err)
	assert.Error(t, m.LoadModules(module.NewRegistry()))
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	reg := module.NewRegistry()
	require.NoError(t, m.LoadModules(reg))
	_, ok := reg.Lookup("HSET")
	assert.True(t, ok)
}

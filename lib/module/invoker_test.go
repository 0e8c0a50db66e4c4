package module

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/kvx/lib/acl"
	"github.com/ValentinKolb/kvx/lib/lockmgr"
	"github.com/ValentinKolb/kvx/lib/replog"
	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom: handler gave up")

// setCommand implements "TSET key value [key value ...]".
// Every pair is written with its own SetValues call; a value "fail" makes the handler fail
// after all writes were buffered, "panic" makes it panic.
func setCommand() Command {
	return CommandFuncs{
		ClassifyFunc: func(tokens, args []string) (KeySets, error) {
			if len(tokens) < 3 || len(tokens)%2 == 0 {
				return KeySets{}, WrongArgs("tset")
			}
			var keys []string
			for i := 1; i < len(tokens); i += 2 {
				keys = append(keys, tokens[i])
			}
			return KeySets{WriteKeys: keys}, nil
		},
		HandleFunc: func(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
			fail := false
			for i := 1; i < len(tokens); i += 2 {
				switch tokens[i+1] {
				case "fail":
					fail = true
				case "panic":
					panic("handler exploded")
				}
				if err := bridge.SetValues(map[string]value.Value{tokens[i]: value.String(tokens[i+1])}); err != nil {
					return nil, err
				}
			}
			if fail {
				return nil, errBoom
			}
			return value.Number((len(tokens) - 1) / 2), nil
		},
	}
}

// incrCommand implements "TINCR key" with a read-modify-write cycle.
func incrCommand() Command {
	return CommandFuncs{
		ClassifyFunc: func(tokens, args []string) (KeySets, error) {
			if len(tokens) != 2 {
				return KeySets{}, WrongArgs("tincr")
			}
			return KeySets{ReadKeys: tokens[1:], WriteKeys: tokens[1:]}, nil
		},
		HandleFunc: func(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
			values, err := bridge.GetValues(tokens[1:])
			if err != nil {
				return nil, err
			}
			n := 0.0
			if num, ok := values[tokens[1]].(value.Number); ok {
				n = float64(num)
			}
			// give other invocations a chance to interleave
			time.Sleep(10 * time.Microsecond)
			next := value.Number(n + 1)
			return next, bridge.SetValues(map[string]value.Value{tokens[1]: next})
		},
	}
}

// blockCommand never returns until it is released
func blockCommand(release <-chan struct{}) Command {
	return CommandFuncs{
		ClassifyFunc: func(tokens, args []string) (KeySets, error) {
			return KeySets{WriteKeys: []string{"blocked"}}, nil
		},
		HandleFunc: func(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
			_ = bridge.SetValues(map[string]value.Value{"blocked": value.String("x")})
			<-release
			// the bridge is sealed by now
			return nil, bridge.SetValues(map[string]value.Value{"blocked": value.String("late")})
		},
	}
}

type testEnv struct {
	store store.IStore
	log   *replog.MemLog
	inv   *Invoker
}

func newTestEnv(t *testing.T, cfg InvokerConfig) *testEnv {
	t.Helper()
	env := &testEnv{store: newTestStore(), log: replog.NewMemLog()}
	cfg.Store = env.store
	if cfg.Log == nil {
		cfg.Log = env.log
	}
	env.inv = NewInvoker(cfg)
	return env
}

func (env *testEnv) get(t *testing.T, keys ...string) map[string]value.Value {
	t.Helper()
	values, err := env.store.Get(0, keys)
	require.NoError(t, err)
	return values
}

var tset = &Descriptor{Name: "TSET", Categories: []string{"write"}, Replicate: true, Command: setCommand()}

func TestInvokeCommitsAndReplicates(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})

	res, err := env.inv.Invoke(context.Background(), tset, Context{Protocol: 3}, []string{"TSET", "a", "1", "b", "2"})
	require.NoError(t, err)
	assert.Equal(t, value.Number(2), res)

	values := env.get(t, "a", "b")
	assert.True(t, value.Equal(value.String("1"), values["a"]))
	assert.True(t, value.Equal(value.String("2"), values["b"]))

	entries := env.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"TSET", "a", "1", "b", "2"}, entries[0].Command)
	assert.Equal(t, []string{"a", "b"}, entries[0].Keys())
}

func TestInvokeWithoutReplication(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	d := &Descriptor{Name: "TSET", Command: setCommand()}

	_, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"TSET", "a", "1"})
	require.NoError(t, err)
	assert.Zero(t, env.log.Len())
	assert.True(t, value.Equal(value.String("1"), env.get(t, "a")["a"]))
}

func TestClassificationFailureLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	_, err := env.store.Commit(0, map[string]value.Value{"a": value.String("before")})
	require.NoError(t, err)

	_, err = env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET", "a"})
	assert.ErrorIs(t, err, ErrWrongArgs)
	assert.Equal(t, "wrong number of arguments for 'tset' command", err.Error())

	assert.True(t, value.Equal(value.String("before"), env.get(t, "a")["a"]))
	assert.Zero(t, env.log.Len())
}

func TestClassifierErrorsAreWrapped(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	d := &Descriptor{Name: "bad", Command: CommandFuncs{
		ClassifyFunc: func(tokens, args []string) (KeySets, error) { return KeySets{}, errors.New("missing key") },
		HandleFunc: func(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
			t.Fatal("handler must not run")
			return nil, nil
		},
	}}

	_, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"bad"})
	assert.ErrorIs(t, err, ErrWrongArgs)
}

func TestFailedHandlerDiscardsAllWrites(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})

	_, err := env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET", "a", "1", "b", "2", "c", "fail"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandler)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, errBoom.Error(), err.Error(), "handler messages are surfaced verbatim")

	values := env.get(t, "a", "b", "c")
	for key, v := range values {
		assert.True(t, value.IsNil(v), "key %s must not be written", key)
	}
	assert.Zero(t, env.log.Len())
}

func TestHandlerPanic(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})

	_, err := env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET", "a", "1", "b", "panic"})
	assert.ErrorIs(t, err, ErrHandler)
	assert.Contains(t, err.Error(), "handler exploded")
	assert.True(t, value.IsNil(env.get(t, "a")["a"]))

	// the invoker keeps working
	_, err = env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET", "a", "1"})
	assert.NoError(t, err)
}

func TestUndeclaredKeyFailsInvocation(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	d := &Descriptor{Name: "sneaky", Replicate: true, Command: CommandFuncs{
		ClassifyFunc: func(tokens, args []string) (KeySets, error) {
			return KeySets{WriteKeys: []string{"k1", "k2"}}, nil
		},
		HandleFunc: func(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
			if err := bridge.SetValues(map[string]value.Value{"k1": value.String("1")}); err != nil {
				return nil, err
			}
			return nil, bridge.SetValues(map[string]value.Value{"k3": value.String("3")})
		},
	}}

	_, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"sneaky"})
	assert.ErrorIs(t, err, ErrKeyNotDeclared)
	assert.ErrorIs(t, err, ErrHandler)

	values := env.get(t, "k1", "k3")
	assert.True(t, value.IsNil(values["k1"]))
	assert.True(t, value.IsNil(values["k3"]))
	assert.Zero(t, env.log.Len())
}

func TestInvalidProtocol(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	for _, p := range []int{0, 1, 4} {
		_, err := env.inv.Invoke(context.Background(), tset, Context{Protocol: p}, []string{"TSET", "a", "1"})
		assert.ErrorIs(t, err, ErrInvalidProtocol, "protocol %d", p)
	}
	assert.True(t, value.IsNil(env.get(t, "a")["a"]))
}

func TestTimeoutDiscardsWrites(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	d := &Descriptor{Name: "block", Replicate: true, Command: blockCommand(release)}
	_, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"block"})
	assert.ErrorIs(t, err, ErrHandler)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.True(t, value.IsNil(env.get(t, "blocked")["blocked"]))
	assert.Zero(t, env.log.Len())
}

func TestCanceledContext(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	d := &Descriptor{Name: "block", Command: blockCommand(release)}
	_, err := env.inv.Invoke(ctx, d, Context{Protocol: 2}, []string{"block"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, value.IsNil(env.get(t, "blocked")["blocked"]))
}

func TestAccessDenied(t *testing.T) {
	a, err := acl.NewACL(&acl.User{
		Name:               "ro",
		IncludedCategories: []string{"read"},
		IncludedCommands:   []string{"*"},
		ReadKeys:           []string{"*"},
	})
	require.NoError(t, err)

	env := newTestEnv(t, InvokerConfig{Auth: a})

	ctx := acl.WithUser(context.Background(), "ro")
	_, err = env.inv.Invoke(ctx, tset, Context{Protocol: 2}, []string{"TSET", "a", "1"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, err, acl.ErrNotAuthorized)
	assert.True(t, value.IsNil(env.get(t, "a")["a"]))

	// the default user may write
	_, err = env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET", "a", "1"})
	assert.NoError(t, err)
}

func TestReplicationFailure(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	env.log.FailWith(errors.New("no quorum"))

	_, err := env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET", "a", "1"})
	assert.ErrorIs(t, err, ErrReplication)

	// the local commit happened before the append
	assert.True(t, value.Equal(value.String("1"), env.get(t, "a")["a"]))
}

func TestDatabasesAreSeparate(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})

	_, err := env.inv.Invoke(context.Background(), tset, Context{Protocol: 2, Database: 4}, []string{"TSET", "a", "1"})
	require.NoError(t, err)

	assert.True(t, value.IsNil(env.get(t, "a")["a"]))
	values, err := env.store.Get(4, []string{"a"})
	require.NoError(t, err)
	assert.True(t, value.Equal(value.String("1"), values["a"]))
	assert.Equal(t, uint64(4), env.log.Entries()[0].Database)
}

func TestLocksSerializeConflictingInvocations(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{Locks: lockmgr.NewLockManager(nil)})
	d := &Descriptor{Name: "TINCR", Replicate: true, Command: incrCommand()}

	const workers, rounds = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"TINCR", "counter"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.True(t, value.Equal(value.Number(workers*rounds), env.get(t, "counter")["counter"]))

	// log order matches commit order: the entries count up
	entries := env.log.Entries()
	require.Len(t, entries, workers*rounds)
	for i, e := range entries {
		values, err := e.Values()
		require.NoError(t, err)
		assert.True(t, value.Equal(value.Number(i+1), values["counter"]), "entry %d", i)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})

	_, _ = env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET", "a", "1"})
	_, _ = env.inv.Invoke(context.Background(), tset, Context{Protocol: 2}, []string{"TSET"})

	var buf bytes.Buffer
	env.inv.WriteMetrics(&buf)
	out := buf.String()
	assert.Contains(t, out, `kvx_invocations_total{command="tset"} 2`)
	assert.Contains(t, out, `kvx_invocation_errors_total{command="tset",kind="wrong_args"} 1`)
	assert.Contains(t, out, "kvx_invocation_duration_seconds_bucket")
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{fmt.Errorf("%w: 5", ErrInvalidProtocol), "protocol"},
		{WrongArgs("x"), "wrong_args"},
		{&HandlerError{Err: context.DeadlineExceeded}, "canceled"},
		{&HandlerError{Err: fmt.Errorf("%w: k", ErrKeyNotDeclared)}, "key_not_declared"},
		{&HandlerError{Err: errBoom}, "handler"},
		{store.NewError(store.RetCInternalError, "x"), "store"},
		{fmt.Errorf("%w: %w", ErrReplication, errBoom), "replication"},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+strconv.Quote(tt.err.Error()), func(t *testing.T) {
			assert.Equal(t, tt.kind, errorKind(tt.err))
		})
	}
}

func TestInvocationWithoutWritesIsNotReplicated(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{})
	d := &Descriptor{Name: "noop", Replicate: true, Command: noopCommand()}

	res, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"noop"})
	require.NoError(t, err)
	assert.Equal(t, value.String("OK"), res)
	assert.Zero(t, env.log.Len())
}

// stallCommand blocks in ClassifyContext ("STALL classify") or in HandleContext until ctx is done
type stallCommand struct {
	returned chan struct{}
}

func (c *stallCommand) Classify(tokens, args []string) (KeySets, error) {
	return c.ClassifyContext(context.Background(), tokens, args)
}

func (c *stallCommand) Handle(ictx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
	return c.HandleContext(context.Background(), ictx, tokens, bridge, args)
}

func (c *stallCommand) ClassifyContext(ctx context.Context, tokens, args []string) (KeySets, error) {
	if len(tokens) > 1 && tokens[1] == "classify" {
		<-ctx.Done()
		return KeySets{}, ctx.Err()
	}
	return KeySets{WriteKeys: []string{"stalled"}}, nil
}

func (c *stallCommand) HandleContext(ctx context.Context, ictx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
	defer close(c.returned)
	_ = bridge.SetValues(map[string]value.Value{"stalled": value.String("x")})
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestContextCommandObservesTimeout(t *testing.T) {
	env := newTestEnv(t, InvokerConfig{Timeout: 20 * time.Millisecond})

	cmd := &stallCommand{returned: make(chan struct{})}
	d := &Descriptor{Name: "STALL", Replicate: true, Command: cmd}

	t.Run("Handle", func(t *testing.T) {
		_, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"STALL"})
		assert.ErrorIs(t, err, ErrHandler)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		select {
		case <-cmd.returned:
		case <-time.After(time.Second):
			t.Fatal("handler was not told about the timeout")
		}
		assert.True(t, value.IsNil(env.get(t, "stalled")["stalled"]))
		assert.Zero(t, env.log.Len())
	})

	t.Run("Classify", func(t *testing.T) {
		_, err := env.inv.Invoke(context.Background(), d, Context{Protocol: 2}, []string{"STALL", "classify"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrWrongArgs)
	})
}

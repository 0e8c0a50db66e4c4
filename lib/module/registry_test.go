package module

import (
	"context"
	"testing"

	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopCommand() Command {
	return CommandFuncs{
		ClassifyFunc: func(tokens, args []string) (KeySets, error) { return KeySets{}, nil },
		HandleFunc: func(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
			return value.String("OK"), nil
		},
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterModule(Module{
		Name: "mod",
		Commands: []Descriptor{
			{Name: "Foo", Categories: []string{"@Read", "read", "FAST"}, Command: noopCommand(), ModuleArgs: []string{"x"}},
			{Name: "bar", Command: noopCommand()},
		},
	}))

	d, ok := r.Lookup("FOO")
	require.True(t, ok)
	assert.Equal(t, "Foo", d.Name)
	assert.Equal(t, []string{"fast", "read"}, d.Categories)
	assert.True(t, d.HasCategory("READ"))
	assert.Equal(t, []string{"x"}, d.ModuleArgs)

	assert.Equal(t, []string{"mod"}, r.Modules())
	names, ok := r.ModuleCommands("mod")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"foo", "bar"}, names)

	descriptors := r.Descriptors()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "bar", descriptors[0].Name)

	t.Run("duplicate command is rejected atomically", func(t *testing.T) {
		err := r.RegisterModule(Module{
			Name: "other",
			Commands: []Descriptor{
				{Name: "baz", Command: noopCommand()},
				{Name: "FOO", Command: noopCommand()},
			},
		})
		assert.ErrorIs(t, err, ErrDuplicateCommand)
		_, ok := r.Lookup("baz")
		assert.False(t, ok)
	})

	t.Run("duplicate within module", func(t *testing.T) {
		err := r.RegisterModule(Module{
			Name:     "dup",
			Commands: []Descriptor{{Name: "x", Command: noopCommand()}, {Name: "X", Command: noopCommand()}},
		})
		assert.ErrorIs(t, err, ErrDuplicateCommand)
	})

	t.Run("invalid descriptors", func(t *testing.T) {
		assert.Error(t, r.Register(Descriptor{Name: "", Command: noopCommand()}))
		assert.Error(t, r.Register(Descriptor{Name: "two words", Command: noopCommand()}))
		assert.Error(t, r.Register(Descriptor{Name: "nocmd"}))
		assert.Error(t, r.RegisterModule(Module{Commands: []Descriptor{{Name: "a", Command: noopCommand()}}}))
	})

	t.Run("module loaded twice", func(t *testing.T) {
		assert.Error(t, r.RegisterModule(Module{Name: "mod"}))
	})

	t.Run("unregister", func(t *testing.T) {
		require.NoError(t, r.UnregisterModule("mod"))
		_, ok := r.Lookup("foo")
		assert.False(t, ok)
		assert.Empty(t, r.Modules())
		assert.Error(t, r.UnregisterModule("mod"))

		// the name is free again
		require.NoError(t, r.Register(Descriptor{Name: "foo", Command: noopCommand()}))
	})
}

func TestDescriptorIsCopied(t *testing.T) {
	r := NewRegistry()
	args := []string{"a"}
	d := Descriptor{Name: "cmd", ModuleArgs: args, Command: noopCommand()}
	require.NoError(t, r.Register(d))

	args[0] = "changed"
	got, _ := r.Lookup("cmd")
	assert.Equal(t, []string{"a"}, got.ModuleArgs)
}

func TestHostExecute(t *testing.T) {
	h := NewHost(InvokerConfig{Store: newTestStore()})
	require.NoError(t, h.Registry.Register(Descriptor{Name: "ping", Command: noopCommand()}))

	res, err := h.Execute(context.Background(), Context{Protocol: 2}, []string{"PING"})
	require.NoError(t, err)
	assert.Equal(t, value.String("OK"), res)

	_, err = h.Execute(context.Background(), Context{Protocol: 2}, []string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = h.Execute(context.Background(), Context{Protocol: 2}, nil)
	assert.ErrorIs(t, err, ErrWrongArgs)
}

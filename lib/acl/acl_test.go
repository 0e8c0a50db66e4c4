package acl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultUser(t *testing.T) {
	a, err := NewACL()
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultUser}, a.Users())
	assert.NoError(t, a.Authorize(context.Background(), "HSET", []string{"hash", "write"}, []string{"k"}, []string{"k"}))

	assert.Zero(t, a.DeleteUser(DefaultUser), "default user can not be deleted")
	_, ok := a.User(DefaultUser)
	assert.True(t, ok)
}

func TestUserFromContext(t *testing.T) {
	assert.Equal(t, DefaultUser, UserFrom(context.Background()))
	assert.Equal(t, "alice", UserFrom(WithUser(context.Background(), "alice")))
	assert.Equal(t, DefaultUser, UserFrom(WithUser(context.Background(), "")))
}

func TestAuthorize(t *testing.T) {
	reader := &User{
		Name:               "reader",
		IncludedCategories: []string{"@Hash", "read", "fast"},
		IncludedCommands:   []string{"*"},
		ReadKeys:           []string{"user:*"},
	}
	noDel := &User{
		Name:               "nodel",
		IncludedCategories: []string{"*"},
		IncludedCommands:   []string{"*"},
		ExcludedCommands:   []string{"HDEL"},
		ReadKeys:           []string{"*"},
		WriteKeys:          []string{"tmp:*"},
	}
	noWrite := &User{
		Name:               "nowrite",
		IncludedCategories: []string{"*"},
		ExcludedCategories: []string{"write"},
		IncludedCommands:   []string{"*"},
		ReadKeys:           []string{"*"},
		WriteKeys:          []string{"*"},
	}
	disabled := NewUser("off")
	disabled.Disabled = true

	a, err := NewACL(reader, noDel, noWrite, disabled)
	require.NoError(t, err)

	tests := []struct {
		name       string
		user       string
		command    string
		categories []string
		read       []string
		write      []string
		allowed    bool
	}{
		{"read allowed", "reader", "hget", []string{"hash", "read", "fast"}, []string{"user:1"}, nil, true},
		{"read outside pattern", "reader", "hget", []string{"hash", "read"}, []string{"order:1"}, nil, false},
		{"category not included", "reader", "hset", []string{"hash", "write"}, []string{"user:1"}, []string{"user:1"}, false},
		{"excluded command", "nodel", "HDel", []string{"hash", "write"}, []string{"tmp:1"}, []string{"tmp:1"}, false},
		{"write allowed", "nodel", "hset", []string{"hash", "write"}, []string{"user:1"}, []string{"tmp:1"}, true},
		{"write outside pattern", "nodel", "hset", []string{"hash", "write"}, nil, []string{"user:1"}, false},
		{"excluded category", "nowrite", "hset", []string{"Write"}, nil, []string{"k"}, false},
		{"not excluded category", "nowrite", "hget", []string{"read"}, []string{"k"}, nil, true},
		{"disabled user", "off", "hget", []string{"read"}, []string{"k"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authorize(WithUser(context.Background(), tt.user), tt.command, tt.categories, tt.read, tt.write)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNotAuthorized)
			}
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		err := a.Authorize(WithUser(context.Background(), "ghost"), "hget", nil, nil, nil)
		assert.ErrorIs(t, err, ErrUnknownUser)
	})
}

func TestSetAndDeleteUser(t *testing.T) {
	a, err := NewACL()
	require.NoError(t, err)

	u := NewUser("bob")
	require.NoError(t, a.SetUser(u))

	// the ACL keeps its own copy
	u.Disabled = true
	stored, ok := a.User("bob")
	require.True(t, ok)
	assert.False(t, stored.Disabled)

	assert.Equal(t, []string{"bob", DefaultUser}, a.Users())
	assert.Equal(t, 1, a.DeleteUser("bob", "nobody"))
	assert.Equal(t, []string{DefaultUser}, a.Users())
}

func TestInvalidUser(t *testing.T) {
	_, err := NewACL(&User{Name: "bad", ReadKeys: []string{"[unclosed"}})
	assert.Error(t, err)

	_, err = NewACL(&User{})
	assert.Error(t, err)
}

func TestNormalise(t *testing.T) {
	u := &User{Name: "n", IncludedCategories: []string{"@Hash", "hash", " READ "}, IncludedCommands: []string{"HSET", "hset"}}
	u.Normalise()
	assert.Equal(t, []string{"hash", "read"}, u.IncludedCategories)
	assert.Equal(t, []string{"hset"}, u.IncludedCommands)
}

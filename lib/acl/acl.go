package acl

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var aclLogger = logger.GetLogger("acl")

// DefaultUser is the user of every invocation whose context carries no user.
const DefaultUser = "default"

// all matches every category, command or key
const all = "*"

var (
	// ErrNotAuthorized is returned when a user may not run a command.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrUnknownUser is returned when the context names a user that does not exist.
	ErrUnknownUser = errors.New("unknown user")
)

// --------------------------------------------------------------------------
// User
// --------------------------------------------------------------------------

// User holds the rules for one user. Categories and commands are compared case-insensitive,
// keys are matched as path.Match patterns (e.g. "user:*").
type User struct {
	Name               string   `toml:"name"`
	Disabled           bool     `toml:"disabled"`
	IncludedCategories []string `toml:"categories"`
	ExcludedCategories []string `toml:"exclude_categories"`
	IncludedCommands   []string `toml:"commands"`
	ExcludedCommands   []string `toml:"exclude_commands"`
	ReadKeys           []string `toml:"read_keys"`
	WriteKeys          []string `toml:"write_keys"`
}

// NewUser creates an enabled user that may run every command on every key.
func NewUser(name string) *User {
	return &User{
		Name:               name,
		IncludedCategories: []string{all},
		IncludedCommands:   []string{all},
		ReadKeys:           []string{all},
		WriteKeys:          []string{all},
	}
}

// Normalise lower-cases categories and commands and removes duplicates.
func (u *User) Normalise() {
	u.IncludedCategories = normaliseNames(u.IncludedCategories)
	u.ExcludedCategories = normaliseNames(u.ExcludedCategories)
	u.IncludedCommands = normaliseNames(u.IncludedCommands)
	u.ExcludedCommands = normaliseNames(u.ExcludedCommands)
}

// Validate checks that all key patterns are well-formed.
func (u *User) Validate() error {
	if u.Name == "" {
		return errors.New("user without name")
	}
	for _, pattern := range append(append([]string{}, u.ReadKeys...), u.WriteKeys...) {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("user %s: key pattern %q: %w", u.Name, pattern, err)
		}
	}
	return nil
}

func (u *User) clone() *User {
	c := *u
	c.IncludedCategories = append([]string(nil), u.IncludedCategories...)
	c.ExcludedCategories = append([]string(nil), u.ExcludedCategories...)
	c.IncludedCommands = append([]string(nil), u.IncludedCommands...)
	c.ExcludedCommands = append([]string(nil), u.ExcludedCommands...)
	c.ReadKeys = append([]string(nil), u.ReadKeys...)
	c.WriteKeys = append([]string(nil), u.WriteKeys...)
	return &c
}

// --------------------------------------------------------------------------
// ACL
// --------------------------------------------------------------------------

// ACL decides which user may run which command on which keys.
type ACL struct {
	users *xsync.MapOf[string, *User]
}

// NewACL creates an ACL with the given users.
// If no user named DefaultUser is among them, an unrestricted default user is added.
func NewACL(users ...*User) (*ACL, error) {
	a := &ACL{users: xsync.NewMapOf[string, *User]()}
	for _, u := range users {
		if err := a.SetUser(u); err != nil {
			return nil, err
		}
	}
	if _, ok := a.users.Load(DefaultUser); !ok {
		a.users.Store(DefaultUser, NewUser(DefaultUser))
	}
	return a, nil
}

// SetUser adds a user or replaces the user with the same name.
func (a *ACL) SetUser(u *User) error {
	c := u.clone()
	c.Normalise()
	if err := c.Validate(); err != nil {
		return err
	}
	a.users.Store(c.Name, c)
	aclLogger.Debugf("set user %s", c.Name)
	return nil
}

// DeleteUser removes users. The default user can not be removed and is skipped.
// Returns the number of deleted users.
func (a *ACL) DeleteUser(names ...string) int {
	count := 0
	for _, name := range names {
		if name == DefaultUser {
			continue
		}
		if _, ok := a.users.LoadAndDelete(name); ok {
			count++
		}
	}
	return count
}

// User returns a copy of the user with the given name.
func (a *ACL) User(name string) (*User, bool) {
	u, ok := a.users.Load(name)
	if !ok {
		return nil, false
	}
	return u.clone(), true
}

// Users returns the names of all users in sorted order.
func (a *ACL) Users() []string {
	names := make([]string, 0, a.users.Size())
	a.users.Range(func(name string, _ *User) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Authorize checks if the user in ctx may run command (with the given categories)
// reading readKeys and writing writeKeys. A denial wraps ErrNotAuthorized.
func (a *ACL) Authorize(ctx context.Context, command string, categories []string, readKeys, writeKeys []string) error {
	name := UserFrom(ctx)
	u, ok := a.users.Load(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, name)
	}
	if u.Disabled {
		return fmt.Errorf("%w: user %s is disabled", ErrNotAuthorized, name)
	}

	command = strings.ToLower(command)

	// 1. every category of the command must be included
	if !contains(u.IncludedCategories, all) {
		for _, cat := range categories {
			if !contains(u.IncludedCategories, strings.ToLower(cat)) {
				return fmt.Errorf("%w: user %s may not run @%s commands", ErrNotAuthorized, name, strings.ToLower(cat))
			}
		}
	}

	// 2. no category of the command may be excluded
	if contains(u.ExcludedCategories, all) {
		return fmt.Errorf("%w: user %s may not run @all commands", ErrNotAuthorized, name)
	}
	for _, cat := range categories {
		if contains(u.ExcludedCategories, strings.ToLower(cat)) {
			return fmt.Errorf("%w: user %s may not run @%s commands", ErrNotAuthorized, name, strings.ToLower(cat))
		}
	}

	// 3. the command must be included and not excluded
	if !contains(u.IncludedCommands, all) && !contains(u.IncludedCommands, command) {
		return fmt.Errorf("%w: user %s may not run %s", ErrNotAuthorized, name, command)
	}
	if contains(u.ExcludedCommands, all) || contains(u.ExcludedCommands, command) {
		return fmt.Errorf("%w: user %s may not run %s", ErrNotAuthorized, name, command)
	}

	// 4. keys must match the read and write patterns
	for _, key := range readKeys {
		if !matchAny(u.ReadKeys, key) {
			return fmt.Errorf("%w: user %s may not read key %s", ErrNotAuthorized, name, key)
		}
	}
	for _, key := range writeKeys {
		if !matchAny(u.WriteKeys, key) {
			return fmt.Errorf("%w: user %s may not write key %s", ErrNotAuthorized, name, key)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Context
// --------------------------------------------------------------------------

type userKey struct{}

// WithUser returns a context that runs invocations as the named user.
func WithUser(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, userKey{}, name)
}

// UserFrom returns the user carried by ctx, DefaultUser if there is none.
func UserFrom(ctx context.Context) string {
	if name, ok := ctx.Value(userKey{}).(string); ok && name != "" {
		return name
	}
	return DefaultUser
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func normaliseNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	res := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(n), "@"))
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		res = append(res, n)
	}
	return res
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// matchAny reports whether key matches one of the patterns.
// Malformed patterns are rejected by Validate, so errors are treated as no match.
func matchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if p == all {
			return true
		}
		if ok, err := path.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

package module

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ValentinKolb/kvx/lib/value"
)

// --------------------------------------------------------------------------
// Invocation Types
// --------------------------------------------------------------------------

// Context describes the client side of one invocation.
type Context struct {
	Protocol int    // Response protocol of the client, 2 or 3
	Database uint64 // Logical database the command runs against
}

// Validate checks the protocol version.
func (c Context) Validate() error {
	if c.Protocol != 2 && c.Protocol != 3 {
		return fmt.Errorf("%w: %d", ErrInvalidProtocol, c.Protocol)
	}
	return nil
}

// KeySets holds the keys an invocation is going to read and write.
// The sets may be empty and may overlap.
type KeySets struct {
	ReadKeys  []string
	WriteKeys []string
}

// Command is the implementation of one extension command.
type Command interface {
	// Classify returns the keys the invocation with the given tokens will access.
	// It must not touch the store and must return the same result for the same input.
	// Malformed tokens are reported with an error wrapping ErrWrongArgs.
	Classify(tokens, args []string) (KeySets, error)

	// Handle runs the command. All store access goes through the bridge, which only
	// accepts the keys returned by Classify. The returned value is the response to the client.
	Handle(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error)
}

// ContextCommand is implemented by commands whose calls can be aborted.
// The invoker prefers these methods over Classify and Handle; ctx is done once the
// invocation timed out or was canceled, and the call should return soon after.
type ContextCommand interface {
	Command
	ClassifyContext(ctx context.Context, tokens, args []string) (KeySets, error)
	HandleContext(ctx context.Context, ictx Context, tokens []string, bridge Bridge, args []string) (value.Value, error)
}

// CommandFuncs adapts a pair of functions to the Command interface.
type CommandFuncs struct {
	ClassifyFunc func(tokens, args []string) (KeySets, error)
	HandleFunc   func(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error)
}

func (c CommandFuncs) Classify(tokens, args []string) (KeySets, error) {
	return c.ClassifyFunc(tokens, args)
}

func (c CommandFuncs) Handle(ctx Context, tokens []string, bridge Bridge, args []string) (value.Value, error) {
	return c.HandleFunc(ctx, tokens, bridge, args)
}

// --------------------------------------------------------------------------
// Descriptor
// --------------------------------------------------------------------------

// Descriptor is the registration record of a command.
// It must not be changed after it was registered.
type Descriptor struct {
	Name        string   // Command name, looked up case-insensitive
	Categories  []string // ACL categories (lower case, no duplicates)
	Description string
	Replicate   bool     // Whether successful invocations are appended to the replication log
	ModuleArgs  []string // Fixed arguments passed to Classify and Handle
	Command     Command
}

// normalise lower-cases and de-duplicates the categories and validates the descriptor
func (d *Descriptor) normalise() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("command without name")
	}
	if strings.ContainsAny(d.Name, " \t\r\n") {
		return fmt.Errorf("command name %q contains whitespace", d.Name)
	}
	if d.Command == nil {
		return fmt.Errorf("command %s has no implementation", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Categories))
	categories := make([]string, 0, len(d.Categories))
	for _, c := range d.Categories {
		c = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "@"))
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		categories = append(categories, c)
	}
	sort.Strings(categories)
	d.Categories = categories
	d.ModuleArgs = append([]string(nil), d.ModuleArgs...)
	return nil
}

// HasCategory reports whether the command belongs to the category.
func (d *Descriptor) HasCategory(category string) bool {
	category = strings.ToLower(category)
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Module is a named group of commands that is loaded and unloaded together.
type Module struct {
	Name     string
	Commands []Descriptor
}

package module

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps command names to descriptors.
// Lookups are lock free; loading and unloading of modules is serialized.
type Registry struct {
	mu       sync.Mutex // serializes RegisterModule and UnregisterModule
	commands *xsync.MapOf[string, *Descriptor]
	modules  *xsync.MapOf[string, []string]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: xsync.NewMapOf[string, *Descriptor](),
		modules:  xsync.NewMapOf[string, []string](),
	}
}

// RegisterModule registers all commands of a module.
// Either every command is registered or, on error, none.
func (r *Registry) RegisterModule(m Module) error {
	if m.Name == "" {
		return fmt.Errorf("module without name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules.Load(m.Name); ok {
		return fmt.Errorf("module %s is already loaded", m.Name)
	}

	descriptors := make([]*Descriptor, 0, len(m.Commands))
	names := make([]string, 0, len(m.Commands))
	seen := make(map[string]struct{}, len(m.Commands))
	for i := range m.Commands {
		d := m.Commands[i]
		if err := d.normalise(); err != nil {
			return fmt.Errorf("module %s: %w", m.Name, err)
		}
		name := strings.ToLower(d.Name)
		if _, ok := seen[name]; ok {
			return fmt.Errorf("module %s: %w: %s", m.Name, ErrDuplicateCommand, d.Name)
		}
		if _, ok := r.commands.Load(name); ok {
			return fmt.Errorf("module %s: %w: %s", m.Name, ErrDuplicateCommand, d.Name)
		}
		seen[name] = struct{}{}
		descriptors = append(descriptors, &d)
		names = append(names, name)
	}

	for i, d := range descriptors {
		r.commands.Store(names[i], d)
	}
	r.modules.Store(m.Name, names)
	return nil
}

// Register registers a single command as a module of its own (named after the command).
func (r *Registry) Register(d Descriptor) error {
	return r.RegisterModule(Module{Name: strings.ToLower(d.Name), Commands: []Descriptor{d}})
}

// UnregisterModule removes all commands of a module.
func (r *Registry) UnregisterModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names, ok := r.modules.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("module %s is not loaded", name)
	}
	for _, n := range names {
		r.commands.Delete(n)
	}
	return nil
}

// Lookup returns the descriptor for a command name (case-insensitive).
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	return r.commands.Load(strings.ToLower(name))
}

// Descriptors returns all registered descriptors sorted by name.
func (r *Registry) Descriptors() []*Descriptor {
	res := make([]*Descriptor, 0, r.commands.Size())
	r.commands.Range(func(_ string, d *Descriptor) bool {
		res = append(res, d)
		return true
	})
	sort.Slice(res, func(i, j int) bool { return strings.ToLower(res[i].Name) < strings.ToLower(res[j].Name) })
	return res
}

// Modules returns the names of all loaded modules in sorted order.
func (r *Registry) Modules() []string {
	res := make([]string, 0, r.modules.Size())
	r.modules.Range(func(name string, _ []string) bool {
		res = append(res, name)
		return true
	})
	sort.Strings(res)
	return res
}

// ModuleCommands returns the (lower-case) command names of a module.
func (r *Registry) ModuleCommands(name string) ([]string, bool) {
	names, ok := r.modules.Load(name)
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

package common

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ValentinKolb/kvx/lib/acl"
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/ValentinKolb/kvx/lib/modules/hashcmd"
	"github.com/ValentinKolb/kvx/lib/modules/luamod"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("kvx")

// Builtins are the modules that can be loaded with `builtin = "<name>"`.
var Builtins = map[string]func() module.Module{
	hashcmd.ModuleName: hashcmd.Module,
}

// ModuleEntry is one [[module]] table of the manifest.
// Exactly one of Builtin and Path is set. A relative path is resolved against the manifest's directory.
type ModuleEntry struct {
	Builtin string   `toml:"builtin"`
	Path    string   `toml:"path"`
	Args    []string `toml:"args"`
}

func (e ModuleEntry) String() string {
	if e.Builtin != "" {
		return "builtin:" + e.Builtin
	}
	return e.Path
}

// Manifest lists the modules and users of a host, e.g.
//
//	[[module]]
//	builtin = "hash"
//
//	[[module]]
//	path = "modules/hash.lua"
//	args = ["a", "b"]
//
//	[[user]]
//	name = "reader"
//	categories = ["read"]
//	commands = ["*"]
//	read_keys = ["public:*"]
type Manifest struct {
	Modules []ModuleEntry `toml:"module"`
	Users   []*acl.User   `toml:"user"`

	dir string
}

// DefaultManifest loads every builtin module and has no extra users.
func DefaultManifest() *Manifest {
	m := &Manifest{}
	names := make([]string, 0, len(Builtins))
	for name := range Builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.Modules = append(m.Modules, ModuleEntry{Builtin: name})
	}
	return m
}

// LoadManifest reads the manifest at path. Unknown keys are rejected.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{}
	meta, err := toml.DecodeFile(path, m)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err := checkUndecoded(meta); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest parses a manifest, relative module paths are resolved against dir.
func ParseManifest(data, dir string) (*Manifest, error) {
	m := &Manifest{}
	meta, err := toml.Decode(data, m)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := checkUndecoded(meta); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	m.dir = dir
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return m, nil
}

func checkUndecoded(meta toml.MetaData) error {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// Validate checks that every module entry names exactly one source and every user is valid.
func (m *Manifest) Validate() error {
	var errs []error
	for i, e := range m.Modules {
		switch {
		case e.Builtin != "" && e.Path != "":
			errs = append(errs, fmt.Errorf("module %d: builtin and path are mutually exclusive", i))
		case e.Builtin == "" && e.Path == "":
			errs = append(errs, fmt.Errorf("module %d: either builtin or path is required", i))
		case e.Builtin != "":
			if _, ok := Builtins[e.Builtin]; !ok {
				errs = append(errs, fmt.Errorf("module %d: unknown builtin %q", i, e.Builtin))
			}
		}
	}
	for _, u := range m.Users {
		if err := u.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadModules loads every module of the manifest and registers it.
// Loading stops at the first module that fails.
func (m *Manifest) LoadModules(reg *module.Registry) error {
	for _, e := range m.Modules {
		mod, err := m.load(e)
		if err != nil {
			return fmt.Errorf("module %s: %w", e, err)
		}
		if err := reg.RegisterModule(mod); err != nil {
			return fmt.Errorf("module %s: %w", e, err)
		}
		log.Infof("registered module %s (%d commands)", mod.Name, len(mod.Commands))
	}
	return nil
}

func (m *Manifest) load(e ModuleEntry) (module.Module, error) {
	if e.Builtin != "" {
		factory, ok := Builtins[e.Builtin]
		if !ok {
			return module.Module{}, fmt.Errorf("unknown builtin %q", e.Builtin)
		}
		mod := factory()
		for i := range mod.Commands {
			mod.Commands[i].ModuleArgs = e.Args
		}
		return mod, nil
	}
	path := e.Path
	if !filepath.IsAbs(path) && m.dir != "" {
		path = filepath.Join(m.dir, path)
	}
	return luamod.LoadFile(path, e.Args)
}

// ACL creates the access control list of the manifest's users.
func (m *Manifest) ACL() (*acl.ACL, error) {
	return acl.NewACL(m.Users...)
}

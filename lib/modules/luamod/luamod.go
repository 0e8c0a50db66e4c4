package luamod

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("luamod")

// ModulePrefix is prepended to the command name to build the module name of a script.
const ModulePrefix = "lua:"

var _ module.ContextCommand = (*Script)(nil)

// hookInstructions is the number of Lua instructions between two checks of the context
const hookInstructions = 1000

// Script is a command implemented by a Lua script.
//
// A Lua state is not safe for concurrent use, so all calls into the script are serialised.
// A call waiting for the script and a running call both give up once their context is done.
type Script struct {
	busy        chan struct{} // holds a token while the state is in use
	state       *lua.State
	source      string
	name        string
	categories  []string
	description string
	replicate   bool
}

// LoadFile loads the script at path and returns a module with its single command.
// The args are passed to every call of keyExtractionFunc and handlerFunc.
func LoadFile(path string, args []string) (module.Module, error) {
	s, err := newScript(path, func(l *lua.State) error {
		return lua.LoadFile(l, path, "")
	})
	if err != nil {
		return module.Module{}, err
	}
	return s.Module(args), nil
}

// LoadString loads a script from source, chunk is used in error messages.
func LoadString(chunk, source string, args []string) (module.Module, error) {
	s, err := newScript(chunk, func(l *lua.State) error {
		return lua.LoadBuffer(l, source, chunk, "t")
	})
	if err != nil {
		return module.Module{}, err
	}
	return s.Module(args), nil
}

func newScript(source string, load func(l *lua.State) error) (*Script, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	registerHashType(l)
	registerPrint(l, source)

	if err := load(l); err != nil {
		return nil, fmt.Errorf("luamod: load %s: %w", source, err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("luamod: run %s: %s", source, errorMessage(l, err))
	}

	s := &Script{busy: make(chan struct{}, 1), state: l, source: source}
	if err := s.readGlobals(); err != nil {
		return nil, fmt.Errorf("luamod: %s: %w", source, err)
	}
	log.Infof("loaded lua command %s from %s", s.name, source)
	return s, nil
}

// readGlobals reads the command metadata and checks that both functions exist
func (s *Script) readGlobals() error {
	l := s.state

	l.Global("command")
	name, ok := l.ToString(-1)
	l.Pop(1)
	if !ok || strings.TrimSpace(name) == "" {
		return errors.New("global 'command' must be a non-empty string")
	}
	s.name = name

	l.Global("categories")
	categories, err := tableToStrings(l, -1)
	l.Pop(1)
	if err != nil {
		return fmt.Errorf("global 'categories': %w", err)
	}
	s.categories = categories

	l.Global("description")
	if l.TypeOf(-1) == lua.TypeString {
		s.description, _ = l.ToString(-1)
	}
	l.Pop(1)

	l.Global("sync")
	s.replicate = l.ToBoolean(-1)
	l.Pop(1)

	for _, fn := range []string{"keyExtractionFunc", "handlerFunc"} {
		l.Global(fn)
		isFunc := l.IsFunction(-1)
		l.Pop(1)
		if !isFunc {
			return fmt.Errorf("global '%s' must be a function", fn)
		}
	}
	return nil
}

// Module returns the module holding the command of the script.
func (s *Script) Module(args []string) module.Module {
	return module.Module{
		Name: ModulePrefix + strings.ToLower(s.name),
		Commands: []module.Descriptor{{
			Name:        s.name,
			Categories:  s.categories,
			Description: s.description,
			Replicate:   s.replicate,
			ModuleArgs:  args,
			Command:     s,
		}},
	}
}

// ModuleName returns the module name a script at path would most likely get.
// It is only used in log messages before the script was loaded.
func ModuleName(path string) string {
	return ModulePrefix + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// --------------------------------------------------------------------------
// module.Command
// --------------------------------------------------------------------------

// Classify calls keyExtractionFunc(command, args) without a deadline.
func (s *Script) Classify(tokens, args []string) (module.KeySets, error) {
	return s.ClassifyContext(context.Background(), tokens, args)
}

// ClassifyContext calls keyExtractionFunc(command, args).
// Any error raised by the script is reported as a wrong arguments error, unless ctx is done.
func (s *Script) ClassifyContext(ctx context.Context, tokens, args []string) (module.KeySets, error) {
	if err := s.acquire(ctx); err != nil {
		return module.KeySets{}, fmt.Errorf("%s: %w", s.name, err)
	}
	defer s.release()
	defer s.watch(ctx)()

	l := s.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global("keyExtractionFunc")
	pushStrings(l, tokens)
	pushStrings(l, args)
	if err := l.ProtectedCall(2, 1, 0); err != nil {
		if ctx.Err() != nil {
			return module.KeySets{}, fmt.Errorf("%s: %w", s.name, ctx.Err())
		}
		return module.KeySets{}, module.WrongArgsf("%s", errorMessage(l, err))
	}
	if l.TypeOf(-1) != lua.TypeTable {
		return module.KeySets{}, fmt.Errorf("%s: keyExtractionFunc must return a table, got %s", s.name, lua.TypeNameOf(l, -1))
	}

	var keys module.KeySets
	var err error
	l.Field(-1, "readKeys")
	keys.ReadKeys, err = tableToStrings(l, -1)
	l.Pop(1)
	if err != nil {
		return module.KeySets{}, fmt.Errorf("%s: readKeys: %w", s.name, err)
	}
	l.Field(-1, "writeKeys")
	keys.WriteKeys, err = tableToStrings(l, -1)
	l.Pop(1)
	if err != nil {
		return module.KeySets{}, fmt.Errorf("%s: writeKeys: %w", s.name, err)
	}
	return keys, nil
}

// Handle calls handlerFunc without a deadline.
func (s *Script) Handle(ictx module.Context, tokens []string, bridge module.Bridge, args []string) (value.Value, error) {
	return s.HandleContext(context.Background(), ictx, tokens, bridge, args)
}

// HandleContext calls handlerFunc(ctx, command, keysExist, getValues, setValues, args).
// A bridge error that ends the script is returned wrapped so callers can match it.
// Once ctx is done the script is stopped with an error at its next check.
func (s *Script) HandleContext(ctx context.Context, ictx module.Context, tokens []string, bridge module.Bridge, args []string) (value.Value, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	defer s.watch(ctx)()

	l := s.state
	top := l.Top()
	defer l.SetTop(top)

	inv := &invocation{bridge: bridge}

	l.Global("handlerFunc")
	l.CreateTable(0, 2)
	l.PushInteger(ictx.Protocol)
	l.SetField(-2, "protocol")
	l.PushNumber(float64(ictx.Database))
	l.SetField(-2, "database")
	pushStrings(l, tokens)
	l.PushGoFunction(inv.keysExist)
	l.PushGoFunction(inv.getValues)
	l.PushGoFunction(inv.setValues)
	pushStrings(l, args)

	if err := l.ProtectedCall(6, 1, 0); err != nil {
		msg := errorMessage(l, err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w (%s)", ctx.Err(), msg)
		}
		// a bridge error the script caught with pcall is not the reason it failed
		if inv.err != nil && strings.Contains(msg, inv.err.Error()) {
			return nil, fmt.Errorf("%w (%s)", inv.err, msg)
		}
		return nil, errors.New(msg)
	}

	res, err := toValue(l, -1)
	if err != nil {
		return nil, fmt.Errorf("%s: handler result: %w", s.name, err)
	}
	// the hash may still be referenced by the script
	return value.Clone(res), nil
}

// acquire takes the script or gives up when ctx is done
func (s *Script) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Script) release() {
	<-s.busy
}

// watch installs a count hook raising an error in the script once ctx is done.
// The returned function removes the hook again.
func (s *Script) watch(ctx context.Context) (stop func()) {
	done := ctx.Done()
	if done == nil {
		return func() {}
	}
	lua.SetDebugHook(s.state, func(l *lua.State, _ lua.Debug) {
		select {
		case <-done:
			lua.Errorf(l, "%s", ctx.Err().Error())
		default:
		}
	}, lua.MaskCount, hookInstructions)
	return func() { lua.SetDebugHook(s.state, nil, 0, 0) }
}

// --------------------------------------------------------------------------
// Bridge Functions
// --------------------------------------------------------------------------

// invocation binds the bridge functions of one Handle call
type invocation struct {
	bridge module.Bridge
	err    error // last bridge error, raised to the script
}

func (inv *invocation) fail(l *lua.State, err error) int {
	inv.err = err
	lua.Errorf(l, "%s", err.Error())
	return 0
}

func (inv *invocation) keysExist(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	keys, err := tableToStrings(l, 1)
	if err != nil {
		lua.ArgumentError(l, 1, err.Error())
	}
	res, err := inv.bridge.KeyExists(keys)
	if err != nil {
		return inv.fail(l, err)
	}
	pushBoolMap(l, res)
	return 1
}

func (inv *invocation) getValues(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	keys, err := tableToStrings(l, 1)
	if err != nil {
		lua.ArgumentError(l, 1, err.Error())
	}
	res, err := inv.bridge.GetValues(keys)
	if err != nil {
		return inv.fail(l, err)
	}
	pushValueMap(l, res)
	return 1
}

// setValues takes a table key -> value. Keys set to nil are not visible in a Lua table,
// a script deletes a key by passing it in the optional second argument (array of keys).
func (inv *invocation) setValues(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	writes, err := tableToValueMap(l, 1)
	if err != nil {
		lua.ArgumentError(l, 1, err.Error())
	}
	if !l.IsNoneOrNil(2) {
		deletes, err := tableToStrings(l, 2)
		if err != nil {
			lua.ArgumentError(l, 2, err.Error())
		}
		for _, key := range deletes {
			writes[key] = value.Nil{}
		}
	}
	if err := inv.bridge.SetValues(writes); err != nil {
		return inv.fail(l, err)
	}
	return 0
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// errorMessage returns the error object left on the stack by a failed call
func errorMessage(l *lua.State, err error) string {
	if msg, ok := l.ToString(-1); ok && msg != "" {
		return msg
	}
	return err.Error()
}

// registerPrint replaces print with a function writing to the module logger
func registerPrint(l *lua.State, source string) {
	l.PushGoFunction(func(l *lua.State) int {
		n := l.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			str, _ := lua.ToStringMeta(l, i)
			parts = append(parts, str)
			l.Pop(1)
		}
		log.Infof("[%s] %s", source, strings.Join(parts, "\t"))
		return 0
	})
	l.SetGlobal("print")
}

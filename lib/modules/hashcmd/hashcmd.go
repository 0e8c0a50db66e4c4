package hashcmd

import (
	"github.com/ValentinKolb/kvx/lib/module"
	"github.com/ValentinKolb/kvx/lib/value"
)

// ModuleName is the name the hash commands are registered under.
const ModuleName = "hash"

// Module returns the built-in hash commands.
func Module() module.Module {
	return module.Module{
		Name: ModuleName,
		Commands: []module.Descriptor{
			{
				Name:        "HSET",
				Categories:  []string{"hash", "write", "fast"},
				Description: "(HSET key field value [field value ...]) Set fields of the hash at key, creating it if needed. Returns the number of fields given.",
				Replicate:   true,
				Command:     module.CommandFuncs{ClassifyFunc: classifyPairs("hset"), HandleFunc: handleSet},
			},
			{
				Name:        "HSETNX",
				Categories:  []string{"hash", "write", "fast"},
				Description: "(HSETNX key field value [field value ...]) Set only the fields that do not exist yet. Returns the number of fields inserted.",
				Replicate:   true,
				Command:     module.CommandFuncs{ClassifyFunc: classifyPairs("hsetnx"), HandleFunc: handleSetNX},
			},
			{
				Name:        "HGET",
				Categories:  []string{"hash", "read", "fast"},
				Description: "(HGET key field) Get the value of a field, nil if the field or key does not exist.",
				Command:     module.CommandFuncs{ClassifyFunc: classifyRead("hget", 3, 3), HandleFunc: handleGet},
			},
			{
				Name:        "HMGET",
				Categories:  []string{"hash", "read", "fast"},
				Description: "(HMGET key field [field ...]) Get the values of several fields as a hash, nil for missing fields.",
				Command:     module.CommandFuncs{ClassifyFunc: classifyRead("hmget", 3, -1), HandleFunc: handleMGet},
			},
			{
				Name:        "HLEN",
				Categories:  []string{"hash", "read", "fast"},
				Description: "(HLEN key) Get the number of fields of the hash at key.",
				Command:     module.CommandFuncs{ClassifyFunc: classifyRead("hlen", 2, 2), HandleFunc: handleLen},
			},
			{
				Name:        "HDEL",
				Categories:  []string{"hash", "write", "fast"},
				Description: "(HDEL key field [field ...]) Delete fields. Returns the number of fields removed; an emptied hash is deleted.",
				Replicate:   true,
				Command:     module.CommandFuncs{ClassifyFunc: classifyWrite("hdel", 3), HandleFunc: handleDel},
			},
			{
				Name:        "HGETALL",
				Categories:  []string{"hash", "read", "slow"},
				Description: "(HGETALL key) Get all fields and values of the hash at key.",
				Command:     module.CommandFuncs{ClassifyFunc: classifyRead("hgetall", 2, 2), HandleFunc: handleGetAll},
			},
			{
				Name:        "HEXISTS",
				Categories:  []string{"hash", "read", "fast"},
				Description: "(HEXISTS key field) Returns 1 if the field exists, 0 otherwise.",
				Command:     module.CommandFuncs{ClassifyFunc: classifyRead("hexists", 3, 3), HandleFunc: handleExists},
			},
		},
	}
}

// --------------------------------------------------------------------------
// Classifiers
// --------------------------------------------------------------------------

// classifyPairs accepts "CMD key field value [field value ...]"
func classifyPairs(name string) func(tokens, args []string) (module.KeySets, error) {
	return func(tokens, _ []string) (module.KeySets, error) {
		if len(tokens) < 4 || len(tokens)%2 != 0 {
			return module.KeySets{}, module.WrongArgs(name)
		}
		return module.KeySets{WriteKeys: tokens[1:2]}, nil
	}
}

// classifyRead accepts between least and most tokens (most < 0: no limit), tokens[1] is read
func classifyRead(name string, least, most int) func(tokens, args []string) (module.KeySets, error) {
	return func(tokens, _ []string) (module.KeySets, error) {
		if len(tokens) < least || (most >= 0 && len(tokens) > most) {
			return module.KeySets{}, module.WrongArgs(name)
		}
		return module.KeySets{ReadKeys: tokens[1:2]}, nil
	}
}

// classifyWrite rejects fewer than least tokens, tokens[1] is written
func classifyWrite(name string, least int) func(tokens, args []string) (module.KeySets, error) {
	return func(tokens, _ []string) (module.KeySets, error) {
		if len(tokens) < least {
			return module.KeySets{}, module.WrongArgs(name)
		}
		return module.KeySets{WriteKeys: tokens[1:2]}, nil
	}
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

// load returns the hash at key; a missing key yields an empty hash if create is set and nil otherwise
func load(bridge module.Bridge, key string, create bool) (*value.Hash, error) {
	values, err := bridge.GetValues([]string{key})
	if err != nil {
		return nil, err
	}
	v := values[key]
	if value.IsNil(v) && !create {
		return nil, nil
	}
	return value.HashOrNew(v)
}

func pairs(tokens []string) map[string]string {
	fields := make(map[string]string, len(tokens)/2)
	for i := 0; i+1 < len(tokens); i += 2 {
		fields[tokens[i]] = tokens[i+1]
	}
	return fields
}

func handleSet(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], true)
	if err != nil {
		return nil, err
	}
	n := h.Set(pairs(tokens[2:]))
	if err := bridge.SetValues(map[string]value.Value{tokens[1]: h}); err != nil {
		return nil, err
	}
	return value.Number(n), nil
}

func handleSetNX(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], true)
	if err != nil {
		return nil, err
	}
	n := h.SetNX(pairs(tokens[2:]))
	if n > 0 {
		if err := bridge.SetValues(map[string]value.Value{tokens[1]: h}); err != nil {
			return nil, err
		}
	}
	return value.Number(n), nil
}

func handleGet(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], false)
	if err != nil || h == nil {
		return value.Nil{}, err
	}
	return h.Get(tokens[2])[tokens[2]], nil
}

func handleMGet(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], true)
	if err != nil {
		return nil, err
	}
	res := make(map[string]value.Value, len(tokens)-2)
	for field, v := range h.Get(tokens[2:]...) {
		res[field] = v
	}
	return value.Of(res)
}

func handleLen(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], true)
	if err != nil {
		return nil, err
	}
	return value.Number(h.Len()), nil
}

func handleDel(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], false)
	if err != nil || h == nil {
		return value.Number(0), err
	}
	n := h.Delete(tokens[2:]...)
	if n == 0 {
		return value.Number(0), nil
	}

	var write value.Value = h
	if h.Len() == 0 {
		write = value.Nil{}
	}
	if err := bridge.SetValues(map[string]value.Value{tokens[1]: write}); err != nil {
		return nil, err
	}
	return value.Number(n), nil
}

func handleGetAll(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], true)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func handleExists(_ module.Context, tokens []string, bridge module.Bridge, _ []string) (value.Value, error) {
	h, err := load(bridge, tokens[1], false)
	if err != nil || h == nil {
		return value.Number(0), err
	}
	if h.Exists(tokens[2])[tokens[2]] {
		return value.Number(1), nil
	}
	return value.Number(0), nil
}

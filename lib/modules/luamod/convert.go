package luamod

import (
	"fmt"
	"sort"

	"github.com/Shopify/go-lua"
	"github.com/ValentinKolb/kvx/lib/value"
)

// --------------------------------------------------------------------------
// Go -> Lua
// --------------------------------------------------------------------------

// pushValue pushes a value onto the stack. Hashes become kvx.hash userdata, sets arrays
// and sorted sets arrays of {member = ..., score = ...} tables.
func pushValue(l *lua.State, v value.Value) {
	switch x := v.(type) {
	case nil, value.Nil:
		l.PushNil()
	case value.Number:
		l.PushNumber(float64(x))
	case value.String:
		l.PushString(string(x))
	case *value.Hash:
		pushHash(l, x)
	case value.Set:
		l.CreateTable(len(x), 0)
		for i, m := range x {
			pushValue(l, m)
			l.RawSetInt(-2, i+1)
		}
	case value.SortedSet:
		l.CreateTable(len(x), 0)
		for i, m := range x {
			l.CreateTable(0, 2)
			pushValue(l, m.Member)
			l.SetField(-2, "member")
			l.PushNumber(m.Score)
			l.SetField(-2, "score")
			l.RawSetInt(-2, i+1)
		}
	default:
		l.PushNil()
	}
}

func pushStrings(l *lua.State, list []string) {
	l.CreateTable(len(list), 0)
	for i, s := range list {
		l.PushString(s)
		l.RawSetInt(-2, i+1)
	}
}

func pushValueMap(l *lua.State, m map[string]value.Value) {
	l.CreateTable(0, len(m))
	for _, k := range sortedKeys(m) {
		pushValue(l, m[k])
		l.SetField(-2, k)
	}
}

func pushBoolMap(l *lua.State, m map[string]bool) {
	l.CreateTable(0, len(m))
	for k, b := range m {
		l.PushBoolean(b)
		l.SetField(-2, k)
	}
}

func sortedKeys(m map[string]value.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Lua -> Go
// --------------------------------------------------------------------------

// toValue converts the Lua value at index.
// Booleans become 0/1, tables with only keys 1..n become sets (or sorted sets if every
// element has a member and a score), other tables become hashes.
func toValue(l *lua.State, index int) (value.Value, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return value.Nil{}, nil
	case lua.TypeBoolean:
		return value.Of(l.ToBoolean(index))
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return value.Number(n), nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return value.String(s), nil
	case lua.TypeUserData:
		if h, ok := l.ToUserData(index).(*value.Hash); ok && h != nil {
			return h, nil
		}
		return nil, fmt.Errorf("%w: foreign userdata", value.ErrUnsupportedType)
	case lua.TypeTable:
		return tableToValue(l, index)
	default:
		return nil, fmt.Errorf("%w: lua %s", value.ErrUnsupportedType, lua.TypeNameOf(l, index))
	}
}

func tableToValue(l *lua.State, index int) (value.Value, error) {
	index = l.AbsIndex(index)
	if n, ok := arrayLength(l, index); ok && n > 0 {
		members := make([]value.Value, 0, n)
		scored := make([]value.ScoredMember, 0, n)
		allScored := true
		for i := 1; i <= n; i++ {
			l.RawGetInt(index, i)
			if m, ok := scoredMember(l, -1); ok && allScored {
				scored = append(scored, m)
			} else {
				allScored = false
			}
			v, err := toValue(l, -1)
			l.Pop(1)
			if err != nil {
				return nil, err
			}
			members = append(members, v)
		}
		if allScored {
			return value.NewSortedSet(scored...), nil
		}
		return value.NewSet(members...), nil
	}

	fields, err := tableToValueMap(l, index)
	if err != nil {
		return nil, err
	}
	return value.Of(fields)
}

// scoredMember reads a {member = ..., score = ...} table
func scoredMember(l *lua.State, index int) (value.ScoredMember, bool) {
	if l.TypeOf(index) != lua.TypeTable {
		return value.ScoredMember{}, false
	}
	index = l.AbsIndex(index)
	l.Field(index, "score")
	score, ok := l.ToNumber(-1)
	isNumber := l.TypeOf(-1) == lua.TypeNumber
	l.Pop(1)
	if !ok || !isNumber {
		return value.ScoredMember{}, false
	}
	l.Field(index, "member")
	defer l.Pop(1)
	member, err := toValue(l, -1)
	if err != nil || value.IsNil(member) {
		return value.ScoredMember{}, false
	}
	return value.ScoredMember{Member: member, Score: score}, true
}

// arrayLength reports whether the table at index only has the keys 1..n
func arrayLength(l *lua.State, index int) (int, bool) {
	count, highest := 0, 0
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) != lua.TypeNumber {
			l.Pop(2)
			return 0, false
		}
		i, ok := l.ToInteger(-2)
		if !ok || i < 1 {
			l.Pop(2)
			return 0, false
		}
		count++
		if i > highest {
			highest = i
		}
		l.Pop(1)
	}
	return count, count == highest
}

// tableToValueMap converts a table with string keys
func tableToValueMap(l *lua.State, index int) (map[string]value.Value, error) {
	index = l.AbsIndex(index)
	res := make(map[string]value.Value)
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) != lua.TypeString {
			l.Pop(2)
			return nil, fmt.Errorf("table keys must be strings, got %s", lua.TypeNameOf(l, -2))
		}
		// ToString on a string key does not change it, so Next keeps working
		key, _ := l.ToString(-2)
		v, err := toValue(l, -1)
		if err != nil {
			l.Pop(2)
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		res[key] = v
		l.Pop(1)
	}
	return res, nil
}

// tableToStrings converts an array of strings
func tableToStrings(l *lua.State, index int) ([]string, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return nil, nil
	case lua.TypeTable:
	default:
		return nil, fmt.Errorf("expected array of strings, got %s", lua.TypeNameOf(l, index))
	}
	index = l.AbsIndex(index)
	n, ok := arrayLength(l, index)
	if !ok {
		return nil, fmt.Errorf("expected array of strings, got table with other keys")
	}
	res := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		l.RawGetInt(index, i)
		if l.TypeOf(-1) != lua.TypeString && l.TypeOf(-1) != lua.TypeNumber {
			t := lua.TypeNameOf(l, -1)
			l.Pop(1)
			return nil, fmt.Errorf("element %d: expected string, got %s", i, t)
		}
		s, _ := l.ToString(-1)
		l.Pop(1)
		res = append(res, s)
	}
	return res, nil
}

// tableToStringMap converts a table of field -> string (numbers are formatted)
func tableToStringMap(l *lua.State, index int) (map[string]string, error) {
	index = l.AbsIndex(index)
	res := make(map[string]string)
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) != lua.TypeString {
			l.Pop(2)
			return nil, fmt.Errorf("field names must be strings, got %s", lua.TypeNameOf(l, -2))
		}
		field, _ := l.ToString(-2)
		var s string
		switch l.TypeOf(-1) {
		case lua.TypeString:
			s, _ = l.ToString(-1)
		case lua.TypeNumber:
			n, _ := l.ToNumber(-1)
			s = value.Number(n).String()
		case lua.TypeBoolean:
			s = fmt.Sprint(l.ToBoolean(-1))
		default:
			t := lua.TypeNameOf(l, -1)
			l.Pop(2)
			return nil, fmt.Errorf("field %s: expected string, got %s", field, t)
		}
		res[field] = s
		l.Pop(1)
	}
	return res, nil
}

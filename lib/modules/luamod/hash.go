package luamod

import (
	"github.com/Shopify/go-lua"
	"github.com/ValentinKolb/kvx/lib/value"
)

// hashTypeName is the metatable name of hash userdata
const hashTypeName = "kvx.hash"

// hashMethods are the methods of a hash userdata, called as h:set({...}) or h.set(h, {...})
var hashMethods = []lua.RegistryFunction{
	{Name: "set", Function: func(l *lua.State) int {
		h := checkHash(l, 1)
		fields := checkFields(l, 2)
		l.PushInteger(h.Set(fields))
		return 1
	}},
	{Name: "setnx", Function: func(l *lua.State) int {
		h := checkHash(l, 1)
		fields := checkFields(l, 2)
		l.PushInteger(h.SetNX(fields))
		return 1
	}},
	{Name: "get", Function: func(l *lua.State) int {
		h := checkHash(l, 1)
		pushValueMap(l, h.Get(checkNames(l, 2)...))
		return 1
	}},
	{Name: "length", Function: func(l *lua.State) int {
		l.PushInteger(checkHash(l, 1).Len())
		return 1
	}},
	{Name: "delete", Function: func(l *lua.State) int {
		h := checkHash(l, 1)
		l.PushInteger(h.Delete(checkNames(l, 2)...))
		return 1
	}},
	{Name: "all", Function: func(l *lua.State) int {
		pushValueMap(l, checkHash(l, 1).All())
		return 1
	}},
	{Name: "exists", Function: func(l *lua.State) int {
		h := checkHash(l, 1)
		pushBoolMap(l, h.Exists(checkNames(l, 2)...))
		return 1
	}},
}

// registerHashType creates the kvx.hash metatable and the createHash global
func registerHashType(l *lua.State) {
	lua.NewMetaTable(l, hashTypeName)
	l.NewTable()
	lua.SetFunctions(l, hashMethods, 0)
	l.SetField(-2, "__index")
	l.PushGoFunction(func(l *lua.State) int {
		l.PushString(checkHash(l, 1).String())
		return 1
	})
	l.SetField(-2, "__tostring")
	l.Pop(1)

	l.PushGoFunction(func(l *lua.State) int {
		h := value.NewHash(nil)
		if !l.IsNoneOrNil(1) {
			h.Set(checkFields(l, 1))
		}
		pushHash(l, h)
		return 1
	})
	l.SetGlobal("createHash")
}

func pushHash(l *lua.State, h *value.Hash) {
	l.PushUserData(h)
	lua.SetMetaTableNamed(l, hashTypeName)
}

func checkHash(l *lua.State, index int) *value.Hash {
	h, ok := lua.CheckUserData(l, index, hashTypeName).(*value.Hash)
	if !ok || h == nil {
		lua.ArgumentError(l, index, "hash expected")
	}
	return h
}

// checkFields reads a table of field -> value
func checkFields(l *lua.State, index int) map[string]string {
	lua.CheckType(l, index, lua.TypeTable)
	fields, err := tableToStringMap(l, index)
	if err != nil {
		lua.ArgumentError(l, index, err.Error())
	}
	return fields
}

// checkNames reads the field names given as varargs starting at index
func checkNames(l *lua.State, index int) []string {
	top := l.Top()
	names := make([]string, 0, top-index+1)
	for i := index; i <= top; i++ {
		names = append(names, lua.CheckString(l, i))
	}
	return names
}

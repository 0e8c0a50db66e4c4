/*
Package luamod loads extension commands written in Lua.

A script defines one command through globals:

	command = "LUA.HASH"                 -- name of the command
	categories = {"hash", "write"}       -- ACL categories
	description = "..."                  -- optional
	sync = true                          -- replicate successful invocations

	function keyExtractionFunc(command, args)
	  return {readKeys = {...}, writeKeys = {...}}
	end

	function handlerFunc(ctx, command, keysExist, getValues, setValues, args)
	  ...
	  return "OK"
	end

Lua arrays are 1-based, so command[1] is the command name. The global createHash(tbl)
creates a hash with the methods set, setnx, get, length, delete, all and exists.
print writes to the luamod logger.

Each script owns one Lua state; calls into the same script are serialised. A running call
is stopped with an error once its context is done, and a waiting call gives up with it.
See examples/modules/hash.lua for a complete module.
*/
package luamod

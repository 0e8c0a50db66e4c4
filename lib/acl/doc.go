// Package acl decides which user may run which extension command on which keys.
//
// Every user has included and excluded categories and commands, and patterns for the
// keys it may read and write. A rule list containing "*" matches everything. Key
// patterns use path.Match syntax, so "user:*" matches "user:1" but "*" inside a pattern
// never crosses a "/".
//
// The user of an invocation travels in the context (WithUser); a context without a user
// runs as DefaultUser, which is unrestricted unless it is configured otherwise.
//
// An *ACL satisfies the module.Authorizer interface, so the invoker checks the declared
// key sets before the handler runs.
package acl

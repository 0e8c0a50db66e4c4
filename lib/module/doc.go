// Package module implements the extension bridge: the protocol through which modules
// add commands to the store without getting access to its internals.
//
// A command is split into two parts (see Command):
//
//   - Classify computes the keys an invocation reads and writes from its tokens alone.
//     It runs before anything else, so a malformed command fails without any store access.
//
//   - Handle runs the command logic. It reaches the store only through a Bridge that is
//     created fresh for the invocation and accepts exactly the classified keys.
//
// The Invoker ties this together. For every invocation it validates the context, classifies,
// asks the Authorizer, locks the keys with a lockmgr.ILockManager, runs the handler and, on
// success, commits the buffered writes to the store.IStore in one atomic step. Commands whose
// Descriptor sets Replicate are appended to a replog.ILog afterwards. On failure (including
// panics and cancellation) the buffered writes are dropped and nothing is replicated.
//
// Commands are grouped into modules and registered in a Registry; the Host looks up
// a command by its first token and invokes it.
//
// Errors:
//
//	All failures wrap one of the sentinel errors of this package (ErrWrongArgs, ErrHandler,
//	ErrKeyNotDeclared, ...), so callers can use errors.Is. A handler's own error keeps its
//	message: HandlerError adds no prefix.
package module

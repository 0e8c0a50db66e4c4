package module

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongArgs is returned when the command tokens do not have the shape a command expects.
	// It is detected by the classifier before any store access.
	ErrWrongArgs = errors.New("wrong number of arguments")

	// ErrHandler marks a failure raised while the handler ran (including panics and cancellation).
	ErrHandler = errors.New("handler failed")

	// ErrKeyNotDeclared is returned by the bridge when a handler accesses a key outside its declared key sets.
	ErrKeyNotDeclared = errors.New("key not declared by command")

	// ErrUnknownCommand is returned when no command is registered under a name.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidProtocol is returned when the invocation context carries a protocol other than 2 or 3.
	ErrInvalidProtocol = errors.New("invalid protocol version")

	// ErrAccessDenied is returned when the authorizer rejects an invocation.
	ErrAccessDenied = errors.New("access denied")

	// ErrBridgeClosed is returned by the bridge once its invocation has ended.
	ErrBridgeClosed = errors.New("bridge closed")

	// ErrReplication is returned when the writes were committed locally but could not be appended to the log.
	ErrReplication = errors.New("replication failed")

	// ErrDuplicateCommand is returned when a command name is registered twice.
	ErrDuplicateCommand = errors.New("command already registered")
)

// HandlerError is a failure of a command handler.
// Its message is the message of the handler's error, unchanged; errors.Is matches
// both ErrHandler and the handler's error.
type HandlerError struct {
	Command string
	Err     error
}

func (e *HandlerError) Error() string {
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandler, e.Err}
}

// WrongArgs returns an ErrWrongArgs error for the named command, e.g.
// "wrong number of arguments for 'hset' command".
func WrongArgs(command string) error {
	return fmt.Errorf("%w for '%s' command", ErrWrongArgs, command)
}

// WrongArgsf returns an ErrWrongArgs error with a custom description.
func WrongArgsf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrWrongArgs, fmt.Sprintf(format, args...))
}

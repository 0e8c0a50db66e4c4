package module

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/kvx/lib/value"
)

// Host dispatches command tokens to the registered commands.
type Host struct {
	Registry *Registry
	Invoker  *Invoker
}

// NewHost creates a host with an empty registry.
func NewHost(cfg InvokerConfig) *Host {
	return &Host{
		Registry: NewRegistry(),
		Invoker:  NewInvoker(cfg),
	}
}

// Execute looks up the command named by tokens[0] and invokes it.
func (h *Host) Execute(ctx context.Context, ictx Context, tokens []string) (value.Value, error) {
	if len(tokens) == 0 {
		return nil, WrongArgsf("empty command")
	}
	d, ok := h.Registry.Lookup(tokens[0])
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownCommand, tokens[0])
	}
	return h.Invoker.Invoke(ctx, d, ictx, tokens)
}

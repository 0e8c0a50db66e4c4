package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ValentinKolb/kvx/lib/lockmgr"
	"github.com/ValentinKolb/kvx/lib/replog"
	"github.com/ValentinKolb/kvx/lib/store"
	"github.com/ValentinKolb/kvx/lib/value"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("module")

// Authorizer decides whether the caller in ctx may run a command on the declared keys.
type Authorizer interface {
	Authorize(ctx context.Context, command string, categories []string, readKeys, writeKeys []string) error
}

// InvokerConfig holds the collaborators of an Invoker. Only Store is required.
type InvokerConfig struct {
	Store   store.IStore
	Locks   lockmgr.ILockManager // Serializes invocations with overlapping key sets (nil: no locking)
	Auth    Authorizer           // Access control (nil: everything is allowed)
	Log     replog.ILog          // Replication log (nil: nothing is replicated)
	Timeout time.Duration        // Upper bound for one invocation (0: no bound besides the caller's context)
}

// Invoker runs commands: classify, lock and authorize, run the handler with a scoped bridge,
// then commit and replicate the buffered writes.
type Invoker struct {
	cfg     InvokerConfig
	metrics *metrics.Set
}

// NewInvoker creates an invoker.
func NewInvoker(cfg InvokerConfig) *Invoker {
	if cfg.Store == nil {
		panic("module: invoker without store")
	}
	return &Invoker{
		cfg:     cfg,
		metrics: metrics.NewSet(),
	}
}

// Invoke runs the command described by d with the given tokens (tokens[0] is the command name).
//
// Nothing is written to the store unless the handler succeeds; in that case all writes are
// committed as one atomic step and, if d.Replicate is set, appended to the replication log.
// Locks are held until the entry is appended, so the log order matches the commit order.
func (inv *Invoker) Invoke(ctx context.Context, d *Descriptor, ictx Context, tokens []string) (res value.Value, err error) {
	name := strings.ToLower(d.Name)
	start := time.Now()
	defer func() {
		inv.metrics.GetOrCreateCounter(fmt.Sprintf(`kvx_invocations_total{command=%q}`, name)).Inc()
		inv.metrics.GetOrCreateHistogram(fmt.Sprintf(`kvx_invocation_duration_seconds{command=%q}`, name)).Update(time.Since(start).Seconds())
		if err != nil {
			inv.metrics.GetOrCreateCounter(fmt.Sprintf(`kvx_invocation_errors_total{command=%q,kind=%q}`, name, errorKind(err))).Inc()
		}
	}()

	if err := ictx.Validate(); err != nil {
		return nil, err
	}

	if inv.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.Timeout)
		defer cancel()
	}

	// 1. classify, nothing has been touched yet
	keys, err := classify(ctx, d, tokens)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, &HandlerError{Command: d.Name, Err: err}
		}
		if !errors.Is(err, ErrWrongArgs) {
			err = fmt.Errorf("%w: %w", ErrWrongArgs, err)
		}
		return nil, err
	}

	// 2. access control and locks
	if inv.cfg.Auth != nil {
		if err := inv.cfg.Auth.Authorize(ctx, d.Name, d.Categories, keys.ReadKeys, keys.WriteKeys); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}
	if inv.cfg.Locks != nil {
		release, err := inv.cfg.Locks.Acquire(ctx, ictx.Database, keys.ReadKeys, keys.WriteKeys)
		if err != nil {
			return nil, &HandlerError{Command: d.Name, Err: err}
		}
		defer release()
	}

	// 3. run the handler
	bridge := newScopedBridge(inv.cfg.Store, ictx.Database, keys)
	res, err = inv.runHandler(ctx, d, ictx, tokens, bridge)
	writes := bridge.seal()
	if err != nil {
		// 5. failure: the buffered writes are dropped with the bridge
		return nil, err
	}

	// 4. success: commit and replicate
	if _, err := inv.cfg.Store.Commit(ictx.Database, writes); err != nil {
		log.Errorf("commit of %s failed: %v", d.Name, err)
		return nil, err
	}

	// an invocation without writes has nothing to replicate
	if d.Replicate && inv.cfg.Log != nil && len(writes) > 0 {
		entry, err := replog.NewEntry(ictx.Database, tokens, writes)
		if err == nil {
			err = inv.cfg.Log.Append(ctx, entry)
		}
		if err != nil {
			log.Errorf("%s was committed but could not be replicated: %v", d.Name, err)
			return nil, fmt.Errorf("%w: %w", ErrReplication, err)
		}
	}

	return value.Normalize(res), nil
}

// runHandler runs the handler in its own goroutine so a canceled ctx ends the invocation
// even if the handler does not return. Panics are turned into handler errors.
func (inv *Invoker) runHandler(ctx context.Context, d *Descriptor, ictx Context, tokens []string, bridge *scopedBridge) (value.Value, error) {
	type result struct {
		v   value.Value
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("handler of %s panicked: %v\n%s", d.Name, r, debug.Stack())
				done <- result{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		var v value.Value
		var err error
		if cc, ok := d.Command.(ContextCommand); ok {
			v, err = cc.HandleContext(ctx, ictx, tokens, bridge, d.ModuleArgs)
		} else {
			v, err = d.Command.Handle(ictx, tokens, bridge, d.ModuleArgs)
		}
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &HandlerError{Command: d.Name, Err: r.err}
		}
		return r.v, nil
	case <-ctx.Done():
		log.Warningf("invocation of %s aborted: %v", d.Name, ctx.Err())
		return nil, &HandlerError{Command: d.Name, Err: ctx.Err()}
	}
}

func classify(ctx context.Context, d *Descriptor, tokens []string) (KeySets, error) {
	if cc, ok := d.Command.(ContextCommand); ok {
		return cc.ClassifyContext(ctx, tokens, d.ModuleArgs)
	}
	return d.Command.Classify(tokens, d.ModuleArgs)
}

// WriteMetrics writes the invocation metrics in Prometheus text format.
func (inv *Invoker) WriteMetrics(w io.Writer) {
	inv.metrics.WritePrometheus(w)
}

// errorKind maps an invocation error to a metrics label
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidProtocol):
		return "protocol"
	case errors.Is(err, ErrWrongArgs):
		return "wrong_args"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrReplication):
		return "replication"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrKeyNotDeclared):
		return "key_not_declared"
	case errors.Is(err, ErrHandler):
		return "handler"
	default:
		return "store"
	}
}

package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
)

// Instance wraps an instantiated module with export lookup and the
// invoke/resume call surface. It is sequential: one invocation at a
// time, movable between goroutines but never shared by two at once.
type Instance struct {
	eng *engine.Instance
	log *zap.Logger
}

// Engine exposes the underlying engine instance, mainly so host
// functions and tests can reach memory and globals.
func (i *Instance) Engine() *engine.Instance { return i.eng }

// callConfig carries per-invocation options.
type callConfig struct {
	budget int64
}

// CallOption configures a single Invoke or Resume.
type CallOption func(*callConfig)

// WithStepBudget limits the invocation to n instructions; exhausting
// the budget suspends after the current instruction boundary and the
// outcome carries a continuation. Without it the invocation runs to
// completion or trap.
func WithStepBudget(n int64) CallOption {
	return func(c *callConfig) { c.budget = n }
}

// Invoke calls an exported function. The outcome holds either the
// result values or, if the invocation suspended, a continuation.
// Traps surface through the error return as *engine.Trap; bad export
// names and bad arguments are API errors, never traps.
func (i *Instance) Invoke(ctx context.Context, export string, args []engine.Value, opts ...CallOption) (engine.Outcome, error) {
	cfg := callConfig{budget: engine.NoBudget}
	for _, opt := range opts {
		opt(&cfg)
	}
	funcIdx, ok := i.eng.Module().ExportedFunc(export)
	if !ok {
		return engine.Outcome{}, errors.NotFound(errors.PhaseRuntime, "export", export)
	}
	i.log.Debug("invoking export",
		zap.String("export", export),
		zap.Uint32("func", funcIdx),
		zap.Int64("budget", cfg.budget))
	return i.eng.Call(ctx, funcIdx, args, cfg.budget)
}

// Resume continues a suspended invocation. injected must carry
// exactly cont.Pending() values (the results of the yielded host
// call; empty for a budget suspension). An unbound continuation, as
// produced by UnmarshalBinary, is bound to this instance first.
func (i *Instance) Resume(ctx context.Context, cont *engine.Continuation, injected []engine.Value, opts ...CallOption) (engine.Outcome, error) {
	cfg := callConfig{budget: engine.NoBudget}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cont.Bound() {
		if err := cont.Rebind(i.eng); err != nil {
			return engine.Outcome{}, err
		}
	}
	return cont.Resume(ctx, injected, cfg.budget)
}

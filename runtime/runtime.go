package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Runtime is the embedding surface: a host-function registry plus an
// instantiation entry point. One Runtime can back many instances;
// registrations must happen before the instances that need them.
type Runtime struct {
	log   *zap.Logger
	hosts *hostRegistry
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger. The default is a no-op.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// New builds a Runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		log:   engine.Logger(),
		hosts: newHostRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFunc binds a native callable under (module, name) with an
// explicit signature. Import resolution requires full structural
// signature equality, so the signature here must match the module's
// import declaration exactly.
func (r *Runtime) RegisterFunc(module, name string, sig wasm.FuncType, fn engine.HostFunc) error {
	if fn == nil {
		return errors.Registration(module, name, errors.InvalidInput(errors.PhaseHost, "nil function"))
	}
	if err := r.hosts.addFunc(module, name, engine.HostBinding{Fn: fn, Sig: sig}); err != nil {
		return err
	}
	r.log.Debug("host function registered",
		zap.String("module", module),
		zap.String("name", name),
		zap.String("signature", sig.String()))
	return nil
}

// RegisterGlobal binds an immutable global import under (module,
// name). Modules may read it via global.get, including in constant
// initializer expressions.
func (r *Runtime) RegisterGlobal(module, name string, v engine.Value) error {
	if err := r.hosts.addGlobal(module, name, v); err != nil {
		return err
	}
	r.log.Debug("host global registered",
		zap.String("module", module),
		zap.String("name", name),
		zap.String("value", v.String()))
	return nil
}

// Instantiate links a decoded module against the registered bindings
// and builds a ready instance, running its start function if one is
// declared. A missing import or signature mismatch is a link error; a
// start-function fault is a *engine.Trap.
func (r *Runtime) Instantiate(ctx context.Context, m *wasm.Module) (*Instance, error) {
	eng, err := engine.Instantiate(ctx, m, r.hosts.snapshot(), r.log)
	if err != nil {
		return nil, err
	}
	return &Instance{eng: eng, log: r.log}, nil
}

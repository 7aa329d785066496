// Package wasminterp is an embeddable interpreter for the WebAssembly core
// instruction set, designed around two requirements that rule out the usual
// JIT-backed runtimes: execution state is fully serializable, so a running
// computation can be paused after any instruction, persisted or moved, and
// resumed later with identical behavior; and many independent instances can
// coexist in one host process, each exclusively owning its mutable state.
//
// # Architecture Overview
//
// The library is organized into a small number of packages with distinct
// responsibilities:
//
//	wasm-interp/
//	├── wasm/      binary format decoder and encoder, module and type tables
//	├── engine/    stack-machine interpreter, traps, continuation snapshots
//	├── runtime/   high-level embedding API: host bindings, invoke, resume
//	└── errors/    structured error types shared by all packages
//
// The decoder produces a flat, index-addressed, immutable Module whose
// branch targets are resolved once at decode time. The engine runs an
// explicit frame stack over that representation, which is what makes a
// mid-execution snapshot a plain value rather than a stack-walking trick.
//
// # Quick Start
//
// Decode a module, bind a host function, and run an export:
//
//	mod, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt := runtime.New()
//	rt.RegisterFunc("env", "now", sig, nowFn)
//	inst, err := rt.Instantiate(ctx, mod)
//	out, err := inst.Invoke(ctx, "main", nil)
//
// An invocation either completes with values, fails with an *engine.Trap,
// or suspends with a Continuation that Resume picks up where it left off.
package wasminterp

// Package runtime is the public embedding surface of the interpreter.
//
// A Runtime holds host bindings; Instantiate links a decoded module
// against them and returns an Instance whose Invoke and Resume run
// exported functions, optionally under a step budget that suspends
// execution into a serializable continuation:
//
//	rt := runtime.New(runtime.WithLogger(log))
//	rt.RegisterFunc("env", "now", wasm.FuncType{Results: []wasm.ValType{wasm.ValI64}}, nowFn)
//	inst, err := rt.Instantiate(ctx, mod)
//	out, err := inst.Invoke(ctx, "main", nil, runtime.WithStepBudget(10_000))
//	if out.Suspended() {
//	    out, err = inst.Resume(ctx, out.Cont, nil)
//	}
package runtime

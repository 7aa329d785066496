package engine_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wippyai/wasm-interp/engine"
	interrs "github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

func op(code byte) wasm.Instr { return wasm.Instr{Op: code} }

func i32c(v int32) wasm.Instr {
	return wasm.Instr{Op: wasm.OpI32Const, Const: uint64(uint32(v))}
}

func lget(i uint32) wasm.Instr { return wasm.Instr{Op: wasm.OpLocalGet, Idx: i} }
func lset(i uint32) wasm.Instr { return wasm.Instr{Op: wasm.OpLocalSet, Idx: i} }

// compile round-trips a hand-built module through the encoder and
// decoder so branch targets are resolved the same way they are for
// real binaries.
func compile(t *testing.T, m *wasm.Module) *wasm.Module {
	t.Helper()
	parsed, err := wasm.ParseModule(m.Encode())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	return parsed
}

func instantiate(t *testing.T, m *wasm.Module, imp engine.Imports) *engine.Instance {
	t.Helper()
	inst, err := engine.Instantiate(context.Background(), compile(t, m), imp, nil)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	return inst
}

// exportedCall invokes an export by name and requires completion.
func exportedCall(t *testing.T, inst *engine.Instance, name string, args ...engine.Value) []engine.Value {
	t.Helper()
	idx, ok := inst.Module().ExportedFunc(name)
	if !ok {
		t.Fatalf("export %q not found", name)
	}
	out, err := inst.Call(context.Background(), idx, args, engine.NoBudget)
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	if out.Suspended() {
		t.Fatalf("Call(%s) suspended without a budget", name)
	}
	return out.Values
}

func trapKind(t *testing.T, err error) engine.TrapKind {
	t.Helper()
	var trap *engine.Trap
	if !errors.As(err, &trap) {
		t.Fatalf("expected *engine.Trap, got %v", err)
	}
	return trap.Kind
}

// addModule exports add(i32, i32) -> i32.
func addModule() *wasm.Module {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Code:    []wasm.Instr{lget(0), lget(1), op(wasm.OpI32Add), op(wasm.OpEnd)},
	}}
	m.Exports = []wasm.Export{{Name: "add", Kind: wasm.KindFunc, Idx: 0}}
	return m
}

func TestCall_I32Wraparound(t *testing.T) {
	inst := instantiate(t, addModule(), engine.Imports{})
	vals := exportedCall(t, inst, "add", engine.I32(0x7fffffff), engine.I32(1))
	if len(vals) != 1 {
		t.Fatalf("got %d results, want 1", len(vals))
	}
	if got := uint32(vals[0].AsI32()); got != 0x80000000 {
		t.Errorf("add(0x7fffffff, 1) = 0x%08x, want 0x80000000", got)
	}
}

func TestCall_BadArgs(t *testing.T) {
	inst := instantiate(t, addModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("add")

	_, err := inst.Call(context.Background(), idx, []engine.Value{engine.I32(1)}, engine.NoBudget)
	if !errors.Is(err, interrs.InvalidInput(interrs.PhaseRuntime, "")) {
		t.Errorf("arity error = %v, want runtime invalid_input", err)
	}

	_, err = inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(1), engine.I64(2)}, engine.NoBudget)
	if !errors.Is(err, interrs.TypeMismatch(interrs.PhaseRuntime, nil, "", "")) {
		t.Errorf("type error = %v, want runtime type_mismatch", err)
	}
}

func divModule() *wasm.Module {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Code:    []wasm.Instr{lget(0), lget(1), op(wasm.OpI32DivS), op(wasm.OpEnd)},
	}}
	m.Exports = []wasm.Export{{Name: "div", Kind: wasm.KindFunc, Idx: 0}}
	return m
}

func TestDivTraps_Distinguishable(t *testing.T) {
	inst := instantiate(t, divModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("div")

	_, err := inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(7), engine.I32(0)}, engine.NoBudget)
	if k := trapKind(t, err); k != engine.TrapIntegerDivideByZero {
		t.Errorf("div(7, 0) trap kind = %v, want divide by zero", k)
	}

	_, err = inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(-0x80000000), engine.I32(-1)}, engine.NoBudget)
	if k := trapKind(t, err); k != engine.TrapIntegerOverflow {
		t.Errorf("div(INT32_MIN, -1) trap kind = %v, want integer overflow", k)
	}

	// the two kinds match errors.Is only against themselves
	if errors.Is(err, &engine.Trap{Kind: engine.TrapIntegerDivideByZero}) {
		t.Error("overflow trap matched divide-by-zero kind")
	}

	vals := exportedCall(t, inst, "div", engine.I32(-7), engine.I32(2))
	if vals[0].AsI32() != -3 {
		t.Errorf("div(-7, 2) = %d, want -3 (truncated)", vals[0].AsI32())
	}
}

// brTableModule exports pick(i32) -> i32 selecting between three
// nested blocks: 0 -> 10, 1 -> 20, anything else -> 30 via default.
func brTableModule() *wasm.Module {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	void := wasm.Instr{Op: wasm.OpBlock, BlockType: wasm.BlockTypeVoid}
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Code: []wasm.Instr{
			void, void, void,
			lget(0),
			{Op: wasm.OpBrTable, Depths: []uint32{0, 1}, Idx: 2},
			op(wasm.OpEnd),
			i32c(10), op(wasm.OpReturn),
			op(wasm.OpEnd),
			i32c(20), op(wasm.OpReturn),
			op(wasm.OpEnd),
			i32c(30),
			op(wasm.OpEnd),
		},
	}}
	m.Exports = []wasm.Export{{Name: "pick", Kind: wasm.KindFunc, Idx: 0}}
	return m
}

func TestBrTable_Boundary(t *testing.T) {
	inst := instantiate(t, brTableModule(), engine.Imports{})
	tests := []struct {
		sel  int32
		want int32
	}{
		{0, 10},
		{1, 20},         // last valid index
		{2, 30},         // one past the table: default
		{1_000_000, 30}, // far out of range: default
		{-1, 30},        // negative selector is a huge unsigned value
	}
	for _, tt := range tests {
		vals := exportedCall(t, inst, "pick", engine.I32(tt.sel))
		if vals[0].AsI32() != tt.want {
			t.Errorf("pick(%d) = %d, want %d", tt.sel, vals[0].AsI32(), tt.want)
		}
	}
}

// indirectModule fills a table with square(i32)->i32 and an i64
// identity whose signature does not match the call site, leaving the
// remaining slots null.
func indirectModule() *wasm.Module {
	m := &wasm.Module{}
	sigI32 := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	sigI64 := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI64},
		Results: []wasm.ValType{wasm.ValI64},
	})
	caller := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []wasm.Function{
		{TypeIdx: sigI32, Code: []wasm.Instr{lget(0), lget(0), op(wasm.OpI32Mul), op(wasm.OpEnd)}},
		{TypeIdx: sigI64, Code: []wasm.Instr{lget(0), op(wasm.OpEnd)}},
		// call_indirect [arg, slot] expecting (i32)->i32
		{TypeIdx: caller, Code: []wasm.Instr{
			lget(0),
			lget(1),
			{Op: wasm.OpCallIndirect, Idx: sigI32, TableIdx: 0},
			op(wasm.OpEnd),
		}},
	}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 4}}}
	// slots: 0 -> square, 1 -> i64 identity, 2 -> null, 3 -> null
	m.Elements = []wasm.Element{{
		Offset:   []wasm.Instr{i32c(0)},
		FuncIdxs: []uint32{0, 1},
	}}
	m.Exports = []wasm.Export{{Name: "dispatch", Kind: wasm.KindFunc, Idx: 2}}
	return m
}

func TestCallIndirect(t *testing.T) {
	inst := instantiate(t, indirectModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("dispatch")
	call := func(arg, slot int32) ([]engine.Value, error) {
		out, err := inst.Call(context.Background(), idx,
			[]engine.Value{engine.I32(arg), engine.I32(slot)}, engine.NoBudget)
		return out.Values, err
	}

	vals, err := call(12, 0)
	if err != nil {
		t.Fatalf("dispatch(12, 0): %v", err)
	}
	if vals[0].AsI32() != 144 {
		t.Errorf("square(12) via table = %d, want 144", vals[0].AsI32())
	}

	_, err = call(1, 1)
	if k := trapKind(t, err); k != engine.TrapIndirectCallMismatch {
		t.Errorf("signature mismatch trap kind = %v", k)
	}

	_, err = call(1, 2)
	if k := trapKind(t, err); k != engine.TrapNullFuncref {
		t.Errorf("null cell trap kind = %v", k)
	}

	_, err = call(1, 99)
	if k := trapKind(t, err); k != engine.TrapUndefinedElement {
		t.Errorf("out-of-range trap kind = %v", k)
	}
}

// exprElemModule fills table slot 1 through an expression-encoded
// active element segment (one ref.func expr per cell) instead of a
// function index vector, leaving slot 0 null.
func exprElemModule() *wasm.Module {
	m := &wasm.Module{}
	sigI32 := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	caller := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []wasm.Function{
		{TypeIdx: sigI32, Code: []wasm.Instr{lget(0), lget(0), op(wasm.OpI32Mul), op(wasm.OpEnd)}},
		{TypeIdx: caller, Code: []wasm.Instr{
			lget(0),
			lget(1),
			{Op: wasm.OpCallIndirect, Idx: sigI32, TableIdx: 0},
			op(wasm.OpEnd),
		}},
	}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}}
	m.Elements = []wasm.Element{{
		Flags:  4,
		Type:   wasm.ValFuncRef,
		Offset: []wasm.Instr{i32c(1)},
		Exprs:  [][]wasm.Instr{{{Op: wasm.OpRefFunc, Idx: 0}}},
	}}
	m.Exports = []wasm.Export{{Name: "dispatch", Kind: wasm.KindFunc, Idx: 1}}
	return m
}

func TestInstantiate_ExprElementSegment(t *testing.T) {
	inst := instantiate(t, exprElemModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("dispatch")
	call := func(arg, slot int32) ([]engine.Value, error) {
		out, err := inst.Call(context.Background(), idx,
			[]engine.Value{engine.I32(arg), engine.I32(slot)}, engine.NoBudget)
		return out.Values, err
	}

	vals, err := call(12, 1)
	if err != nil {
		t.Fatalf("dispatch(12, 1): %v", err)
	}
	if vals[0].AsI32() != 144 {
		t.Errorf("square(12) via expr-initialized cell = %d, want 144", vals[0].AsI32())
	}

	// the segment starts at slot 1; slot 0 must stay null
	_, err = call(1, 0)
	if k := trapKind(t, err); k != engine.TrapNullFuncref {
		t.Errorf("untouched cell trap kind = %v, want null funcref", k)
	}
}

// memModule exports load8(addr)->i32 and load32(addr)->i32 over one
// 64 KiB page.
func memModule() *wasm.Module {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	m.Funcs = []wasm.Function{
		{TypeIdx: sig, Code: []wasm.Instr{lget(0), {Op: wasm.OpI32Load8U}, op(wasm.OpEnd)}},
		{TypeIdx: sig, Code: []wasm.Instr{lget(0), {Op: wasm.OpI32Load, Align: 2}, op(wasm.OpEnd)}},
	}
	m.Exports = []wasm.Export{
		{Name: "load8", Kind: wasm.KindFunc, Idx: 0},
		{Name: "load32", Kind: wasm.KindFunc, Idx: 1},
	}
	return m
}

func TestMemory_OffByOneBoundary(t *testing.T) {
	inst := instantiate(t, memModule(), engine.Imports{})
	load8, _ := inst.Module().ExportedFunc("load8")
	load32, _ := inst.Module().ExportedFunc("load32")
	call := func(fn uint32, addr int32) error {
		_, err := inst.Call(context.Background(), fn,
			[]engine.Value{engine.I32(addr)}, engine.NoBudget)
		return err
	}

	if err := call(load8, 65535); err != nil {
		t.Errorf("load8(65535): %v, want success at the last byte", err)
	}
	if err := call(load8, 65536); err == nil {
		t.Error("load8(65536) succeeded, want out-of-bounds trap")
	} else if k := trapKind(t, err); k != engine.TrapOutOfBoundsMemory {
		t.Errorf("load8(65536) trap kind = %v", k)
	}

	if err := call(load32, 65532); err != nil {
		t.Errorf("load32(65532): %v, want success (addr+4 == length)", err)
	}
	if err := call(load32, 65533); err == nil {
		t.Error("load32(65533) succeeded, want out-of-bounds trap (addr+4 == length+1)")
	} else if k := trapKind(t, err); k != engine.TrapOutOfBoundsMemory {
		t.Errorf("load32(65533) trap kind = %v", k)
	}
}

// itoaModule exports itoa(n, buf) -> len, writing the decimal digits
// of n (n > 0) as ASCII into memory at buf.
func itoaModule() *wasm.Module {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	// locals: 2 = digit count, 3 = scratch, 4 = write cursor
	loop := wasm.Instr{Op: wasm.OpLoop, BlockType: wasm.BlockTypeVoid}
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Locals:  []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32},
		Code: []wasm.Instr{
			// count digits: scratch = n; do { scratch /= 10; count++ } while scratch != 0
			lget(0), lset(3),
			loop,
			lget(3), i32c(10), op(wasm.OpI32DivU), lset(3),
			lget(2), i32c(1), op(wasm.OpI32Add), lset(2),
			lget(3),
			{Op: wasm.OpBrIf, Idx: 0},
			op(wasm.OpEnd),
			// cursor = buf + count - 1; scratch = n
			lget(1), lget(2), op(wasm.OpI32Add), i32c(1), op(wasm.OpI32Sub), lset(4),
			lget(0), lset(3),
			// do { *cursor = '0' + scratch % 10; cursor--; scratch /= 10 } while scratch != 0
			loop,
			lget(4),
			lget(3), i32c(10), op(wasm.OpI32RemU), i32c('0'), op(wasm.OpI32Add),
			{Op: wasm.OpI32Store8},
			lget(4), i32c(1), op(wasm.OpI32Sub), lset(4),
			lget(3), i32c(10), op(wasm.OpI32DivU), lset(3),
			lget(3),
			{Op: wasm.OpBrIf, Idx: 0},
			op(wasm.OpEnd),
			lget(2),
			op(wasm.OpEnd),
		},
	}}
	m.Exports = []wasm.Export{{Name: "itoa", Kind: wasm.KindFunc, Idx: 0}}
	return m
}

func TestItoa_EndToEnd(t *testing.T) {
	inst := instantiate(t, itoaModule(), engine.Imports{})
	vals := exportedCall(t, inst, "itoa", engine.I32(12345), engine.I32(64))
	if vals[0].AsI32() != 5 {
		t.Fatalf("itoa(12345) length = %d, want 5", vals[0].AsI32())
	}
	got := inst.Memory().Bytes()[64:69]
	if !bytes.Equal(got, []byte("12345")) {
		t.Errorf("memory[64:69] = %q, want %q", got, "12345")
	}
}

// importModule imports env.mul(i32, i32) -> i32 and exports a wrapper
// calling it.
func importModule() *wasm.Module {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Imports = []wasm.Import{{
		Module: "env", Name: "mul",
		Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: sig},
	}}
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Code:    []wasm.Instr{lget(0), lget(1), {Op: wasm.OpCall, Idx: 0}, op(wasm.OpEnd)},
	}}
	m.Exports = []wasm.Export{{Name: "wrap", Kind: wasm.KindFunc, Idx: 1}}
	return m
}

func hostImports(fn engine.HostFunc) engine.Imports {
	return engine.Imports{
		Funcs: map[string]map[string]engine.HostBinding{
			"env": {"mul": {
				Fn: fn,
				Sig: wasm.FuncType{
					Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
					Results: []wasm.ValType{wasm.ValI32},
				},
			}},
		},
	}
}

func TestHostFunc_Call(t *testing.T) {
	mul := func(ctx context.Context, inst *engine.Instance, args []engine.Value) ([]engine.Value, error) {
		return []engine.Value{engine.I32(args[0].AsI32() * args[1].AsI32())}, nil
	}
	inst := instantiate(t, importModule(), hostImports(mul))
	vals := exportedCall(t, inst, "wrap", engine.I32(6), engine.I32(7))
	if vals[0].AsI32() != 42 {
		t.Errorf("wrap(6, 7) = %d, want 42", vals[0].AsI32())
	}
}

func TestHostFunc_Error(t *testing.T) {
	boom := fmt.Errorf("backend unavailable")
	fail := func(ctx context.Context, inst *engine.Instance, args []engine.Value) ([]engine.Value, error) {
		return nil, boom
	}
	inst := instantiate(t, importModule(), hostImports(fail))
	idx, _ := inst.Module().ExportedFunc("wrap")
	_, err := inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(1), engine.I32(2)}, engine.NoBudget)
	if k := trapKind(t, err); k != engine.TrapHostError {
		t.Fatalf("host error trap kind = %v", k)
	}
	if !errors.Is(err, boom) {
		t.Errorf("host trap does not unwrap to the host's error: %v", err)
	}
}

func TestHostFunc_Yield(t *testing.T) {
	yield := func(ctx context.Context, inst *engine.Instance, args []engine.Value) ([]engine.Value, error) {
		return nil, engine.ErrYield
	}
	inst := instantiate(t, importModule(), hostImports(yield))
	idx, _ := inst.Module().ExportedFunc("wrap")
	out, err := inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(1), engine.I32(2)}, engine.NoBudget)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !out.Suspended() {
		t.Fatal("yielding host call did not suspend")
	}
	if out.Cont.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1 (host result arity)", out.Cont.Pending())
	}

	// the injected value stands in for the host call's result
	res, err := out.Cont.Resume(context.Background(), []engine.Value{engine.I32(99)}, engine.NoBudget)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Suspended() || len(res.Values) != 1 || res.Values[0].AsI32() != 99 {
		t.Errorf("resumed outcome = %+v, want value 99", res)
	}
}

func TestStackExhausted(t *testing.T) {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{})
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Code:    []wasm.Instr{{Op: wasm.OpCall, Idx: 0}, op(wasm.OpEnd)},
	}}
	m.Exports = []wasm.Export{{Name: "recurse", Kind: wasm.KindFunc, Idx: 0}}

	inst := instantiate(t, m, engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("recurse")
	_, err := inst.Call(context.Background(), idx, nil, engine.NoBudget)
	if k := trapKind(t, err); k != engine.TrapStackExhausted {
		t.Errorf("trap kind = %v, want stack exhausted", k)
	}
}

func TestUnreachable(t *testing.T) {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{})
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Code:    []wasm.Instr{op(wasm.OpUnreachable), op(wasm.OpEnd)},
	}}
	m.Exports = []wasm.Export{{Name: "boom", Kind: wasm.KindFunc, Idx: 0}}

	inst := instantiate(t, m, engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("boom")
	_, err := inst.Call(context.Background(), idx, nil, engine.NoBudget)
	if k := trapKind(t, err); k != engine.TrapUnreachable {
		t.Errorf("trap kind = %v, want unreachable", k)
	}
}

func TestInstantiate_MissingImport(t *testing.T) {
	_, err := engine.Instantiate(context.Background(), compile(t, importModule()), engine.Imports{}, nil)
	if !errors.Is(err, interrs.MissingImport("env", "mul")) {
		t.Errorf("error = %v, want missing_import", err)
	}
}

func TestInstantiate_SignatureMismatch(t *testing.T) {
	imp := engine.Imports{
		Funcs: map[string]map[string]engine.HostBinding{
			"env": {"mul": {
				Fn:  func(context.Context, *engine.Instance, []engine.Value) ([]engine.Value, error) { return nil, nil },
				Sig: wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}},
			}},
		},
	}
	_, err := engine.Instantiate(context.Background(), compile(t, importModule()), imp, nil)
	if !errors.Is(err, interrs.TypeMismatch(interrs.PhaseLink, nil, "", "")) {
		t.Errorf("error = %v, want link type_mismatch", err)
	}
}

func TestInstantiate_StartAndSegments(t *testing.T) {
	m := &wasm.Module{}
	void := m.AddType(wasm.FuncType{})
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	m.Globals = []wasm.Global{{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: []wasm.Instr{i32c(7)},
	}}
	// start function doubles the global
	m.Funcs = []wasm.Function{{
		TypeIdx: void,
		Code: []wasm.Instr{
			{Op: wasm.OpGlobalGet, Idx: 0},
			i32c(2), op(wasm.OpI32Mul),
			{Op: wasm.OpGlobalSet, Idx: 0},
			op(wasm.OpEnd),
		},
	}}
	zero := uint32(0)
	m.Start = &zero
	m.Data = []wasm.DataSegment{{Offset: []wasm.Instr{i32c(16)}, Init: []byte("hi")}}

	inst := instantiate(t, m, engine.Imports{})
	if g, ok := inst.Global(0); !ok || g.AsI32() != 14 {
		t.Errorf("global after start = %v, want 14", g)
	}
	if got := inst.Memory().Bytes()[16:18]; !bytes.Equal(got, []byte("hi")) {
		t.Errorf("memory[16:18] = %q, want %q", got, "hi")
	}
}

func TestInstantiate_DataSegmentOutOfBounds(t *testing.T) {
	m := &wasm.Module{}
	m.AddType(wasm.FuncType{})
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	m.Data = []wasm.DataSegment{{Offset: []wasm.Instr{i32c(65535)}, Init: []byte("toolong")}}

	_, err := engine.Instantiate(context.Background(), compile(t, m), engine.Imports{}, nil)
	if err == nil {
		t.Fatal("instantiation succeeded with out-of-bounds data segment")
	}
	if k := trapKind(t, err); k != engine.TrapOutOfBoundsMemory {
		t.Errorf("trap kind = %v, want out-of-bounds memory", k)
	}
}

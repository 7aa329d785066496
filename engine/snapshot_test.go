package engine_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/wippyai/wasm-interp/engine"
	interrs "github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// gcdModule exports gcd(i32, i32) -> i32 with a loop, branches, and
// calls nothing: a pure program whose state lives entirely in frames.
func gcdModule() *wasm.Module {
	m := &wasm.Module{}
	sig := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Funcs = []wasm.Function{{
		TypeIdx: sig,
		Locals:  []wasm.ValType{wasm.ValI32},
		Code: []wasm.Instr{
			// while b != 0 { t = b; b = a % b; a = t }
			{Op: wasm.OpBlock, BlockType: wasm.BlockTypeVoid},
			{Op: wasm.OpLoop, BlockType: wasm.BlockTypeVoid},
			lget(1), {Op: wasm.OpI32Eqz}, {Op: wasm.OpBrIf, Idx: 1},
			lget(1), lset(2),
			lget(0), lget(1), {Op: wasm.OpI32RemU}, lset(1),
			lget(2), lset(0),
			{Op: wasm.OpBr, Idx: 0},
			op(wasm.OpEnd),
			op(wasm.OpEnd),
			lget(0),
			op(wasm.OpEnd),
		},
	}}
	m.Exports = []wasm.Export{{Name: "gcd", Kind: wasm.KindFunc, Idx: 0}}
	return m
}

// runSingleStepped executes an export suspending after every single
// instruction and resuming until completion.
func runSingleStepped(t *testing.T, inst *engine.Instance, name string, args []engine.Value) []engine.Value {
	t.Helper()
	idx, ok := inst.Module().ExportedFunc(name)
	if !ok {
		t.Fatalf("export %q not found", name)
	}
	out, err := inst.Call(context.Background(), idx, args, 1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	for steps := 0; out.Suspended(); steps++ {
		if steps > 1_000_000 {
			t.Fatal("single-stepped run did not terminate")
		}
		out, err = out.Cont.Resume(context.Background(), nil, 1)
		if err != nil {
			t.Fatalf("Resume at step %d: %v", steps, err)
		}
	}
	return out.Values
}

func TestContinuation_SingleStepFidelity(t *testing.T) {
	direct := instantiate(t, gcdModule(), engine.Imports{})
	want := exportedCall(t, direct, "gcd", engine.I32(1071), engine.I32(462))

	stepped := instantiate(t, gcdModule(), engine.Imports{})
	got := runSingleStepped(t, stepped, "gcd", []engine.Value{engine.I32(1071), engine.I32(462)})

	if len(got) != 1 || got[0].AsI32() != want[0].AsI32() {
		t.Errorf("single-stepped gcd = %v, uninterrupted = %v", got, want)
	}
	if want[0].AsI32() != 21 {
		t.Errorf("gcd(1071, 462) = %d, want 21", want[0].AsI32())
	}
}

func TestContinuation_SingleStepFidelityWithMemory(t *testing.T) {
	direct := instantiate(t, itoaModule(), engine.Imports{})
	want := exportedCall(t, direct, "itoa", engine.I32(987654), engine.I32(32))

	stepped := instantiate(t, itoaModule(), engine.Imports{})
	got := runSingleStepped(t, stepped, "itoa", []engine.Value{engine.I32(987654), engine.I32(32)})

	if got[0].AsI32() != want[0].AsI32() {
		t.Fatalf("stepped length %d, uninterrupted %d", got[0].AsI32(), want[0].AsI32())
	}
	a := direct.Memory().Bytes()[32:38]
	b := stepped.Memory().Bytes()[32:38]
	if !bytes.Equal(a, b) || !bytes.Equal(a, []byte("987654")) {
		t.Errorf("memory after stepped run = %q, uninterrupted = %q, want %q", b, a, "987654")
	}
}

func TestContinuation_MarshalRoundTrip(t *testing.T) {
	inst := instantiate(t, gcdModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("gcd")

	out, err := inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(1071), engine.I32(462)}, 17)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !out.Suspended() {
		t.Fatal("expected suspension after 17 steps")
	}

	data, err := out.Cont.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var restored engine.Continuation
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if restored.Bound() {
		t.Fatal("deserialized continuation is already bound")
	}
	if err := restored.Rebind(inst); err != nil {
		t.Fatalf("Rebind: %v", err)
	}

	res, err := restored.Resume(context.Background(), nil, engine.NoBudget)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Suspended() || res.Values[0].AsI32() != 21 {
		t.Errorf("resumed outcome = %+v, want 21", res)
	}
}

func TestContinuation_ConsumedOnce(t *testing.T) {
	inst := instantiate(t, gcdModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("gcd")
	out, err := inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(48), engine.I32(18)}, 5)
	if err != nil || !out.Suspended() {
		t.Fatalf("Call = %+v, %v, want suspension", out, err)
	}

	if _, err := out.Cont.Resume(context.Background(), nil, engine.NoBudget); err != nil {
		t.Fatalf("first Resume: %v", err)
	}
	_, err = out.Cont.Resume(context.Background(), nil, engine.NoBudget)
	if !errors.Is(err, interrs.Consumed("continuation")) {
		t.Errorf("second Resume error = %v, want consumed", err)
	}
}

func TestContinuation_InjectedArity(t *testing.T) {
	inst := instantiate(t, gcdModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("gcd")
	out, err := inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(48), engine.I32(18)}, 5)
	if err != nil || !out.Suspended() {
		t.Fatalf("Call = %+v, %v, want suspension", out, err)
	}

	// budget suspension expects zero injected values
	_, err = out.Cont.Resume(context.Background(), []engine.Value{engine.I32(1)}, engine.NoBudget)
	if !errors.Is(err, interrs.InvalidInput(interrs.PhaseRuntime, "")) {
		t.Errorf("Resume with stray injected value = %v, want invalid_input", err)
	}
}

func TestContinuation_UnboundResume(t *testing.T) {
	inst := instantiate(t, gcdModule(), engine.Imports{})
	idx, _ := inst.Module().ExportedFunc("gcd")
	out, _ := inst.Call(context.Background(), idx,
		[]engine.Value{engine.I32(48), engine.I32(18)}, 5)

	data, err := out.Cont.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var c engine.Continuation
	if err := c.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if _, err := c.Resume(context.Background(), nil, engine.NoBudget); err == nil {
		t.Error("Resume on unbound continuation succeeded")
	}
}

func TestContinuation_RebindRejectsShortLocals(t *testing.T) {
	// gcd declares two params and one local, so a frame must carry
	// three locals. A snapshot claiming zero is corrupt and must be
	// rejected at Rebind, not crash at the first local.get.
	inst := instantiate(t, gcdModule(), engine.Imports{})
	snap := []byte{
		1,          // version
		0,          // pending
		0,          // operand stack: empty
		1,          // one frame
		0, 1, 0, 1, // fn 0, pc 1, base 0, arity 1
		0,           // zero locals
		1,           // one label
		3, 1, 0, 14, // function sentinel label
	}
	var c engine.Continuation
	if err := c.UnmarshalBinary(snap); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if err := c.Rebind(inst); err == nil {
		t.Error("Rebind accepted a frame with fewer locals than the function declares")
	}
}

func TestContinuation_UnmarshalRejectsGarbage(t *testing.T) {
	var c engine.Continuation
	if err := c.UnmarshalBinary(nil); err == nil {
		t.Error("empty snapshot accepted")
	}
	if err := c.UnmarshalBinary([]byte{99}); err == nil {
		t.Error("unknown version accepted")
	}
	if err := c.UnmarshalBinary([]byte{1, 0, 1}); err == nil {
		t.Error("truncated snapshot accepted")
	}
}

package engine

import (
	"fmt"

	"github.com/wippyai/wasm-interp/wasm"
)

// evalConstExpr evaluates a decoded initializer expression to a single
// value. Initializers are restricted to one producing instruction:
// a constant, a ref.null / ref.func, or global.get of an earlier
// (imported, immutable) global. The decoder enforces the opcode set;
// the shape and result type are checked here.
func (inst *Instance) evalConstExpr(expr []wasm.Instr, want wasm.ValType) (Value, error) {
	if len(expr) != 1 {
		return Value{}, fmt.Errorf("initializer must be a single instruction, got %d", len(expr))
	}
	in := expr[0]

	var v Value
	switch in.Op {
	case wasm.OpI32Const:
		v = I32(int32(uint32(in.Const)))
	case wasm.OpI64Const:
		v = I64(int64(in.Const))
	case wasm.OpF32Const:
		v = Value{typ: wasm.ValF32, bits: in.Const}
	case wasm.OpF64Const:
		v = Value{typ: wasm.ValF64, bits: in.Const}
	case wasm.OpRefNull:
		v = NullRef(wasm.ValType(in.Idx))
	case wasm.OpRefFunc:
		v = FuncRef(in.Idx)
	case wasm.OpGlobalGet:
		if int(in.Idx) >= len(inst.globals) {
			return Value{}, fmt.Errorf("initializer references global %d before it exists", in.Idx)
		}
		v = inst.globals[in.Idx]
	default:
		return Value{}, fmt.Errorf("opcode %s not allowed in initializer", wasm.OpcodeName(in.Op))
	}

	if v.Type() != want {
		return Value{}, fmt.Errorf("initializer yields %s, want %s", v.Type(), want)
	}
	return v, nil
}

package engine

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-interp/wasm"
)

// Value is a tagged wasm value: i32, i64, f32, f64, or a nullable
// function reference. Numeric payloads are stored as raw bits so a
// value round-trips through a snapshot without reinterpretation.
// There is no implicit coercion between kinds.
type Value struct {
	bits uint64
	typ  wasm.ValType
	null bool
}

// I32 builds an i32 value.
func I32(v int32) Value {
	return Value{typ: wasm.ValI32, bits: uint64(uint32(v))}
}

// I64 builds an i64 value.
func I64(v int64) Value {
	return Value{typ: wasm.ValI64, bits: uint64(v)}
}

// F32 builds an f32 value.
func F32(v float32) Value {
	return Value{typ: wasm.ValF32, bits: uint64(math.Float32bits(v))}
}

// F64 builds an f64 value.
func F64(v float64) Value {
	return Value{typ: wasm.ValF64, bits: math.Float64bits(v)}
}

// FuncRef builds a non-null funcref holding a function index.
// References are index-based: a funcref never holds a pointer, so it
// survives serialization and transport between processes.
func FuncRef(idx uint32) Value {
	return Value{typ: wasm.ValFuncRef, bits: uint64(idx)}
}

// NullRef builds a null reference of the given reference type.
func NullRef(t wasm.ValType) Value {
	return Value{typ: t, null: true}
}

// zeroValue is the default for an uninitialized local or global.
func zeroValue(t wasm.ValType) Value {
	if t.IsRef() {
		return NullRef(t)
	}
	return Value{typ: t}
}

// Type reports the value's wasm type.
func (v Value) Type() wasm.ValType { return v.typ }

// Bits returns the raw 64-bit payload.
func (v Value) Bits() uint64 { return v.bits }

// IsNull reports whether a reference value is null. It is always
// false for numeric values.
func (v Value) IsNull() bool { return v.null }

// AsI32 returns the payload interpreted as i32.
func (v Value) AsI32() int32 { return int32(uint32(v.bits)) }

// AsI64 returns the payload interpreted as i64.
func (v Value) AsI64() int64 { return int64(v.bits) }

// AsF32 returns the payload interpreted as f32.
func (v Value) AsF32() float32 { return math.Float32frombits(uint32(v.bits)) }

// AsF64 returns the payload interpreted as f64.
func (v Value) AsF64() float64 { return math.Float64frombits(v.bits) }

// AsFuncIdx returns the function index held by a non-null funcref.
func (v Value) AsFuncIdx() uint32 { return uint32(v.bits) }

func (v Value) String() string {
	switch v.typ {
	case wasm.ValI32:
		return fmt.Sprintf("i32:%d", v.AsI32())
	case wasm.ValI64:
		return fmt.Sprintf("i64:%d", v.AsI64())
	case wasm.ValF32:
		return fmt.Sprintf("f32:%g", v.AsF32())
	case wasm.ValF64:
		return fmt.Sprintf("f64:%g", v.AsF64())
	case wasm.ValFuncRef:
		if v.null {
			return "funcref:null"
		}
		return fmt.Sprintf("funcref:%d", v.AsFuncIdx())
	case wasm.ValExtern:
		if v.null {
			return "externref:null"
		}
		return fmt.Sprintf("externref:%d", v.bits)
	}
	return fmt.Sprintf("value(0x%02x):0x%x", byte(v.typ), v.bits)
}

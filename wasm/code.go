package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// bodyContext carries the index-space sizes needed for the structural
// checks performed while lowering a function body.
type bodyContext struct {
	m          *Module
	numLocals  uint32 // params + declared locals of the current function
	numFuncs   uint32
	numGlobals uint32
	numTables  uint32
	numTypes   uint32
}

func newBodyContext(m *Module, numLocals uint32) *bodyContext {
	return &bodyContext{
		m:          m,
		numLocals:  numLocals,
		numFuncs:   uint32(m.NumFuncs()),
		numGlobals: uint32(m.NumImportedGlobals() + len(m.Globals)),
		numTables:  uint32(m.NumImportedTables() + len(m.Tables)),
		numTypes:   uint32(len(m.Types)),
	}
}

// ctrlFrame tracks an open block/loop/if during lowering so branch
// targets can be fixed up when the matching end or else arrives.
type ctrlFrame struct {
	opIdx   int // index of the opening instruction, -1 for the function body
	elseIdx int // index of the else instruction, -1 when absent
	op      byte
}

// decodeFuncBody lowers a function body's raw bytecode into a flat Instr
// slice with pre-resolved branch targets. The returned slice always ends
// with the body's closing end instruction.
func decodeFuncBody(r *binary.Reader, ctx *bodyContext) ([]Instr, error) {
	var code []Instr
	ctrl := []ctrlFrame{{opIdx: -1, elseIdx: -1, op: OpBlock}}

	for len(ctrl) > 0 {
		op, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("unterminated function body: %w", err)
		}

		in := Instr{Op: op}

		switch op {
		case OpUnreachable, OpNop, OpReturn,
			OpDrop, OpSelect,
			OpRefIsNull:
			// No immediates.

		case OpBlock, OpLoop, OpIf:
			bt, err := readBlockType(r, ctx.m)
			if err != nil {
				return nil, err
			}
			in.BlockType = bt
			if op == OpLoop {
				// A branch to a loop label re-enters the body.
				in.Target = len(code) + 1
			}
			ctrl = append(ctrl, ctrlFrame{opIdx: len(code), elseIdx: -1, op: op})

		case OpElse:
			top := &ctrl[len(ctrl)-1]
			if top.op != OpIf || top.elseIdx >= 0 {
				return nil, fmt.Errorf("else without matching if")
			}
			top.elseIdx = len(code)
			// A false condition enters the else arm past this marker.
			code[top.opIdx].Else = len(code) + 1

		case OpEnd:
			top := ctrl[len(ctrl)-1]
			ctrl = ctrl[:len(ctrl)-1]
			endIdx := len(code)
			switch {
			case top.opIdx < 0:
				// Function body end.
			case top.op == OpBlock || top.op == OpIf:
				code[top.opIdx].Target = endIdx + 1
				if top.op == OpIf && top.elseIdx < 0 {
					// No else arm: a false condition jumps to end,
					// which pops the label.
					code[top.opIdx].Else = endIdx
				}
			}
			if top.elseIdx >= 0 {
				// Falling out of the then arm jumps to end.
				code[top.elseIdx].Target = endIdx
			}

		case OpBr, OpBrIf:
			depth, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if int(depth) >= len(ctrl) {
				return nil, fmt.Errorf("br depth %d exceeds label stack depth %d", depth, len(ctrl))
			}
			in.Idx = depth

		case OpBrTable:
			count, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			in.Depths = make([]uint32, count)
			for i := uint32(0); i < count; i++ {
				depth, err := r.ReadU32()
				if err != nil {
					return nil, err
				}
				if int(depth) >= len(ctrl) {
					return nil, fmt.Errorf("br_table depth %d exceeds label stack depth %d", depth, len(ctrl))
				}
				in.Depths[i] = depth
			}
			def, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if int(def) >= len(ctrl) {
				return nil, fmt.Errorf("br_table default depth %d exceeds label stack depth %d", def, len(ctrl))
			}
			in.Idx = def

		case OpCall:
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if idx >= ctx.numFuncs {
				return nil, fmt.Errorf("call: function index %d out of range (%d functions)", idx, ctx.numFuncs)
			}
			in.Idx = idx

		case OpCallIndirect:
			typeIdx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if typeIdx >= ctx.numTypes {
				return nil, fmt.Errorf("call_indirect: type index %d out of range (%d types)", typeIdx, ctx.numTypes)
			}
			tableIdx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if tableIdx >= ctx.numTables {
				return nil, fmt.Errorf("call_indirect: table index %d out of range (%d tables)", tableIdx, ctx.numTables)
			}
			in.Idx = typeIdx
			in.TableIdx = tableIdx

		case OpSelectType:
			count, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			in.Types = make([]ValType, count)
			for i := uint32(0); i < count; i++ {
				t, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				in.Types[i] = ValType(t)
			}

		case OpLocalGet, OpLocalSet, OpLocalTee:
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if idx >= ctx.numLocals {
				return nil, fmt.Errorf("%s: local index %d out of range (%d locals)", OpcodeName(op), idx, ctx.numLocals)
			}
			in.Idx = idx

		case OpGlobalGet, OpGlobalSet:
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if idx >= ctx.numGlobals {
				return nil, fmt.Errorf("%s: global index %d out of range (%d globals)", OpcodeName(op), idx, ctx.numGlobals)
			}
			in.Idx = idx

		case OpTableGet, OpTableSet:
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if idx >= ctx.numTables {
				return nil, fmt.Errorf("%s: table index %d out of range (%d tables)", OpcodeName(op), idx, ctx.numTables)
			}
			in.Idx = idx

		case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
			OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
			OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U,
			OpI64Load32S, OpI64Load32U,
			OpI32Store, OpI64Store, OpF32Store, OpF64Store,
			OpI32Store8, OpI32Store16,
			OpI64Store8, OpI64Store16, OpI64Store32:
			align, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			offset, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			in.Align = align
			in.Offset = offset

		case OpMemorySize, OpMemoryGrow:
			reserved, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if reserved != 0 {
				return nil, fmt.Errorf("%s: non-zero memory index %d", OpcodeName(op), reserved)
			}

		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return nil, err
			}
			in.Const = uint64(uint32(v))

		case OpI64Const:
			v, err := r.ReadS64()
			if err != nil {
				return nil, err
			}
			in.Const = uint64(v)

		case OpF32Const:
			buf, err := r.ReadBytes(4)
			if err != nil {
				return nil, err
			}
			in.Const = uint64(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)

		case OpF64Const:
			buf, err := r.ReadBytes(8)
			if err != nil {
				return nil, err
			}
			var bits uint64
			for i := 7; i >= 0; i-- {
				bits = bits<<8 | uint64(buf[i])
			}
			in.Const = bits

		case OpRefNull:
			vt, err := readHeapType(r)
			if err != nil {
				return nil, err
			}
			in.Idx = uint32(vt)

		case OpRefFunc:
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if idx >= ctx.numFuncs {
				return nil, fmt.Errorf("ref.func: function index %d out of range (%d functions)", idx, ctx.numFuncs)
			}
			in.Idx = idx

		case OpPrefixMisc:
			sub, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if sub > MiscI64TruncSatF64U {
				return nil, fmt.Errorf("unsupported misc opcode 0x%02x", sub)
			}
			in.Misc = sub

		case OpPrefixGC, OpPrefixSIMD, OpPrefixAtomic:
			return nil, fmt.Errorf("unsupported opcode prefix 0x%02x", op)

		default:
			if isPlainOpcode(op) {
				break
			}
			return nil, fmt.Errorf("unsupported opcode 0x%02x", op)
		}

		code = append(code, in)
	}

	return code, nil
}

// isPlainOpcode reports whether op is a supported single-byte opcode with
// no immediates beyond those handled explicitly in decodeFuncBody.
func isPlainOpcode(op byte) bool {
	switch {
	case op >= OpI32Eqz && op <= OpI64Extend32S:
		// Comparisons, numerics, conversions, sign extensions (0x45-0xC4).
		return true
	}
	return false
}

func readBlockType(r *binary.Reader, m *Module) (int64, error) {
	bt, err := r.ReadS64()
	if err != nil {
		return 0, err
	}
	if bt >= 0 {
		if int(bt) >= len(m.Types) {
			return 0, fmt.Errorf("block type index %d out of range (%d types)", bt, len(m.Types))
		}
		return bt, nil
	}
	switch bt {
	case BlockTypeVoid, BlockTypeI32, BlockTypeI64, BlockTypeF32, BlockTypeF64:
		return bt, nil
	}
	return 0, fmt.Errorf("invalid block type %d", bt)
}

// readHeapType reads the s33 heap type immediate of ref.null and maps it
// to a reference value type.
func readHeapType(r *binary.Reader) (ValType, error) {
	ht, err := r.ReadS64()
	if err != nil {
		return 0, err
	}
	switch ht {
	case -16: // 0x70
		return ValFuncRef, nil
	case -17: // 0x6F
		return ValExtern, nil
	}
	return 0, fmt.Errorf("unsupported heap type %d", ht)
}

// decodeConstExpr lowers a constant initializer expression. Only the
// constant opcode subset is accepted: numeric consts, global.get,
// ref.null, and ref.func. The terminating end is not retained.
func decodeConstExpr(r *binary.Reader, ctx *bodyContext) ([]Instr, error) {
	var code []Instr
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("unterminated init expression: %w", err)
		}
		if op == OpEnd {
			return code, nil
		}

		in := Instr{Op: op}
		switch op {
		case OpI32Const:
			v, err := r.ReadS32()
			if err != nil {
				return nil, err
			}
			in.Const = uint64(uint32(v))
		case OpI64Const:
			v, err := r.ReadS64()
			if err != nil {
				return nil, err
			}
			in.Const = uint64(v)
		case OpF32Const:
			buf, err := r.ReadBytes(4)
			if err != nil {
				return nil, err
			}
			in.Const = uint64(uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24)
		case OpF64Const:
			buf, err := r.ReadBytes(8)
			if err != nil {
				return nil, err
			}
			var bits uint64
			for i := 7; i >= 0; i-- {
				bits = bits<<8 | uint64(buf[i])
			}
			in.Const = bits
		case OpGlobalGet:
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if idx >= ctx.numGlobals {
				return nil, fmt.Errorf("init expression: global index %d out of range (%d globals)", idx, ctx.numGlobals)
			}
			in.Idx = idx
		case OpRefNull:
			vt, err := readHeapType(r)
			if err != nil {
				return nil, err
			}
			in.Idx = uint32(vt)
		case OpRefFunc:
			idx, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if idx >= ctx.numFuncs {
				return nil, fmt.Errorf("init expression: function index %d out of range (%d functions)", idx, ctx.numFuncs)
			}
			in.Idx = idx
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in init expression", op)
		}
		code = append(code, in)
	}
}

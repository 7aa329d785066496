package wasm

import (
	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Encode encodes the module back to WebAssembly binary format. The output
// need not be byte-identical to the input the module was decoded from
// (varint widths may differ), but decoding it yields a structurally
// identical module. Encode is how tests and embedders construct binaries
// from programmatically built modules.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec.WriteU32(imp.Desc.TypeIdx)
			case KindTable:
				if imp.Desc.Table != nil {
					writeTableType(sec, *imp.Desc.Table)
				}
			case KindMemory:
				if imp.Desc.Memory != nil {
					writeMemoryType(sec, *imp.Desc.Memory)
				}
			case KindGlobal:
				if imp.Desc.Global != nil {
					writeGlobalType(sec, *imp.Desc.Global)
				}
			}
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for i := range m.Funcs {
			sec.WriteU32(m.Funcs[i].TypeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if len(m.Tables) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
		writeSection(w, SectionTable, sec.Bytes())
	}

	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeMemoryType(sec, mem)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	if len(m.Globals) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			writeConstExpr(sec, g.Init)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}

	if len(m.Elements) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Elements)))
		for _, elem := range m.Elements {
			sec.WriteU32(elem.Flags)

			hasTableIdx := elem.Flags&0x02 != 0 && elem.Flags&0x01 == 0
			hasOffset := elem.Flags&0x01 == 0
			usesExprs := elem.Flags&0x04 != 0

			if hasTableIdx {
				sec.WriteU32(elem.TableIdx)
			}
			if hasOffset {
				writeConstExpr(sec, elem.Offset)
			}
			if elem.Flags&0x03 != 0 {
				if usesExprs {
					sec.Byte(byte(elem.Type))
				} else {
					sec.Byte(elem.ElemKind)
				}
			}

			if usesExprs {
				sec.WriteU32(uint32(len(elem.Exprs)))
				for _, expr := range elem.Exprs {
					writeConstExpr(sec, expr)
				}
			} else {
				sec.WriteU32(uint32(len(elem.FuncIdxs)))
				for _, idx := range elem.FuncIdxs {
					sec.WriteU32(idx)
				}
			}
		}
		writeSection(w, SectionElement, sec.Bytes())
	}

	// DataCount section must appear before the Code section when present.
	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for i := range m.Funcs {
			fn := &m.Funcs[i]
			bodyBuf := binary.NewWriter()
			writeLocals(bodyBuf, fn.Locals)
			for _, in := range fn.Code {
				writeInstr(bodyBuf, in)
			}
			sec.WriteU32(uint32(bodyBuf.Len()))
			sec.WriteBytes(bodyBuf.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.WriteU32(d.Flags)
			if d.Flags == 2 {
				sec.WriteU32(d.MemIdx)
			}
			if d.Flags != 1 {
				writeConstExpr(sec, d.Offset)
			}
			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

// writeLocals run-length encodes the expanded local types back into the
// binary's (count, type) groups.
func writeLocals(w *binary.Writer, locals []ValType) {
	type group struct {
		t ValType
		n uint32
	}
	var groups []group
	for _, t := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == t {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{t: t, n: 1})
	}
	w.WriteU32(uint32(len(groups)))
	for _, g := range groups {
		w.WriteU32(g.n)
		w.Byte(byte(g.t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	if l.Max != nil {
		w.Byte(LimitsHasMax)
		w.WriteU32(l.Min)
		w.WriteU32(*l.Max)
	} else {
		w.Byte(LimitsNoMax)
		w.WriteU32(l.Min)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeMemoryType(w *binary.Writer, m MemoryType) {
	writeLimits(w, m.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func writeConstExpr(w *binary.Writer, code []Instr) {
	for _, in := range code {
		writeInstr(w, in)
	}
	w.Byte(OpEnd)
}

// writeInstr re-emits a decoded instruction. Pre-resolved branch targets
// are decode-time artifacts and are not written; they are recomputed when
// the output is parsed.
func writeInstr(w *binary.Writer, in Instr) {
	w.Byte(in.Op)
	switch in.Op {
	case OpBlock, OpLoop, OpIf:
		w.WriteS64(in.BlockType)

	case OpBr, OpBrIf:
		w.WriteU32(in.Idx)

	case OpBrTable:
		w.WriteU32(uint32(len(in.Depths)))
		for _, d := range in.Depths {
			w.WriteU32(d)
		}
		w.WriteU32(in.Idx)

	case OpCall, OpLocalGet, OpLocalSet, OpLocalTee,
		OpGlobalGet, OpGlobalSet, OpTableGet, OpTableSet, OpRefFunc:
		w.WriteU32(in.Idx)

	case OpCallIndirect:
		w.WriteU32(in.Idx)
		w.WriteU32(in.TableIdx)

	case OpSelectType:
		w.WriteU32(uint32(len(in.Types)))
		for _, t := range in.Types {
			w.Byte(byte(t))
		}

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U,
		OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16,
		OpI64Store8, OpI64Store16, OpI64Store32:
		w.WriteU32(in.Align)
		w.WriteU32(in.Offset)

	case OpMemorySize, OpMemoryGrow:
		w.Byte(0x00)

	case OpI32Const:
		w.WriteS64(int64(int32(in.Const)))

	case OpI64Const:
		w.WriteS64(int64(in.Const))

	case OpF32Const:
		bits := uint32(in.Const)
		w.WriteBytes([]byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)})

	case OpF64Const:
		bits := in.Const
		buf := make([]byte, 8)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		w.WriteBytes(buf)

	case OpRefNull:
		switch ValType(in.Idx) {
		case ValExtern:
			w.WriteS64(-17)
		default:
			w.WriteS64(-16)
		}

	case OpPrefixMisc:
		w.WriteU32(in.Misc)
	}
}

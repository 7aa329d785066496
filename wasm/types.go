package wasm

import "strings"

// Module represents a parsed WebAssembly module. It is immutable after
// decoding; instances reference it without copying.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []Function // Declared (non-imported) functions with decoded bodies
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and
// result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports structural equality: same parameter and result types in
// the same order. This is the comparison used by call_indirect and by
// import resolution.
func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

func (ft FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(") -> (")
	for i, r := range ft.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Function represents a declared function: its signature's type index,
// expanded local variable types (parameters NOT included), and the fully
// decoded instruction sequence. Code always ends with an End instruction.
type Function struct {
	TypeIdx uint32
	Locals  []ValType
	Code    []Instr
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExtern.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsNum reports whether the type is one of the four numeric types.
func (v ValType) IsNum() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64:
		return true
	}
	return false
}

// IsRef reports whether the type is a reference type.
func (v ValType) IsRef() bool {
	return v == ValFuncRef || v == ValExtern
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	ElemType ValType
	Limits   Limits
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and decoded init expression.
type Global struct {
	Type GlobalType
	Init []Instr
}

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []Instr
	FuncIdxs []uint32
	Exprs    [][]Instr
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	Type     ValType
}

// IsActive reports whether the segment initializes its table at
// instantiation time.
func (e *Element) IsActive() bool {
	return e.Flags&0x01 == 0
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []Instr
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// IsActive reports whether the segment initializes memory at
// instantiation time.
func (d *DataSegment) IsActive() bool {
	return d.Flags != 1
}

// CustomSection holds a named custom section's data. Custom sections are
// preserved verbatim and have no semantic effect.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumImportedGlobals returns the number of imported globals.
func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// NumImportedTables returns the number of imported tables.
func (m *Module) NumImportedTables() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			count++
		}
	}
	return count
}

// NumImportedMemories returns the number of imported memories.
func (m *Module) NumImportedMemories() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			count++
		}
	}
	return count
}

// NumFuncs returns the total number of functions in the flat index space:
// imported functions first, then declared functions.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// GetFuncType returns the signature of a function by its flat index, or
// nil when the index is out of range.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		for i := range m.Imports {
			if m.Imports[i].Desc.Kind != KindFunc {
				continue
			}
			if funcIdx == 0 {
				return m.typeAt(m.Imports[i].Desc.TypeIdx)
			}
			funcIdx--
		}
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[localIdx].TypeIdx)
}

func (m *Module) typeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// ExportedFunc returns the flat function index of a function export, or
// false when no function export with that name exists.
func (m *Module) ExportedFunc(name string) (uint32, bool) {
	for i := range m.Exports {
		if m.Exports[i].Kind == KindFunc && m.Exports[i].Name == name {
			return m.Exports[i].Idx, true
		}
	}
	return 0, false
}

// BlockSig resolves a block type to its parameter and result types.
// Non-negative block types index the type section; negative values are
// shorthand for a void or single-result block.
func (m *Module) BlockSig(blockType int64) (params, results []ValType) {
	if blockType >= 0 {
		if int(blockType) < len(m.Types) {
			return m.Types[blockType].Params, m.Types[blockType].Results
		}
		return nil, nil
	}
	switch blockType {
	case BlockTypeVoid:
		return nil, nil
	case BlockTypeI32:
		return nil, []ValType{ValI32}
	case BlockTypeI64:
		return nil, []ValType{ValI64}
	case BlockTypeF32:
		return nil, []ValType{ValF32}
	case BlockTypeF64:
		return nil, []ValType{ValF64}
	}
	return nil, nil
}

// AddType adds a function type and returns its index, reusing an existing
// equal entry. Used when constructing modules programmatically.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}

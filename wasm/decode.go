package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-interp/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module. Decoding is structural:
// section framing, canonical section order, LEB128 well-formedness, index
// ranges, counts, and UTF-8 names are checked; instruction type checking
// is not performed, so type and arity errors surface as traps at run time.
// No partial Module is ever returned, and decoding identical bytes always
// yields an identical result.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(bytes.NewReader(data))

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}

	// Track section ordering using canonical order, not section IDs.
	// Spec order: Type(1), Import(2), Function(3), Table(4), Memory(5),
	// Global(6), Export(7), Start(8), Element(9), DataCount(12), Code(10), Data(11)
	var lastSectionOrder int

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}

		// Custom sections can appear anywhere.
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order <= lastSectionOrder {
				return nil, r.WrapError("section header", fmt.Errorf("section %d appears out of order", sectionID))
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}

		sectionStart := r.Position()
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReader(bytes.NewReader(sectionData))

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = parseDataCountSection(sr, m)
		default:
			err = fmt.Errorf("unknown section ID: 0x%02x", sectionID)
		}
		if err != nil {
			return nil, &binary.ParseError{
				Position: sectionStart + sr.Position(),
				Section:  sectionName(sectionID),
				Err:      err,
			}
		}
	}

	if len(m.Funcs) > 0 && m.Funcs[0].Code == nil {
		return nil, &binary.ParseError{
			Position: r.Position(),
			Section:  "code section",
			Err:      fmt.Errorf("function section declares %d functions but code section is missing", len(m.Funcs)),
		}
	}

	if err := m.Validate(); err != nil {
		return nil, &binary.ParseError{Position: r.Position(), Err: err}
	}

	return m, nil
}

// sectionOrder returns the canonical ordering for a section ID. The spec
// requires sections in a specific order which differs from the IDs.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10 // DataCount must come before Code
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 100 // Unknown sections rejected in the switch
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom section"
	case SectionType:
		return "type section"
	case SectionImport:
		return "import section"
	case SectionFunction:
		return "function section"
	case SectionTable:
		return "table section"
	case SectionMemory:
		return "memory section"
	case SectionGlobal:
		return "global section"
	case SectionExport:
		return "export section"
	case SectionStart:
		return "start section"
	case SectionElement:
		return "element section"
	case SectionCode:
		return "code section"
	case SectionData:
		return "data section"
	case SectionDataCount:
		return "data count section"
	default:
		return "section"
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: rest,
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type form at index %d: %w", i, err)
		}
		if form != FuncTypeByte {
			return fmt.Errorf("expected functype (0x60), got 0x%02x", form)
		}
		ft, err := readFuncType(r)
		if err != nil {
			return err
		}
		m.Types[i] = ft
	}
	return nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		t, err := readValType(r)
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	vt := ValType(b)
	if !vt.IsNum() && !vt.IsRef() {
		return 0, fmt.Errorf("unsupported value type 0x%02x", b)
	}
	return vt, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
			if int(imp.Desc.TypeIdx) >= len(m.Types) {
				return fmt.Errorf("import %s.%s: type index %d out of range (%d types)",
					module, name, imp.Desc.TypeIdx, len(m.Types))
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]Function, count)
	for i := uint32(0); i < count; i++ {
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if int(typeIdx) >= len(m.Types) {
			return fmt.Errorf("function %d: type index %d out of range (%d types)", i, typeIdx, len(m.Types))
		}
		m.Funcs[i].TypeIdx = typeIdx
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := uint32(0); i < count; i++ {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	numImported := m.NumImportedGlobals()
	m.Globals = make([]Global, 0, count)
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		// Init expressions may reference only globals declared earlier
		// in the index space.
		ctx := newBodyContext(m, 0)
		ctx.numGlobals = uint32(numImported) + i
		init, err := decodeConstExpr(r, ctx)
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, Global{Type: globalType, Init: init})
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	seen := make(map[string]struct{}, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate export name %q", name)
		}
		seen[name] = struct{}{}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if err := checkExportIdx(m, kind, idx); err != nil {
			return fmt.Errorf("export %q: %w", name, err)
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func checkExportIdx(m *Module, kind byte, idx uint32) error {
	switch kind {
	case KindFunc:
		if int(idx) >= m.NumFuncs() {
			return fmt.Errorf("function index %d out of range (%d functions)", idx, m.NumFuncs())
		}
	case KindTable:
		n := m.NumImportedTables() + len(m.Tables)
		if int(idx) >= n {
			return fmt.Errorf("table index %d out of range (%d tables)", idx, n)
		}
	case KindMemory:
		n := m.NumImportedMemories() + len(m.Memories)
		if int(idx) >= n {
			return fmt.Errorf("memory index %d out of range (%d memories)", idx, n)
		}
	case KindGlobal:
		n := m.NumImportedGlobals() + len(m.Globals)
		if int(idx) >= n {
			return fmt.Errorf("global index %d out of range (%d globals)", idx, n)
		}
	default:
		return fmt.Errorf("invalid export kind: 0x%02x", kind)
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(idx) >= m.NumFuncs() {
		return fmt.Errorf("start function index %d out of range (%d functions)", idx, m.NumFuncs())
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	ctx := newBodyContext(m, 0)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags, Type: ValFuncRef}

		hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
		hasOffset := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if hasTableIdx {
			elem.TableIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
			if elem.TableIdx >= ctx.numTables {
				return fmt.Errorf("element segment %d: table index %d out of range (%d tables)", i, elem.TableIdx, ctx.numTables)
			}
		}

		if hasOffset {
			elem.Offset, err = decodeConstExpr(r, ctx)
			if err != nil {
				return err
			}
		}

		// Flags 1, 2, 3: elemkind follows (must be 0x00 for funcref).
		// Flags 5, 6, 7: reftype follows.
		if flags&0x03 != 0 {
			if usesExprs {
				t, err := readValType(r)
				if err != nil {
					return err
				}
				if !t.IsRef() {
					return fmt.Errorf("element segment %d: non-reference element type %s", i, t)
				}
				elem.Type = t
			} else {
				elem.ElemKind, err = r.ReadByte()
				if err != nil {
					return err
				}
				if elem.ElemKind != 0x00 {
					return fmt.Errorf("element segment %d: unsupported elemkind 0x%02x", i, elem.ElemKind)
				}
			}
		}

		vecCount, err := r.ReadU32()
		if err != nil {
			return err
		}

		if usesExprs {
			elem.Exprs = make([][]Instr, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.Exprs[j], err = decodeConstExpr(r, ctx)
				if err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				idx, err := r.ReadU32()
				if err != nil {
					return err
				}
				if idx >= ctx.numFuncs {
					return fmt.Errorf("element segment %d: function index %d out of range (%d functions)", i, idx, ctx.numFuncs)
				}
				elem.FuncIdxs[j] = idx
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) != len(m.Funcs) {
		return fmt.Errorf("code section declares %d bodies but function section declares %d functions", count, len(m.Funcs))
	}
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReader(bytes.NewReader(bodyData))

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []ValType
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := readValType(br)
			if err != nil {
				return err
			}
			if uint64(len(locals))+uint64(n) > 1<<20 {
				return fmt.Errorf("function %d declares too many locals", i)
			}
			for k := uint32(0); k < n; k++ {
				locals = append(locals, t)
			}
		}

		ft := m.typeAt(m.Funcs[i].TypeIdx)
		ctx := newBodyContext(m, uint32(len(ft.Params)+len(locals)))
		code, err := decodeFuncBody(br, ctx)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		rest, err := br.ReadRemaining()
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			return fmt.Errorf("function %d: %d trailing bytes after body end", i, len(rest))
		}

		m.Funcs[i].Locals = locals
		m.Funcs[i].Code = code
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if m.DataCount != nil && *m.DataCount != count {
		return fmt.Errorf("data count section declares %d segments but data section has %d", *m.DataCount, count)
	}
	m.Data = make([]DataSegment, count)
	ctx := newBodyContext(m, 0)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}

		if flags == 2 {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
			n := m.NumImportedMemories() + len(m.Memories)
			if int(seg.MemIdx) >= n {
				return fmt.Errorf("data segment %d: memory index %d out of range (%d memories)", i, seg.MemIdx, n)
			}
		}

		if flags != 1 {
			seg.Offset, err = decodeConstExpr(r, ctx)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.Init, err = r.ReadBytes(int(initLen))
		if err != nil {
			return err
		}

		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > LimitsHasMax {
		return Limits{}, fmt.Errorf("unsupported limits flags 0x%02x", flags)
	}

	var l Limits
	l.Min, err = r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Max = &maxVal
	}

	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}

	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := readValType(r)
	if err != nil {
		return TableType{}, err
	}
	if !elemType.IsRef() {
		return TableType{}, fmt.Errorf("table element type %s is not a reference type", elemType)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	if limits.Min > MemoryMaxPages {
		return MemoryType{}, fmt.Errorf("memory min %d pages exceeds limit %d", limits.Min, MemoryMaxPages)
	}
	if limits.Max != nil && *limits.Max > MemoryMaxPages {
		return MemoryType{}, fmt.Errorf("memory max %d pages exceeds limit %d", *limits.Max, MemoryMaxPages)
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: valType, Mutable: mut == 1}, nil
}

package engine

import (
	"context"
	goerrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// ErrYield is returned by a host function to suspend the invocation
// instead of producing results. The engine treats it exactly like a
// step-budget expiry: the caller receives a Continuation, and the
// values injected on resume stand in for the host function's results.
var ErrYield = goerrors.New("host function yielded")

// HostFunc is a native callable bound under a (module, name) import
// key. It runs under the normal call protocol: args match the bound
// signature's params, and on success the returned values must match
// its results. Returning an error raises a host trap; returning
// ErrYield suspends.
type HostFunc func(ctx context.Context, inst *Instance, args []Value) ([]Value, error)

// HostBinding pairs a host function with its explicit signature.
// Import resolution requires full structural signature equality.
type HostBinding struct {
	Fn  HostFunc
	Sig wasm.FuncType
}

// Imports carries everything the link phase resolves against, keyed
// by module name then import name.
type Imports struct {
	Funcs   map[string]map[string]HostBinding
	Globals map[string]map[string]Value
}

// funcEntry is one slot in the instance's flat function index space:
// imported host functions first, then module-defined functions.
type funcEntry struct {
	host *HostBinding
	code *wasm.Function
	sig  *wasm.FuncType
}

// Instance is one running activation of a Module. It exclusively owns
// its memory, tables, and globals; it may be moved between goroutines
// but never used from two at once. The module itself is read-only and
// may back any number of instances.
type Instance struct {
	module  *wasm.Module
	mem     *Memory
	tables  [][]Value
	globals []Value
	funcs   []funcEntry
	log     *zap.Logger
}

// Instantiate links a decoded module against host imports and builds
// its runtime state: resolve imports, evaluate global initializers,
// fill active element and data segments, then run the start function
// if one is declared. Link failures return a structured error; a
// segment out of bounds or a fault in the start function returns a
// *Trap.
func Instantiate(ctx context.Context, m *wasm.Module, imp Imports, log *zap.Logger) (*Instance, error) {
	if log == nil {
		log = Logger()
	}
	inst := &Instance{module: m, log: log}

	if err := inst.resolveImports(imp); err != nil {
		return nil, err
	}
	for i := range m.Funcs {
		fn := &m.Funcs[i]
		inst.funcs = append(inst.funcs, funcEntry{code: fn, sig: &m.Types[fn.TypeIdx]})
	}

	if len(m.Memories) > 0 {
		inst.mem = newMemory(m.Memories[0].Limits.Min)
	} else {
		inst.mem = &Memory{}
	}
	for _, tt := range m.Tables {
		cells := make([]Value, tt.Limits.Min)
		for i := range cells {
			cells[i] = NullRef(tt.ElemType)
		}
		inst.tables = append(inst.tables, cells)
	}

	if err := inst.initGlobals(); err != nil {
		return nil, err
	}
	if err := inst.initElements(); err != nil {
		return nil, err
	}
	if err := inst.initData(); err != nil {
		return nil, err
	}

	log.Debug("module instantiated",
		zap.Int("funcs", len(inst.funcs)),
		zap.Int("memory_bytes", inst.mem.Len()),
		zap.Int("tables", len(inst.tables)),
		zap.Int("globals", len(inst.globals)))

	if m.Start != nil {
		out, err := inst.Call(ctx, *m.Start, nil, NoBudget)
		if err != nil {
			return nil, err
		}
		if out.Suspended() {
			return nil, errors.Instantiation(goerrors.New("start function suspended"))
		}
	}
	return inst, nil
}

func (inst *Instance) resolveImports(imp Imports) error {
	for _, im := range inst.module.Imports {
		switch im.Desc.Kind {
		case wasm.KindFunc:
			b, ok := imp.Funcs[im.Module][im.Name]
			if !ok {
				return errors.MissingImport(im.Module, im.Name)
			}
			want := &inst.module.Types[im.Desc.TypeIdx]
			if !b.Sig.Equal(*want) {
				return errors.TypeMismatch(errors.PhaseLink,
					[]string{"import", im.Module, im.Name},
					want.String(), b.Sig.String())
			}
			bound := b
			inst.funcs = append(inst.funcs, funcEntry{host: &bound, sig: &bound.Sig})
		case wasm.KindGlobal:
			v, ok := imp.Globals[im.Module][im.Name]
			if !ok {
				return errors.MissingImport(im.Module, im.Name)
			}
			if v.Type() != im.Desc.Global.ValType {
				return errors.TypeMismatch(errors.PhaseLink,
					[]string{"import", im.Module, im.Name},
					im.Desc.Global.ValType.String(), v.Type().String())
			}
			if im.Desc.Global.Mutable {
				return errors.Unsupported(errors.PhaseLink,
					fmt.Sprintf("mutable global import %s.%s", im.Module, im.Name))
			}
			inst.globals = append(inst.globals, v)
		case wasm.KindTable:
			return errors.Unsupported(errors.PhaseLink,
				fmt.Sprintf("table import %s.%s", im.Module, im.Name))
		default:
			return errors.Unsupported(errors.PhaseLink,
				fmt.Sprintf("memory import %s.%s", im.Module, im.Name))
		}
	}
	return nil
}

func (inst *Instance) initGlobals() error {
	for i, g := range inst.module.Globals {
		v, err := inst.evalConstExpr(g.Init, g.Type.ValType)
		if err != nil {
			return errors.New(errors.PhaseLink, errors.KindInstantiation).
				Path("global", fmt.Sprintf("%d", i)).
				Cause(err).
				Detail("global initializer").
				Build()
		}
		inst.globals = append(inst.globals, v)
	}
	return nil
}

func (inst *Instance) initElements() error {
	for i, el := range inst.module.Elements {
		if !el.IsActive() {
			continue
		}
		off, err := inst.evalConstExpr(el.Offset, wasm.ValI32)
		if err != nil {
			return errors.Wrap(errors.PhaseLink, errors.KindInstantiation, err,
				fmt.Sprintf("element segment %d offset", i))
		}
		table := inst.tables[el.TableIdx]
		base := uint64(uint32(off.AsI32()))
		n := len(el.FuncIdxs) + len(el.Exprs)
		if base+uint64(n) > uint64(len(table)) {
			return &Trap{Kind: TrapOutOfBoundsTable,
				Detail: fmt.Sprintf("element segment %d: offset %d length %d table size %d",
					i, base, n, len(table))}
		}
		for j, fidx := range el.FuncIdxs {
			table[base+uint64(j)] = FuncRef(fidx)
		}
		// Expression-encoded segments carry one const expr per cell
		// (ref.func or ref.null) instead of a function index vector.
		for j, expr := range el.Exprs {
			v, err := inst.evalConstExpr(expr, el.Type)
			if err != nil {
				return errors.Wrap(errors.PhaseLink, errors.KindInstantiation, err,
					fmt.Sprintf("element segment %d expression %d", i, j))
			}
			table[base+uint64(j)] = v
		}
	}
	return nil
}

func (inst *Instance) initData() error {
	for i, seg := range inst.module.Data {
		if !seg.IsActive() {
			continue
		}
		off, err := inst.evalConstExpr(seg.Offset, wasm.ValI32)
		if err != nil {
			return errors.Wrap(errors.PhaseLink, errors.KindInstantiation, err,
				fmt.Sprintf("data segment %d offset", i))
		}
		base := uint64(uint32(off.AsI32()))
		if base+uint64(len(seg.Init)) > uint64(inst.mem.Len()) {
			return &Trap{Kind: TrapOutOfBoundsMemory,
				Detail: fmt.Sprintf("data segment %d: offset %d length %d memory size %d",
					i, base, len(seg.Init), inst.mem.Len())}
		}
		copy(inst.mem.data[base:], seg.Init)
	}
	return nil
}

// Module returns the instance's read-only module.
func (inst *Instance) Module() *wasm.Module { return inst.module }

// Memory returns the instance's linear memory.
func (inst *Instance) Memory() *Memory { return inst.mem }

// Global returns the current value of a global by index.
func (inst *Instance) Global(idx uint32) (Value, bool) {
	if int(idx) >= len(inst.globals) {
		return Value{}, false
	}
	return inst.globals[idx], true
}

// FuncSig returns the signature of a function by index.
func (inst *Instance) FuncSig(idx uint32) (*wasm.FuncType, bool) {
	if int(idx) >= len(inst.funcs) {
		return nil, false
	}
	return inst.funcs[idx].sig, true
}

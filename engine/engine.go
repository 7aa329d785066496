package engine

import (
	"context"
	goerrors "errors"
	"fmt"
	"math"
	"math/bits"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// NoBudget runs an invocation without step counting.
const NoBudget int64 = -1

// maxCallDepth bounds the explicit frame stack; exceeding it raises
// a StackExhausted trap instead of growing without limit.
const maxCallDepth = 1024

// Outcome is the result of an invocation that did not trap: either a
// completed call with its result values, or a suspended one carrying
// the continuation to resume it.
type Outcome struct {
	Values []Value
	Cont   *Continuation
}

// Suspended reports whether the invocation paused instead of
// completing.
func (o Outcome) Suspended() bool { return o.Cont != nil }

// errYielded propagates a host yield out of the dispatch loop.
var errYielded = goerrors.New("yielded")

// trapPanic carries a trap out of deeply nested stack helpers; it is
// recovered at the top of the dispatch loop and never escapes the
// package.
type trapPanic struct {
	t *Trap
}

// execState is the full mutable state of one invocation: the shared
// operand stack, the explicit frame stack, and the remaining step
// budget. Nothing lives on the Go call stack between instructions,
// which is what makes the state capturable at any boundary.
type execState struct {
	inst    *Instance
	stack   []Value
	frames  []frame
	budget  int64
	pending int
}

// Call runs a function by index with a step budget (NoBudget for
// unlimited). Arguments are validated against the signature up front;
// bad arguments are API errors, not traps.
func (inst *Instance) Call(ctx context.Context, funcIdx uint32, args []Value, budget int64) (Outcome, error) {
	if int(funcIdx) >= len(inst.funcs) {
		return Outcome{}, errors.NotFound(errors.PhaseRuntime, "function", fmt.Sprintf("%d", funcIdx))
	}
	sig := inst.funcs[funcIdx].sig
	if err := checkArgs(sig.Params, args); err != nil {
		return Outcome{}, err
	}
	s := &execState{inst: inst, budget: budget}
	s.stack = append(s.stack, args...)
	return s.enter(ctx, funcIdx)
}

func checkArgs(params []wasm.ValType, args []Value) error {
	if len(args) != len(params) {
		return errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("expected %d arguments, got %d", len(params), len(args)))
	}
	for i, p := range params {
		if args[i].Type() != p {
			return errors.TypeMismatch(errors.PhaseRuntime,
				[]string{"arg", fmt.Sprintf("%d", i)}, p.String(), args[i].Type().String())
		}
	}
	return nil
}

// enter pushes the initial call then runs the dispatch loop,
// converting a yield from a directly invoked host function into a
// suspension the same way as one from inside wasm code.
func (s *execState) enter(ctx context.Context, funcIdx uint32) (out Outcome, err error) {
	defer s.recoverTrap(&out, &err)
	if err := s.pushCall(ctx, funcIdx); err != nil {
		if goerrors.Is(err, errYielded) {
			return s.suspend()
		}
		return Outcome{}, err
	}
	return s.run(ctx)
}

func (s *execState) recoverTrap(out *Outcome, err *error) {
	r := recover()
	if r == nil {
		return
	}
	tp, ok := r.(trapPanic)
	if !ok {
		panic(r)
	}
	t := tp.t
	if t.FuncIdx == 0 && t.PC == 0 && len(s.frames) > 0 {
		f := &s.frames[len(s.frames)-1]
		t.FuncIdx, t.PC = f.fn, f.pc
	}
	*out, *err = Outcome{}, t
}

// run is the interpreter loop: fetch the instruction at the top
// frame's program counter, dispatch, repeat until the outermost frame
// returns, a trap unwinds, or the step budget runs out. Suspension
// can happen after any instruction boundary.
func (s *execState) run(ctx context.Context) (out Outcome, err error) {
	defer s.recoverTrap(&out, &err)
	for {
		if len(s.frames) == 0 {
			return Outcome{Values: s.stack}, nil
		}
		f := &s.frames[len(s.frames)-1]
		code := s.inst.funcs[f.fn].code.Code
		if f.pc >= len(code) {
			s.popFrame()
			continue
		}
		if s.budget == 0 {
			return s.suspend()
		}
		if err := s.step(ctx, f, &code[f.pc]); err != nil {
			if goerrors.Is(err, errYielded) {
				return s.suspend()
			}
			return Outcome{}, err
		}
		if s.budget > 0 {
			s.budget--
		}
	}
}

func (s *execState) suspend() (Outcome, error) {
	cont := &Continuation{
		inst:    s.inst,
		frames:  s.frames,
		stack:   s.stack,
		pending: s.pending,
	}
	s.inst.log.Debug("invocation suspended",
		zap.Int("frames", len(cont.frames)),
		zap.Int("stack", len(cont.stack)),
		zap.Int("pending", cont.pending))
	return Outcome{Cont: cont}, nil
}

// throw raises a trap; the location is filled in by recoverTrap.
func (s *execState) throw(kind TrapKind, format string, args ...any) {
	panic(trapPanic{&Trap{Kind: kind, Detail: fmt.Sprintf(format, args...)}})
}

// Stack helpers. Underflow and operand type mismatches are the
// deferred type errors the structural-only decoder lets through; they
// trap deterministically instead of corrupting state.

func (s *execState) push(v Value) { s.stack = append(s.stack, v) }

func (s *execState) pop() Value {
	if len(s.stack) == 0 {
		panic(trapPanic{&Trap{Kind: TrapStackUnderflow}})
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v
}

func (s *execState) popAs(t wasm.ValType) Value {
	v := s.pop()
	if v.typ != t {
		s.throw(TrapTypeMismatch, "expected %s, got %s", t, v.typ)
	}
	return v
}

func (s *execState) popI32() int32   { return s.popAs(wasm.ValI32).AsI32() }
func (s *execState) popU32() uint32  { return uint32(s.popAs(wasm.ValI32).bits) }
func (s *execState) popI64() int64   { return s.popAs(wasm.ValI64).AsI64() }
func (s *execState) popU64() uint64  { return s.popAs(wasm.ValI64).bits }
func (s *execState) popF32() float32 { return s.popAs(wasm.ValF32).AsF32() }
func (s *execState) popF64() float64 { return s.popAs(wasm.ValF64).AsF64() }

func (s *execState) pushI32(v int32)   { s.push(I32(v)) }
func (s *execState) pushU32(v uint32)  { s.push(I32(int32(v))) }
func (s *execState) pushI64(v int64)   { s.push(I64(v)) }
func (s *execState) pushU64(v uint64)  { s.push(I64(int64(v))) }
func (s *execState) pushF32(v float32) { s.push(F32(v)) }
func (s *execState) pushF64(v float64) { s.push(F64(v)) }

func (s *execState) pushBool(b bool) {
	if b {
		s.pushI32(1)
	} else {
		s.pushI32(0)
	}
}

// popArgs removes the top n values (typed against params) and returns
// them in argument order.
func (s *execState) popArgs(params []wasm.ValType) []Value {
	n := len(params)
	if len(s.stack) < n {
		panic(trapPanic{&Trap{Kind: TrapStackUnderflow}})
	}
	args := make([]Value, n)
	copy(args, s.stack[len(s.stack)-n:])
	s.stack = s.stack[:len(s.stack)-n]
	for i, p := range params {
		if args[i].Type() != p {
			s.throw(TrapTypeMismatch, "argument %d: expected %s, got %s", i, p, args[i].Type())
		}
	}
	return args
}

// pushCall transfers control into a function. Host functions run to
// completion (or yield) inline; wasm functions get a new frame with
// the arguments as the leading locals and the function-body sentinel
// label at target one past the final end.
func (s *execState) pushCall(ctx context.Context, idx uint32) error {
	e := &s.inst.funcs[idx]
	if e.host != nil {
		return s.callHost(ctx, idx, e)
	}
	if len(s.frames) >= maxCallDepth {
		s.throw(TrapStackExhausted, "call depth %d", len(s.frames))
	}
	locals := s.popArgs(e.sig.Params)
	for _, lt := range e.code.Locals {
		locals = append(locals, zeroValue(lt))
	}
	fr := frame{
		fn:     idx,
		locals: locals,
		base:   len(s.stack),
		arity:  len(e.sig.Results),
	}
	fr.labels = append(fr.labels, label{
		kind:   labelFunc,
		height: fr.base,
		arity:  fr.arity,
		target: len(e.code.Code),
	})
	s.frames = append(s.frames, fr)
	return nil
}

func (s *execState) callHost(ctx context.Context, idx uint32, e *funcEntry) error {
	args := s.popArgs(e.sig.Params)
	res, err := e.host.Fn(ctx, s.inst, args)
	if err != nil {
		if goerrors.Is(err, ErrYield) {
			s.pending = len(e.sig.Results)
			return errYielded
		}
		panic(trapPanic{&Trap{Kind: TrapHostError, Cause: err, FuncIdx: idx}})
	}
	if len(res) != len(e.sig.Results) {
		s.throw(TrapHostError, "host function %d returned %d values, signature declares %d",
			idx, len(res), len(e.sig.Results))
	}
	for i, r := range e.sig.Results {
		if res[i].Type() != r {
			s.throw(TrapHostError, "host function %d result %d: expected %s, got %s",
				idx, i, r, res[i].Type())
		}
	}
	s.stack = append(s.stack, res...)
	return nil
}

// popFrame moves the top frame's arity result values down to its
// entry height and discards the frame.
func (s *execState) popFrame() {
	f := &s.frames[len(s.frames)-1]
	n := f.arity
	if len(s.stack) < f.base+n {
		panic(trapPanic{&Trap{Kind: TrapStackUnderflow, FuncIdx: f.fn, PC: f.pc}})
	}
	s.stack = append(s.stack[:f.base], s.stack[len(s.stack)-n:]...)
	s.frames = s.frames[:len(s.frames)-1]
}

// branch transfers to the label at the given relative depth: truncate
// the operand stack to the label's entry height keeping its arity
// worth of top values, pop labels down to it (a loop label survives,
// everything else is discarded), and jump to its target.
func (s *execState) branch(f *frame, depth uint32) {
	idx := len(f.labels) - 1 - int(depth)
	if idx < 0 {
		s.throw(TrapStackUnderflow, "branch depth %d exceeds label stack", depth)
	}
	l := f.labels[idx]
	if len(s.stack) < l.height+l.arity {
		panic(trapPanic{&Trap{Kind: TrapStackUnderflow}})
	}
	s.stack = append(s.stack[:l.height], s.stack[len(s.stack)-l.arity:]...)
	if l.kind == labelLoop {
		f.labels = f.labels[:idx+1]
	} else {
		f.labels = f.labels[:idx]
	}
	f.pc = l.target
}

func (s *execState) pushLabel(f *frame, kind labelKind, in *wasm.Instr) {
	params, results := s.inst.module.BlockSig(in.BlockType)
	height := len(s.stack) - len(params)
	if height < f.base {
		panic(trapPanic{&Trap{Kind: TrapStackUnderflow}})
	}
	arity := len(results)
	if kind == labelLoop {
		// a backward branch re-enters the body with the block params
		arity = len(params)
	}
	f.labels = append(f.labels, label{kind: kind, height: height, arity: arity, target: in.Target})
}

// memAddr pops the base address, applies the static offset in 64-bit
// space, and bounds-checks the full access width.
func (s *execState) memAddr(in *wasm.Instr, width int) uint64 {
	ea := uint64(s.popU32()) + uint64(in.Offset)
	if !s.inst.mem.inBounds(ea, width) {
		s.throw(TrapOutOfBoundsMemory, "%s: address %d width %d memory size %d",
			wasm.OpcodeName(in.Op), ea, width, s.inst.mem.Len())
	}
	return ea
}

// step executes the single instruction in. Control instructions set
// the program counter themselves and return; everything else falls
// through to the increment at the bottom.
func (s *execState) step(ctx context.Context, f *frame, in *wasm.Instr) error {
	mem := s.inst.mem
	switch in.Op {

	// control
	case wasm.OpUnreachable:
		s.throw(TrapUnreachable, "unreachable executed")
	case wasm.OpNop:
	case wasm.OpBlock:
		s.pushLabel(f, labelBlock, in)
	case wasm.OpLoop:
		s.pushLabel(f, labelLoop, in)
	case wasm.OpIf:
		cond := s.popI32()
		s.pushLabel(f, labelIf, in)
		if cond == 0 {
			f.pc = in.Else
			return nil
		}
	case wasm.OpElse:
		// reached only by falling off the then arm: skip to end
		f.pc = in.Target
		return nil
	case wasm.OpEnd:
		if len(f.labels) == 0 {
			s.throw(TrapStackUnderflow, "end without label")
		}
		f.labels = f.labels[:len(f.labels)-1]
	case wasm.OpBr:
		s.branch(f, in.Idx)
		return nil
	case wasm.OpBrIf:
		if s.popI32() != 0 {
			s.branch(f, in.Idx)
			return nil
		}
	case wasm.OpBrTable:
		sel := uint64(s.popU32())
		depth := in.Idx // default
		if sel < uint64(len(in.Depths)) {
			depth = in.Depths[sel]
		}
		s.branch(f, depth)
		return nil
	case wasm.OpReturn:
		s.branch(f, uint32(len(f.labels)-1))
		return nil
	case wasm.OpCall:
		f.pc++
		return s.pushCall(ctx, in.Idx)
	case wasm.OpCallIndirect:
		elem := uint64(s.popU32())
		table := s.inst.tables[in.TableIdx]
		if elem >= uint64(len(table)) {
			s.throw(TrapUndefinedElement, "table index %d size %d", elem, len(table))
		}
		cell := table[elem]
		if cell.IsNull() {
			s.throw(TrapNullFuncref, "table index %d", elem)
		}
		fidx := cell.AsFuncIdx()
		want := &s.inst.module.Types[in.Idx]
		got := s.inst.funcs[fidx].sig
		if !got.Equal(*want) {
			s.throw(TrapIndirectCallMismatch, "expected %s, function %d has %s", want, fidx, got)
		}
		f.pc++
		return s.pushCall(ctx, fidx)

	// reference
	case wasm.OpRefNull:
		s.push(NullRef(wasm.ValType(in.Idx)))
	case wasm.OpRefIsNull:
		v := s.pop()
		if !v.Type().IsRef() {
			s.throw(TrapTypeMismatch, "ref.is_null on %s", v.Type())
		}
		s.pushBool(v.IsNull())
	case wasm.OpRefFunc:
		s.push(FuncRef(in.Idx))

	// parametric
	case wasm.OpDrop:
		s.pop()
	case wasm.OpSelect, wasm.OpSelectType:
		cond := s.popI32()
		v2, v1 := s.pop(), s.pop()
		if cond != 0 {
			s.push(v1)
		} else {
			s.push(v2)
		}

	// variable
	case wasm.OpLocalGet:
		s.push(f.locals[in.Idx])
	case wasm.OpLocalSet:
		f.locals[in.Idx] = s.popAs(f.locals[in.Idx].typ)
	case wasm.OpLocalTee:
		v := s.popAs(f.locals[in.Idx].typ)
		f.locals[in.Idx] = v
		s.push(v)
	case wasm.OpGlobalGet:
		s.push(s.inst.globals[in.Idx])
	case wasm.OpGlobalSet:
		s.inst.globals[in.Idx] = s.popAs(s.inst.globals[in.Idx].typ)

	// table
	case wasm.OpTableGet:
		table := s.inst.tables[in.Idx]
		i := uint64(s.popU32())
		if i >= uint64(len(table)) {
			s.throw(TrapOutOfBoundsTable, "table.get index %d size %d", i, len(table))
		}
		s.push(table[i])
	case wasm.OpTableSet:
		table := s.inst.tables[in.Idx]
		v := s.pop()
		if !v.Type().IsRef() {
			s.throw(TrapTypeMismatch, "table.set with %s", v.Type())
		}
		i := uint64(s.popU32())
		if i >= uint64(len(table)) {
			s.throw(TrapOutOfBoundsTable, "table.set index %d size %d", i, len(table))
		}
		table[i] = v

	// memory
	case wasm.OpI32Load:
		s.pushU32(mem.load32(s.memAddr(in, 4)))
	case wasm.OpI64Load:
		s.pushU64(mem.load64(s.memAddr(in, 8)))
	case wasm.OpF32Load:
		s.push(Value{typ: wasm.ValF32, bits: uint64(mem.load32(s.memAddr(in, 4)))})
	case wasm.OpF64Load:
		s.push(Value{typ: wasm.ValF64, bits: mem.load64(s.memAddr(in, 8))})
	case wasm.OpI32Load8S:
		s.pushI32(int32(int8(mem.load8(s.memAddr(in, 1)))))
	case wasm.OpI32Load8U:
		s.pushU32(uint32(mem.load8(s.memAddr(in, 1))))
	case wasm.OpI32Load16S:
		s.pushI32(int32(int16(mem.load16(s.memAddr(in, 2)))))
	case wasm.OpI32Load16U:
		s.pushU32(uint32(mem.load16(s.memAddr(in, 2))))
	case wasm.OpI64Load8S:
		s.pushI64(int64(int8(mem.load8(s.memAddr(in, 1)))))
	case wasm.OpI64Load8U:
		s.pushU64(uint64(mem.load8(s.memAddr(in, 1))))
	case wasm.OpI64Load16S:
		s.pushI64(int64(int16(mem.load16(s.memAddr(in, 2)))))
	case wasm.OpI64Load16U:
		s.pushU64(uint64(mem.load16(s.memAddr(in, 2))))
	case wasm.OpI64Load32S:
		s.pushI64(int64(int32(mem.load32(s.memAddr(in, 4)))))
	case wasm.OpI64Load32U:
		s.pushU64(uint64(mem.load32(s.memAddr(in, 4))))
	case wasm.OpI32Store:
		v := s.popU32()
		mem.store32(s.memAddr(in, 4), v)
	case wasm.OpI64Store:
		v := s.popU64()
		mem.store64(s.memAddr(in, 8), v)
	case wasm.OpF32Store:
		v := s.popAs(wasm.ValF32)
		mem.store32(s.memAddr(in, 4), uint32(v.bits))
	case wasm.OpF64Store:
		v := s.popAs(wasm.ValF64)
		mem.store64(s.memAddr(in, 8), v.bits)
	case wasm.OpI32Store8:
		v := s.popU32()
		mem.store8(s.memAddr(in, 1), uint8(v))
	case wasm.OpI32Store16:
		v := s.popU32()
		mem.store16(s.memAddr(in, 2), uint16(v))
	case wasm.OpI64Store8:
		v := s.popU64()
		mem.store8(s.memAddr(in, 1), uint8(v))
	case wasm.OpI64Store16:
		v := s.popU64()
		mem.store16(s.memAddr(in, 2), uint16(v))
	case wasm.OpI64Store32:
		v := s.popU64()
		mem.store32(s.memAddr(in, 4), uint32(v))
	case wasm.OpMemorySize:
		s.pushU32(mem.Pages())
	case wasm.OpMemoryGrow:
		// memory is fixed for the lifetime of the instance
		s.popU32()
		s.pushI32(-1)

	// constants
	case wasm.OpI32Const:
		s.push(Value{typ: wasm.ValI32, bits: in.Const})
	case wasm.OpI64Const:
		s.push(Value{typ: wasm.ValI64, bits: in.Const})
	case wasm.OpF32Const:
		s.push(Value{typ: wasm.ValF32, bits: in.Const})
	case wasm.OpF64Const:
		s.push(Value{typ: wasm.ValF64, bits: in.Const})

	case wasm.OpPrefixMisc:
		s.stepMisc(in)

	default:
		if !s.stepNumeric(in.Op) {
			s.throw(TrapUnreachable, "no handler for %s", wasm.OpcodeName(in.Op))
		}
	}
	f.pc++
	return nil
}

// stepMisc handles the 0xFC-prefixed saturating truncations.
func (s *execState) stepMisc(in *wasm.Instr) {
	switch in.Misc {
	case wasm.MiscI32TruncSatF32S:
		s.pushI32(truncSatI32S(float64(s.popF32())))
	case wasm.MiscI32TruncSatF32U:
		s.pushU32(truncSatI32U(float64(s.popF32())))
	case wasm.MiscI32TruncSatF64S:
		s.pushI32(truncSatI32S(s.popF64()))
	case wasm.MiscI32TruncSatF64U:
		s.pushU32(truncSatI32U(s.popF64()))
	case wasm.MiscI64TruncSatF32S:
		s.pushI64(truncSatI64S(float64(s.popF32())))
	case wasm.MiscI64TruncSatF32U:
		s.pushU64(truncSatI64U(float64(s.popF32())))
	case wasm.MiscI64TruncSatF64S:
		s.pushI64(truncSatI64S(s.popF64()))
	case wasm.MiscI64TruncSatF64U:
		s.pushU64(truncSatI64U(s.popF64()))
	default:
		s.throw(TrapUnreachable, "no handler for misc opcode %d", in.Misc)
	}
}

// trapTrunc raises the trap for a failed float-to-int truncation.
func (s *execState) trapTrunc(kind TrapKind, op byte) {
	s.throw(kind, "%s", wasm.OpcodeName(op))
}

// stepNumeric dispatches the plain numeric, comparison, and
// conversion opcodes. Returns false for an opcode it does not know.
func (s *execState) stepNumeric(op byte) bool {
	switch op {

	// i32 comparisons
	case wasm.OpI32Eqz:
		s.pushBool(s.popI32() == 0)
	case wasm.OpI32Eq:
		b, a := s.popI32(), s.popI32()
		s.pushBool(a == b)
	case wasm.OpI32Ne:
		b, a := s.popI32(), s.popI32()
		s.pushBool(a != b)
	case wasm.OpI32LtS:
		b, a := s.popI32(), s.popI32()
		s.pushBool(a < b)
	case wasm.OpI32LtU:
		b, a := s.popU32(), s.popU32()
		s.pushBool(a < b)
	case wasm.OpI32GtS:
		b, a := s.popI32(), s.popI32()
		s.pushBool(a > b)
	case wasm.OpI32GtU:
		b, a := s.popU32(), s.popU32()
		s.pushBool(a > b)
	case wasm.OpI32LeS:
		b, a := s.popI32(), s.popI32()
		s.pushBool(a <= b)
	case wasm.OpI32LeU:
		b, a := s.popU32(), s.popU32()
		s.pushBool(a <= b)
	case wasm.OpI32GeS:
		b, a := s.popI32(), s.popI32()
		s.pushBool(a >= b)
	case wasm.OpI32GeU:
		b, a := s.popU32(), s.popU32()
		s.pushBool(a >= b)

	// i64 comparisons
	case wasm.OpI64Eqz:
		s.pushBool(s.popI64() == 0)
	case wasm.OpI64Eq:
		b, a := s.popI64(), s.popI64()
		s.pushBool(a == b)
	case wasm.OpI64Ne:
		b, a := s.popI64(), s.popI64()
		s.pushBool(a != b)
	case wasm.OpI64LtS:
		b, a := s.popI64(), s.popI64()
		s.pushBool(a < b)
	case wasm.OpI64LtU:
		b, a := s.popU64(), s.popU64()
		s.pushBool(a < b)
	case wasm.OpI64GtS:
		b, a := s.popI64(), s.popI64()
		s.pushBool(a > b)
	case wasm.OpI64GtU:
		b, a := s.popU64(), s.popU64()
		s.pushBool(a > b)
	case wasm.OpI64LeS:
		b, a := s.popI64(), s.popI64()
		s.pushBool(a <= b)
	case wasm.OpI64LeU:
		b, a := s.popU64(), s.popU64()
		s.pushBool(a <= b)
	case wasm.OpI64GeS:
		b, a := s.popI64(), s.popI64()
		s.pushBool(a >= b)
	case wasm.OpI64GeU:
		b, a := s.popU64(), s.popU64()
		s.pushBool(a >= b)

	// f32 comparisons
	case wasm.OpF32Eq:
		b, a := s.popF32(), s.popF32()
		s.pushBool(a == b)
	case wasm.OpF32Ne:
		b, a := s.popF32(), s.popF32()
		s.pushBool(a != b)
	case wasm.OpF32Lt:
		b, a := s.popF32(), s.popF32()
		s.pushBool(a < b)
	case wasm.OpF32Gt:
		b, a := s.popF32(), s.popF32()
		s.pushBool(a > b)
	case wasm.OpF32Le:
		b, a := s.popF32(), s.popF32()
		s.pushBool(a <= b)
	case wasm.OpF32Ge:
		b, a := s.popF32(), s.popF32()
		s.pushBool(a >= b)

	// f64 comparisons
	case wasm.OpF64Eq:
		b, a := s.popF64(), s.popF64()
		s.pushBool(a == b)
	case wasm.OpF64Ne:
		b, a := s.popF64(), s.popF64()
		s.pushBool(a != b)
	case wasm.OpF64Lt:
		b, a := s.popF64(), s.popF64()
		s.pushBool(a < b)
	case wasm.OpF64Gt:
		b, a := s.popF64(), s.popF64()
		s.pushBool(a > b)
	case wasm.OpF64Le:
		b, a := s.popF64(), s.popF64()
		s.pushBool(a <= b)
	case wasm.OpF64Ge:
		b, a := s.popF64(), s.popF64()
		s.pushBool(a >= b)

	// i32 arithmetic
	case wasm.OpI32Clz:
		s.pushI32(int32(bits.LeadingZeros32(s.popU32())))
	case wasm.OpI32Ctz:
		s.pushI32(int32(bits.TrailingZeros32(s.popU32())))
	case wasm.OpI32Popcnt:
		s.pushI32(int32(bits.OnesCount32(s.popU32())))
	case wasm.OpI32Add:
		b, a := s.popI32(), s.popI32()
		s.pushI32(a + b)
	case wasm.OpI32Sub:
		b, a := s.popI32(), s.popI32()
		s.pushI32(a - b)
	case wasm.OpI32Mul:
		b, a := s.popI32(), s.popI32()
		s.pushI32(a * b)
	case wasm.OpI32DivS:
		b, a := s.popI32(), s.popI32()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i32.div_s")
		}
		if a == math.MinInt32 && b == -1 {
			s.throw(TrapIntegerOverflow, "i32.div_s")
		}
		s.pushI32(a / b)
	case wasm.OpI32DivU:
		b, a := s.popU32(), s.popU32()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i32.div_u")
		}
		s.pushU32(a / b)
	case wasm.OpI32RemS:
		b, a := s.popI32(), s.popI32()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i32.rem_s")
		}
		if a == math.MinInt32 && b == -1 {
			s.pushI32(0)
		} else {
			s.pushI32(a % b)
		}
	case wasm.OpI32RemU:
		b, a := s.popU32(), s.popU32()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i32.rem_u")
		}
		s.pushU32(a % b)
	case wasm.OpI32And:
		b, a := s.popU32(), s.popU32()
		s.pushU32(a & b)
	case wasm.OpI32Or:
		b, a := s.popU32(), s.popU32()
		s.pushU32(a | b)
	case wasm.OpI32Xor:
		b, a := s.popU32(), s.popU32()
		s.pushU32(a ^ b)
	case wasm.OpI32Shl:
		b, a := s.popU32(), s.popU32()
		s.pushU32(a << (b & 31))
	case wasm.OpI32ShrS:
		b, a := s.popU32(), s.popI32()
		s.pushI32(a >> (b & 31))
	case wasm.OpI32ShrU:
		b, a := s.popU32(), s.popU32()
		s.pushU32(a >> (b & 31))
	case wasm.OpI32Rotl:
		b, a := s.popU32(), s.popU32()
		s.pushU32(bits.RotateLeft32(a, int(b&31)))
	case wasm.OpI32Rotr:
		b, a := s.popU32(), s.popU32()
		s.pushU32(bits.RotateLeft32(a, -int(b&31)))

	// i64 arithmetic
	case wasm.OpI64Clz:
		s.pushI64(int64(bits.LeadingZeros64(s.popU64())))
	case wasm.OpI64Ctz:
		s.pushI64(int64(bits.TrailingZeros64(s.popU64())))
	case wasm.OpI64Popcnt:
		s.pushI64(int64(bits.OnesCount64(s.popU64())))
	case wasm.OpI64Add:
		b, a := s.popI64(), s.popI64()
		s.pushI64(a + b)
	case wasm.OpI64Sub:
		b, a := s.popI64(), s.popI64()
		s.pushI64(a - b)
	case wasm.OpI64Mul:
		b, a := s.popI64(), s.popI64()
		s.pushI64(a * b)
	case wasm.OpI64DivS:
		b, a := s.popI64(), s.popI64()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i64.div_s")
		}
		if a == math.MinInt64 && b == -1 {
			s.throw(TrapIntegerOverflow, "i64.div_s")
		}
		s.pushI64(a / b)
	case wasm.OpI64DivU:
		b, a := s.popU64(), s.popU64()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i64.div_u")
		}
		s.pushU64(a / b)
	case wasm.OpI64RemS:
		b, a := s.popI64(), s.popI64()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i64.rem_s")
		}
		if a == math.MinInt64 && b == -1 {
			s.pushI64(0)
		} else {
			s.pushI64(a % b)
		}
	case wasm.OpI64RemU:
		b, a := s.popU64(), s.popU64()
		if b == 0 {
			s.throw(TrapIntegerDivideByZero, "i64.rem_u")
		}
		s.pushU64(a % b)
	case wasm.OpI64And:
		b, a := s.popU64(), s.popU64()
		s.pushU64(a & b)
	case wasm.OpI64Or:
		b, a := s.popU64(), s.popU64()
		s.pushU64(a | b)
	case wasm.OpI64Xor:
		b, a := s.popU64(), s.popU64()
		s.pushU64(a ^ b)
	case wasm.OpI64Shl:
		b, a := s.popU64(), s.popU64()
		s.pushU64(a << (b & 63))
	case wasm.OpI64ShrS:
		b, a := s.popU64(), s.popI64()
		s.pushI64(a >> (b & 63))
	case wasm.OpI64ShrU:
		b, a := s.popU64(), s.popU64()
		s.pushU64(a >> (b & 63))
	case wasm.OpI64Rotl:
		b, a := s.popU64(), s.popU64()
		s.pushU64(bits.RotateLeft64(a, int(b&63)))
	case wasm.OpI64Rotr:
		b, a := s.popU64(), s.popU64()
		s.pushU64(bits.RotateLeft64(a, -int(b&63)))

	// f32 arithmetic
	case wasm.OpF32Abs:
		s.pushF32(float32(math.Abs(float64(s.popF32()))))
	case wasm.OpF32Neg:
		v := s.popAs(wasm.ValF32)
		s.push(Value{typ: wasm.ValF32, bits: v.bits ^ 0x80000000})
	case wasm.OpF32Ceil:
		s.pushF32(canonF32(float32(math.Ceil(float64(s.popF32())))))
	case wasm.OpF32Floor:
		s.pushF32(canonF32(float32(math.Floor(float64(s.popF32())))))
	case wasm.OpF32Trunc:
		s.pushF32(canonF32(float32(math.Trunc(float64(s.popF32())))))
	case wasm.OpF32Nearest:
		s.pushF32(canonF32(float32(math.RoundToEven(float64(s.popF32())))))
	case wasm.OpF32Sqrt:
		s.pushF32(canonF32(float32(math.Sqrt(float64(s.popF32())))))
	case wasm.OpF32Add:
		b, a := s.popF32(), s.popF32()
		s.pushF32(canonF32(a + b))
	case wasm.OpF32Sub:
		b, a := s.popF32(), s.popF32()
		s.pushF32(canonF32(a - b))
	case wasm.OpF32Mul:
		b, a := s.popF32(), s.popF32()
		s.pushF32(canonF32(a * b))
	case wasm.OpF32Div:
		b, a := s.popF32(), s.popF32()
		s.pushF32(canonF32(a / b))
	case wasm.OpF32Min:
		b, a := s.popF32(), s.popF32()
		s.pushF32(fmin32(a, b))
	case wasm.OpF32Max:
		b, a := s.popF32(), s.popF32()
		s.pushF32(fmax32(a, b))
	case wasm.OpF32Copysign:
		b, a := s.popAs(wasm.ValF32), s.popAs(wasm.ValF32)
		s.push(Value{typ: wasm.ValF32, bits: (a.bits &^ 0x80000000) | (b.bits & 0x80000000)})

	// f64 arithmetic
	case wasm.OpF64Abs:
		s.pushF64(math.Abs(s.popF64()))
	case wasm.OpF64Neg:
		v := s.popAs(wasm.ValF64)
		s.push(Value{typ: wasm.ValF64, bits: v.bits ^ (1 << 63)})
	case wasm.OpF64Ceil:
		s.pushF64(canonF64(math.Ceil(s.popF64())))
	case wasm.OpF64Floor:
		s.pushF64(canonF64(math.Floor(s.popF64())))
	case wasm.OpF64Trunc:
		s.pushF64(canonF64(math.Trunc(s.popF64())))
	case wasm.OpF64Nearest:
		s.pushF64(canonF64(math.RoundToEven(s.popF64())))
	case wasm.OpF64Sqrt:
		s.pushF64(canonF64(math.Sqrt(s.popF64())))
	case wasm.OpF64Add:
		b, a := s.popF64(), s.popF64()
		s.pushF64(canonF64(a + b))
	case wasm.OpF64Sub:
		b, a := s.popF64(), s.popF64()
		s.pushF64(canonF64(a - b))
	case wasm.OpF64Mul:
		b, a := s.popF64(), s.popF64()
		s.pushF64(canonF64(a * b))
	case wasm.OpF64Div:
		b, a := s.popF64(), s.popF64()
		s.pushF64(canonF64(a / b))
	case wasm.OpF64Min:
		b, a := s.popF64(), s.popF64()
		s.pushF64(fmin64(a, b))
	case wasm.OpF64Max:
		b, a := s.popF64(), s.popF64()
		s.pushF64(fmax64(a, b))
	case wasm.OpF64Copysign:
		b, a := s.popAs(wasm.ValF64), s.popAs(wasm.ValF64)
		s.push(Value{typ: wasm.ValF64, bits: (a.bits &^ (1 << 63)) | (b.bits & (1 << 63))})

	// conversions
	case wasm.OpI32WrapI64:
		s.pushI32(int32(s.popI64()))
	case wasm.OpI32TruncF32S:
		v, k := truncI32S(float64(s.popF32()))
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushI32(v)
	case wasm.OpI32TruncF32U:
		v, k := truncI32U(float64(s.popF32()))
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushU32(v)
	case wasm.OpI32TruncF64S:
		v, k := truncI32S(s.popF64())
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushI32(v)
	case wasm.OpI32TruncF64U:
		v, k := truncI32U(s.popF64())
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushU32(v)
	case wasm.OpI64ExtendI32S:
		s.pushI64(int64(s.popI32()))
	case wasm.OpI64ExtendI32U:
		s.pushU64(uint64(s.popU32()))
	case wasm.OpI64TruncF32S:
		v, k := truncI64S(float64(s.popF32()))
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushI64(v)
	case wasm.OpI64TruncF32U:
		v, k := truncI64U(float64(s.popF32()))
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushU64(v)
	case wasm.OpI64TruncF64S:
		v, k := truncI64S(s.popF64())
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushI64(v)
	case wasm.OpI64TruncF64U:
		v, k := truncI64U(s.popF64())
		if k != trapNone {
			s.trapTrunc(k, op)
		}
		s.pushU64(v)
	case wasm.OpF32ConvertI32S:
		s.pushF32(float32(s.popI32()))
	case wasm.OpF32ConvertI32U:
		s.pushF32(float32(s.popU32()))
	case wasm.OpF32ConvertI64S:
		s.pushF32(float32(s.popI64()))
	case wasm.OpF32ConvertI64U:
		s.pushF32(float32(s.popU64()))
	case wasm.OpF32DemoteF64:
		s.pushF32(canonF32(float32(s.popF64())))
	case wasm.OpF64ConvertI32S:
		s.pushF64(float64(s.popI32()))
	case wasm.OpF64ConvertI32U:
		s.pushF64(float64(s.popU32()))
	case wasm.OpF64ConvertI64S:
		s.pushF64(float64(s.popI64()))
	case wasm.OpF64ConvertI64U:
		s.pushF64(float64(s.popU64()))
	case wasm.OpF64PromoteF32:
		s.pushF64(canonF64(float64(s.popF32())))
	case wasm.OpI32ReinterpretF32:
		v := s.popAs(wasm.ValF32)
		s.push(Value{typ: wasm.ValI32, bits: v.bits})
	case wasm.OpI64ReinterpretF64:
		v := s.popAs(wasm.ValF64)
		s.push(Value{typ: wasm.ValI64, bits: v.bits})
	case wasm.OpF32ReinterpretI32:
		v := s.popAs(wasm.ValI32)
		s.push(Value{typ: wasm.ValF32, bits: v.bits})
	case wasm.OpF64ReinterpretI64:
		v := s.popAs(wasm.ValI64)
		s.push(Value{typ: wasm.ValF64, bits: v.bits})

	// sign extension
	case wasm.OpI32Extend8S:
		s.pushI32(int32(int8(s.popI32())))
	case wasm.OpI32Extend16S:
		s.pushI32(int32(int16(s.popI32())))
	case wasm.OpI64Extend8S:
		s.pushI64(int64(int8(s.popI64())))
	case wasm.OpI64Extend16S:
		s.pushI64(int64(int16(s.popI64())))
	case wasm.OpI64Extend32S:
		s.pushI64(int64(int32(s.popI64())))

	default:
		return false
	}
	return true
}

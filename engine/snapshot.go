package engine

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// snapshotVersion is the continuation wire format version. Bump it on
// any layout change; old snapshots are rejected, never reinterpreted.
const snapshotVersion byte = 1

// Continuation is a suspended invocation: every frame on the call
// stack (locals, label stack, program counter) plus the shared operand
// stack and the result arity of a pending host call, if suspension
// came from a host yield. Resuming is observationally identical to
// never having suspended.
//
// A continuation is consumed by exactly one Resume. It can be
// serialized with MarshalBinary, transported or persisted, rebuilt
// with UnmarshalBinary, and reattached to an instance with Rebind.
// Discarding a continuation cancels the computation; the engine does
// no cleanup of host resources it may reference.
type Continuation struct {
	inst     *Instance
	frames   []frame
	stack    []Value
	pending  int
	consumed bool
}

// Pending returns the number of values a Resume call must inject:
// the result arity of the yielded host call, or zero when suspension
// came from a step budget.
func (c *Continuation) Pending() int { return c.pending }

// Bound reports whether the continuation is attached to an instance.
func (c *Continuation) Bound() bool { return c.inst != nil }

// Rebind attaches a deserialized continuation to an instance. The
// instance must be built from the same module the snapshot was taken
// against; function indices and program counters are validated, the
// rest is trusted the same way decoded code is.
func (c *Continuation) Rebind(inst *Instance) error {
	if c.inst != nil {
		return errors.InvalidInput(errors.PhaseRuntime, "continuation already bound")
	}
	for i := range c.frames {
		f := &c.frames[i]
		if int(f.fn) >= len(inst.funcs) || inst.funcs[f.fn].code == nil {
			return errors.InvalidInput(errors.PhaseRuntime,
				fmt.Sprintf("frame %d references function %d not in module", i, f.fn))
		}
		fn := &inst.funcs[f.fn]
		if f.pc > len(fn.code.Code) {
			return errors.InvalidInput(errors.PhaseRuntime,
				fmt.Sprintf("frame %d pc %d out of range", i, f.pc))
		}
		if want := len(fn.sig.Params) + len(fn.code.Locals); len(f.locals) != want {
			return errors.InvalidInput(errors.PhaseRuntime,
				fmt.Sprintf("frame %d carries %d locals, function %d declares %d",
					i, len(f.locals), f.fn, want))
		}
	}
	c.inst = inst
	return nil
}

// Resume re-enters the suspended invocation with a fresh step budget.
// injected must carry exactly Pending() values; they stand in for the
// yielded host call's results. A continuation resumes at most once.
func (c *Continuation) Resume(ctx context.Context, injected []Value, budget int64) (Outcome, error) {
	if c.inst == nil {
		return Outcome{}, errors.InvalidInput(errors.PhaseRuntime, "continuation not bound to an instance")
	}
	if c.consumed {
		return Outcome{}, errors.Consumed("continuation")
	}
	c.consumed = true
	if len(injected) != c.pending {
		return Outcome{}, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("expected %d injected values, got %d", c.pending, len(injected)))
	}
	s := &execState{
		inst:   c.inst,
		stack:  append(c.stack, injected...),
		frames: c.frames,
		budget: budget,
	}
	c.inst.log.Debug("resuming continuation",
		zap.Int("frames", len(s.frames)),
		zap.Int("injected", len(injected)))
	return s.run(ctx)
}

// MarshalBinary serializes the continuation: version byte, pending
// arity, the shared operand stack, then each frame bottom-up. Numbers
// and value payloads use unsigned LEB128; a value's raw 64-bit pattern
// round-trips exactly, so float bits survive untouched.
func (c *Continuation) MarshalBinary() ([]byte, error) {
	if c.consumed {
		return nil, errors.Consumed("continuation")
	}
	var buf bytes.Buffer
	buf.WriteByte(snapshotVersion)
	wasm.WriteLEB128u(&buf, uint32(c.pending))

	wasm.WriteLEB128u(&buf, uint32(len(c.stack)))
	for _, v := range c.stack {
		writeValue(&buf, v)
	}

	wasm.WriteLEB128u(&buf, uint32(len(c.frames)))
	for i := range c.frames {
		f := &c.frames[i]
		wasm.WriteLEB128u(&buf, f.fn)
		wasm.WriteLEB128u(&buf, uint32(f.pc))
		wasm.WriteLEB128u(&buf, uint32(f.base))
		wasm.WriteLEB128u(&buf, uint32(f.arity))
		wasm.WriteLEB128u(&buf, uint32(len(f.locals)))
		for _, v := range f.locals {
			writeValue(&buf, v)
		}
		wasm.WriteLEB128u(&buf, uint32(len(f.labels)))
		for _, l := range f.labels {
			buf.WriteByte(byte(l.kind))
			wasm.WriteLEB128u(&buf, uint32(l.arity))
			wasm.WriteLEB128u(&buf, uint32(l.height))
			wasm.WriteLEB128u(&buf, uint32(l.target))
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary rebuilds a continuation from its serialized form.
// The result is unbound; call Rebind before Resume.
func (c *Continuation) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	ver, err := r.ReadByte()
	if err != nil {
		return errors.InvalidData(errors.PhaseRuntime, []string{"continuation"}, "empty snapshot")
	}
	if ver != snapshotVersion {
		return errors.InvalidData(errors.PhaseRuntime, []string{"continuation"},
			fmt.Sprintf("snapshot version %d, supported %d", ver, snapshotVersion))
	}

	fail := func(what string, cause error) error {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Path("continuation", what).
			Cause(cause).
			Detail("truncated or corrupt snapshot").
			Build()
	}

	pending, err := wasm.ReadLEB128u(r)
	if err != nil {
		return fail("pending", err)
	}

	nstack, err := wasm.ReadLEB128u(r)
	if err != nil {
		return fail("stack", err)
	}
	stack := make([]Value, 0, nstack)
	for i := uint32(0); i < nstack; i++ {
		v, err := readValue(r)
		if err != nil {
			return fail("stack", err)
		}
		stack = append(stack, v)
	}

	nframes, err := wasm.ReadLEB128u(r)
	if err != nil {
		return fail("frames", err)
	}
	frames := make([]frame, 0, nframes)
	for i := uint32(0); i < nframes; i++ {
		var f frame
		var u uint32
		if f.fn, err = wasm.ReadLEB128u(r); err != nil {
			return fail("frame", err)
		}
		if u, err = wasm.ReadLEB128u(r); err != nil {
			return fail("frame", err)
		}
		f.pc = int(u)
		if u, err = wasm.ReadLEB128u(r); err != nil {
			return fail("frame", err)
		}
		f.base = int(u)
		if u, err = wasm.ReadLEB128u(r); err != nil {
			return fail("frame", err)
		}
		f.arity = int(u)

		nlocals, err := wasm.ReadLEB128u(r)
		if err != nil {
			return fail("locals", err)
		}
		f.locals = make([]Value, 0, nlocals)
		for j := uint32(0); j < nlocals; j++ {
			v, err := readValue(r)
			if err != nil {
				return fail("locals", err)
			}
			f.locals = append(f.locals, v)
		}

		nlabels, err := wasm.ReadLEB128u(r)
		if err != nil {
			return fail("labels", err)
		}
		f.labels = make([]label, 0, nlabels)
		for j := uint32(0); j < nlabels; j++ {
			var l label
			kind, err := r.ReadByte()
			if err != nil {
				return fail("labels", err)
			}
			if kind > byte(labelFunc) {
				return fail("labels", fmt.Errorf("unknown label kind %d", kind))
			}
			l.kind = labelKind(kind)
			if u, err = wasm.ReadLEB128u(r); err != nil {
				return fail("labels", err)
			}
			l.arity = int(u)
			if u, err = wasm.ReadLEB128u(r); err != nil {
				return fail("labels", err)
			}
			l.height = int(u)
			if u, err = wasm.ReadLEB128u(r); err != nil {
				return fail("labels", err)
			}
			l.target = int(u)
			f.labels = append(f.labels, l)
		}
		frames = append(frames, f)
	}

	if r.Len() != 0 {
		return errors.InvalidData(errors.PhaseRuntime, []string{"continuation"},
			fmt.Sprintf("%d trailing bytes", r.Len()))
	}

	c.inst = nil
	c.frames = frames
	c.stack = stack
	c.pending = int(pending)
	c.consumed = false
	return nil
}

func writeValue(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.typ))
	var flags byte
	if v.null {
		flags = 1
	}
	buf.WriteByte(flags)
	wasm.WriteLEB128u64(buf, v.bits)
}

func readValue(r *bytes.Reader) (Value, error) {
	t, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	vt := wasm.ValType(t)
	if !vt.IsNum() && !vt.IsRef() {
		return Value{}, fmt.Errorf("unknown value type 0x%02x", t)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	if flags > 1 {
		return Value{}, fmt.Errorf("unknown value flags 0x%02x", flags)
	}
	bits, err := wasm.ReadLEB128u64(r)
	if err != nil {
		return Value{}, err
	}
	return Value{typ: vt, bits: bits, null: flags == 1}, nil
}

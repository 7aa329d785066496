// Package engine executes decoded wasm modules.
//
// The interpreter keeps all execution state in plain Go values: a
// shared operand stack, an explicit frame stack (wasm calls never use
// the Go call stack), and per-frame label stacks with branch targets
// pre-resolved at decode time. Because nothing lives in native stack
// frames between instructions, an invocation can be suspended after
// any instruction boundary and captured as a Continuation, which
// serializes to a versioned binary form and resumes with behavior
// identical to never having paused.
//
// Each Instance exclusively owns its memory, tables, and globals. It
// is not safe for concurrent use, but it is safe to move between
// goroutines, so many instances can run in one process side by side.
//
// Runtime faults are *Trap values with a fixed kind taxonomy; they
// abort the current invocation and nothing else. Host functions bound
// at instantiation run under the normal call protocol and may return
// results, fail (a HostError trap), or return ErrYield to suspend the
// whole invocation.
package engine

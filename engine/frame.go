package engine

// labelKind distinguishes how a label reacts to branches: a branch to
// a loop label jumps backward and keeps the label alive; a branch to
// any other label jumps past the construct's end and discards it.
type labelKind uint8

const (
	labelBlock labelKind = iota
	labelLoop
	labelIf
	labelFunc
)

// label is one entry on a frame's control stack, pushed on entering
// block/loop/if (plus one sentinel for the function body itself).
// height is the absolute operand-stack height at entry, arity the
// number of values a branch to this label carries, target the
// pre-resolved program counter a branch jumps to.
type label struct {
	kind   labelKind
	arity  int
	height int
	target int
}

// frame is one activation record. Frames live on an explicit slice,
// never on the Go call stack, so the whole call chain can be captured
// in a Continuation at any instruction boundary. base is the shared
// operand-stack height at entry (after the arguments were consumed);
// on return the stack is truncated back to it with arity result
// values on top.
type frame struct {
	locals []Value
	labels []label
	fn     uint32
	pc     int
	base   int
	arity  int
}

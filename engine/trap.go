package engine

import "fmt"

// TrapKind classifies a runtime fault. Traps are a separate tier from
// decode errors and from API errors: a trap aborts the current
// invocation but leaves the instance and every co-hosted instance
// intact.
type TrapKind int

const (
	TrapUnreachable TrapKind = iota
	TrapIntegerDivideByZero
	TrapIntegerOverflow
	TrapInvalidConversion
	TrapOutOfBoundsMemory
	TrapUndefinedElement
	TrapNullFuncref
	TrapIndirectCallMismatch
	TrapStackExhausted
	TrapOutOfBoundsTable
	TrapHostError

	// Deferred-validation faults: the decoder checks structure only,
	// so a type-incorrect program is caught at the first bad operand
	// rather than rejected up front.
	TrapStackUnderflow
	TrapTypeMismatch
)

var trapKindNames = map[TrapKind]string{
	TrapUnreachable:          "unreachable",
	TrapIntegerDivideByZero:  "integer divide by zero",
	TrapIntegerOverflow:      "integer overflow",
	TrapInvalidConversion:    "invalid conversion to integer",
	TrapOutOfBoundsMemory:    "out of bounds memory access",
	TrapUndefinedElement:     "undefined element",
	TrapNullFuncref:          "null function reference",
	TrapIndirectCallMismatch: "indirect call type mismatch",
	TrapStackExhausted:       "call stack exhausted",
	TrapOutOfBoundsTable:     "out of bounds table access",
	TrapHostError:            "host function error",
	TrapStackUnderflow:       "operand stack underflow",
	TrapTypeMismatch:         "operand type mismatch",
}

func (k TrapKind) String() string {
	if s, ok := trapKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("trap(%d)", int(k))
}

// Trap is a runtime fault raised by the interpreter. FuncIdx and PC
// locate the faulting instruction. Cause is set only for host traps
// and carries the host function's error, so callers can tell
// host-originated faults from engine-internal ones.
type Trap struct {
	Cause   error
	Detail  string
	FuncIdx uint32
	PC      int
	Kind    TrapKind
}

func (t *Trap) Error() string {
	msg := fmt.Sprintf("trap: %s at func %d pc %d", t.Kind, t.FuncIdx, t.PC)
	if t.Detail != "" {
		msg += ": " + t.Detail
	}
	if t.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", t.Cause)
	}
	return msg
}

func (t *Trap) Unwrap() error { return t.Cause }

// Is matches any *Trap with the same Kind, so callers can test
// errors.Is(err, &Trap{Kind: TrapIntegerOverflow}).
func (t *Trap) Is(target error) bool {
	other, ok := target.(*Trap)
	if !ok {
		return false
	}
	return t.Kind == other.Kind
}

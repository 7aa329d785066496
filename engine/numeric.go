package engine

import "math"

// Canonical NaN bit patterns. Arithmetic float operations that
// produce a NaN always produce the canonical one, so results are
// deterministic and snapshots replay bit-identically. Pure bit
// operations (abs, neg, copysign, reinterpret) preserve payloads.
const (
	canonNaN32 = uint32(0x7fc00000)
	canonNaN64 = uint64(0x7ff8000000000000)
)

func canonF32(f float32) float32 {
	if f != f {
		return math.Float32frombits(canonNaN32)
	}
	return f
}

func canonF64(f float64) float64 {
	if f != f {
		return math.Float64frombits(canonNaN64)
	}
	return f
}

// fmin32 implements f32.min: NaN if either operand is NaN, and -0
// beats +0.
func fmin32(a, b float32) float32 {
	if a != a || b != b {
		return math.Float32frombits(canonNaN32)
	}
	if a == b {
		// pick -0 over +0
		if math.Signbit(float64(a)) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func fmax32(a, b float32) float32 {
	if a != a || b != b {
		return math.Float32frombits(canonNaN32)
	}
	if a == b {
		if math.Signbit(float64(a)) {
			return b
		}
		return a
	}
	if a > b {
		return a
	}
	return b
}

func fmin64(a, b float64) float64 {
	if a != a || b != b {
		return math.Float64frombits(canonNaN64)
	}
	if a == b {
		if math.Signbit(a) {
			return a
		}
		return b
	}
	if a < b {
		return a
	}
	return b
}

func fmax64(a, b float64) float64 {
	if a != a || b != b {
		return math.Float64frombits(canonNaN64)
	}
	if a == b {
		if math.Signbit(a) {
			return b
		}
		return a
	}
	if a > b {
		return a
	}
	return b
}

// trapNone marks a successful truncation.
const trapNone TrapKind = -1

// Trapping float-to-int truncations. NaN is an invalid conversion;
// a truncated value outside the target range is an integer overflow.
// The boundary comparisons use exact powers of two, which are
// representable in float64, so no precision is lost.

func truncI32S(x float64) (int32, TrapKind) {
	if x != x {
		return 0, TrapInvalidConversion
	}
	t := math.Trunc(x)
	if t < -2147483648 || t >= 2147483648 {
		return 0, TrapIntegerOverflow
	}
	return int32(t), trapNone
}

func truncI32U(x float64) (uint32, TrapKind) {
	if x != x {
		return 0, TrapInvalidConversion
	}
	t := math.Trunc(x)
	if t <= -1 || t >= 4294967296 {
		return 0, TrapIntegerOverflow
	}
	return uint32(t), trapNone
}

func truncI64S(x float64) (int64, TrapKind) {
	if x != x {
		return 0, TrapInvalidConversion
	}
	t := math.Trunc(x)
	if t < -9223372036854775808 || t >= 9223372036854775808 {
		return 0, TrapIntegerOverflow
	}
	return int64(t), trapNone
}

func truncI64U(x float64) (uint64, TrapKind) {
	if x != x {
		return 0, TrapInvalidConversion
	}
	t := math.Trunc(x)
	if t <= -1 || t >= 18446744073709551616 {
		return 0, TrapIntegerOverflow
	}
	return uint64(t), trapNone
}

// Saturating truncations (the 0xFC 0..7 family): NaN becomes 0,
// out-of-range values clamp to the nearest representable bound.

func truncSatI32S(x float64) int32 {
	if x != x {
		return 0
	}
	t := math.Trunc(x)
	if t < -2147483648 {
		return math.MinInt32
	}
	if t >= 2147483648 {
		return math.MaxInt32
	}
	return int32(t)
}

func truncSatI32U(x float64) uint32 {
	if x != x {
		return 0
	}
	t := math.Trunc(x)
	if t <= -1 {
		return 0
	}
	if t >= 4294967296 {
		return math.MaxUint32
	}
	return uint32(t)
}

func truncSatI64S(x float64) int64 {
	if x != x {
		return 0
	}
	t := math.Trunc(x)
	if t < -9223372036854775808 {
		return math.MinInt64
	}
	if t >= 9223372036854775808 {
		return math.MaxInt64
	}
	return int64(t)
}

func truncSatI64U(x float64) uint64 {
	if x != x {
		return 0
	}
	t := math.Trunc(x)
	if t <= -1 {
		return 0
	}
	if t >= 18446744073709551616 {
		return math.MaxUint64
	}
	return uint64(t)
}

package safe

import (
	"math"
	"math/bits"
)

// Add performs int64 addition and panics on overflow/underflow.
func Add(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// Sub performs int64 subtraction and panics on overflow/underflow.
func Sub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

// MulDiv computes a*b/d for non-negative operands with a 128-bit intermediate,
// so price*size products never overflow before the division.
// Panics on negative input, division by zero, or a quotient above MaxInt64.
func MulDiv(a, b, d int64) int64 {
	if a < 0 || b < 0 || d <= 0 {
		panic("CORE_SAFE_MULDIV_DOMAIN")
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(d) {
		panic("CORE_SAFE_MULDIV_OVERFLOW")
	}
	q, _ := bits.Div64(hi, lo, uint64(d))
	if q > math.MaxInt64 {
		panic("CORE_SAFE_MULDIV_OVERFLOW")
	}
	return int64(q)
}

// Abs returns |a|. MinInt64 panics.
func Abs(a int64) int64 {
	if a == math.MinInt64 {
		panic("CORE_SAFE_ABS_OVERFLOW")
	}
	if a < 0 {
		return -a
	}
	return a
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

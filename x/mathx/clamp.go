package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Or returns v, or def when v is the zero value.
func Or[T constraints.Ordered](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

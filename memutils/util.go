package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type the layout math can operate on
type Number interface {
	constraints.Integer
}

// CheckPow2 returns PowerOfTwoError, annotated with the value's name, if number is not a power of two.
// Zero is treated as a power of two.
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to a multiple of alignment, which must be a power of two
func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}

// DivRoundUp divides value by divisor, rounding up. Unlike AlignUp, divisor does not need to be a power of two.
func DivRoundUp[T Number](value T, divisor T) T {
	return (value + divisor - 1) / divisor
}

// NextPow2 returns the smallest power of two greater than or equal to value. Zero yields 1, and a value
// whose next power of two does not fit in T yields 0.
func NextPow2[T Number](value T) T {
	result := T(1)
	for result < value {
		result <<= 1
		if result <= 0 {
			return 0
		}
	}
	return result
}

package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

// CheckPow2 returns a wrapped PowerOfTwoError if number is zero or not a power of two
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// DivideRoundingUp returns numerator/denominator, rounded up
func DivideRoundingUp[T Number](numerator T, denominator T) T {
	return (numerator + denominator - 1) / denominator
}

package seqveil

import (
	"fmt"

	"github.com/tarenord/seqveil/internal/feistel"
)

// Permute maps value through the keyed Feistel permutation over a bits-wide
// domain. The mapping is a bijection on [0, 2^bits): two distinct inputs
// never produce the same output, and Unpermute recovers the input exactly.
//
// Every argument is validated before any computation; out-of-range values
// fail with a distinct InvalidParameter error and are never truncated. A
// width of zero is the identity permutation over the single point 0.
func Permute(value int64, bits int, key, salt uint32, rounds int) (int64, error) {
	if err := validatePermuteArgs(value, bits, key, salt, rounds); err != nil {
		return 0, err
	}
	return int64(feistel.Permute(uint64(value), bits, key, salt, rounds)), nil
}

// Unpermute inverts Permute under the same bits, key, salt and rounds. It
// validates its arguments the same way.
func Unpermute(value int64, bits int, key, salt uint32, rounds int) (int64, error) {
	if err := validatePermuteArgs(value, bits, key, salt, rounds); err != nil {
		return 0, err
	}
	return int64(feistel.Unpermute(uint64(value), bits, key, salt, rounds)), nil
}

func validatePermuteArgs(value int64, bits int, key, salt uint32, rounds int) error {
	switch {
	case bits < 0:
		return NewInvalidParameterError("bits", bits, "must not be negative")
	case bits%2 != 0:
		return NewInvalidParameterError("bits", bits, "must be even")
	case bits > MaxBits:
		return NewInvalidParameterError("bits", bits, fmt.Sprintf("must not exceed %d", MaxBits))
	}
	if key > MaxKey {
		return NewInvalidParameterError("key", key, fmt.Sprintf("must be below 2^%d", KeyBits))
	}
	if salt > MaxKey {
		return NewInvalidParameterError("salt", salt, fmt.Sprintf("must be below 2^%d", KeyBits))
	}
	if rounds < MinRounds {
		return NewInvalidParameterError("rounds", rounds, fmt.Sprintf("must be at least %d", MinRounds))
	}
	if rounds > MaxRounds {
		return NewInvalidParameterError("rounds", rounds, fmt.Sprintf("must not exceed %d", MaxRounds))
	}
	if value < 0 {
		return NewInvalidParameterError("value", value, "must not be negative")
	}
	if max := int64(feistel.Mask(bits)); value > max {
		return NewInvalidParameterError("value", value, fmt.Sprintf("must not exceed %d for a %d-bit domain", max, bits))
	}
	return nil
}

package seqveil

import (
	"fmt"
	"time"

	"github.com/tarenord/seqveil/internal/feistel"
)

// Decomposed is the result of taking a composed identifier apart.
type Decomposed struct {
	// Source is the recovered source value.
	Source int64

	// TimeValue is the quantized time prefix as it was composed, after
	// unpermuting when the binding encrypts it. It is the bucket number
	// modulo 2^TimeBits, so it wraps rather than growing without bound.
	TimeValue int64
}

// Compose builds the derived identifier for a source value at a given
// instant:
//
//	(time_value << data_bits) | Permute(source, data_bits, key, salt, rounds)
//
// where time_value is floor((unix_seconds + offset) / bucket) masked to
// TimeBits, permuted first when the binding encrypts the prefix, and absent
// entirely when TimeBits is zero. The quantized bucket number deliberately
// wraps at 2^TimeBits instead of overflowing.
//
// Parameters are validated before any computation, with DefaultRounds
// applied when Rounds is zero.
func Compose(source int64, at time.Time, p Params, salt uint32) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if salt > MaxKey {
		return 0, NewInvalidParameterError("salt", salt, fmt.Sprintf("must be below 2^%d", KeyBits))
	}

	data, err := Permute(source, p.DataBits, p.Key, salt, p.Rounds)
	if err != nil {
		return 0, err
	}
	if p.TimeBits == 0 {
		return data, nil
	}

	timeValue := quantizeTime(at.Unix(), p)
	if p.EncryptTime {
		timeValue, err = Permute(timeValue, p.TimeBits, p.Key, salt, p.Rounds)
		if err != nil {
			return 0, err
		}
	}
	return timeValue<<uint(p.DataBits) | data, nil
}

// Decompose inverts Compose for an identifier produced under the same
// parameters and salt, recovering the source value and the quantized time
// prefix. Identifiers outside [0, 2^TotalBits) fail with InvalidParameter.
func Decompose(id int64, p Params, salt uint32) (Decomposed, error) {
	if err := p.Validate(); err != nil {
		return Decomposed{}, err
	}
	if salt > MaxKey {
		return Decomposed{}, NewInvalidParameterError("salt", salt, fmt.Sprintf("must be below 2^%d", KeyBits))
	}
	if id < 0 {
		return Decomposed{}, NewInvalidParameterError("identifier", id, "must not be negative")
	}
	if uint64(id) > feistel.Mask(p.TotalBits()) {
		return Decomposed{}, NewInvalidParameterError("identifier", id, fmt.Sprintf("must fit the composed %d-bit width", p.TotalBits()))
	}

	data := id & int64(feistel.Mask(p.DataBits))
	source, err := Unpermute(data, p.DataBits, p.Key, salt, p.Rounds)
	if err != nil {
		return Decomposed{}, err
	}

	out := Decomposed{Source: source}
	if p.TimeBits == 0 {
		return out, nil
	}

	timeValue := id >> uint(p.DataBits)
	if p.EncryptTime {
		timeValue, err = Unpermute(timeValue, p.TimeBits, p.Key, salt, p.Rounds)
		if err != nil {
			return Decomposed{}, err
		}
	}
	out.TimeValue = timeValue
	return out, nil
}

// quantizeTime buckets a unix timestamp and masks it to the prefix width.
// Division floors toward negative infinity so instants before the epoch (or
// pushed there by a negative offset) still land in the bucket that contains
// them, then two's-complement masking wraps the bucket number into
// [0, 2^TimeBits).
func quantizeTime(unixSeconds int64, p Params) int64 {
	q := floorDiv(unixSeconds+p.TimeOffset, p.TimeBucket)
	return int64(uint64(q) & feistel.Mask(p.TimeBits))
}

// floorDiv divides rounding toward negative infinity. Go's integer division
// truncates toward zero, which differs for negative operands.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

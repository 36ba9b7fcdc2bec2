// Package feistel implements the keyed permutation at the core of seqveil.
//
// The network splits a bits-wide value into two bits/2 halves and mixes a
// keyed round function into one half per round. The round function is an
// HMAC-SHA256 over the half-block, keyed with the big-endian concatenation
// of the binding key and the installation salt, truncated and masked to the
// half width. The construction matches the PL/pgSQL functions emitted by the
// postgres provider byte for byte, so values written by either side invert
// on the other.
//
// Callers validate arguments before calling in; this package assumes
// bits is even and within range, key and salt fit in 31 bits, and the
// value fits in bits.
package feistel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

// roundFn evaluates the keyed round function for one permutation. The HMAC
// state is reused across rounds; the key and salt are fixed for the whole
// permutation, so the round function is round-invariant.
type roundFn struct {
	mac  hash.Hash
	mask uint64
}

func newRoundFn(key, salt uint32, halfBits int) *roundFn {
	var mk [8]byte
	binary.BigEndian.PutUint32(mk[0:4], key)
	binary.BigEndian.PutUint32(mk[4:8], salt)
	return &roundFn{
		mac:  hmac.New(sha256.New, mk[:]),
		mask: Mask(halfBits),
	}
}

func (f *roundFn) eval(x uint64) uint64 {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], x)
	f.mac.Reset()
	f.mac.Write(msg[:])
	var sum [sha256.Size]byte
	return binary.BigEndian.Uint64(f.mac.Sum(sum[:0])[:8]) & f.mask
}

// Mask returns the all-ones value of the given width. bits must be in [0, 63].
func Mask(bits int) uint64 {
	return uint64(1)<<uint(bits) - 1
}

// Permute maps value through rounds Feistel rounds over a bits-wide domain.
// Per round: left, right = right, left XOR F(right); one final swap after the
// loop. The result is a bijection over [0, 2^bits).
func Permute(value uint64, bits int, key, salt uint32, rounds int) uint64 {
	if bits == 0 {
		return 0
	}
	half := uint(bits / 2)
	mask := Mask(bits / 2)
	f := newRoundFn(key, salt, bits/2)

	left, right := value>>half, value&mask
	for i := 0; i < rounds; i++ {
		left, right = right, left^f.eval(right)
	}
	left, right = right, left
	return left<<half | right
}

// Unpermute inverts Permute for the same bits, key, salt and rounds. It runs
// the reversed recurrence rather than relying on the permutation being its
// own inverse.
func Unpermute(value uint64, bits int, key, salt uint32, rounds int) uint64 {
	if bits == 0 {
		return 0
	}
	half := uint(bits / 2)
	mask := Mask(bits / 2)
	f := newRoundFn(key, salt, bits/2)

	// Read the halves back through the final swap, then unwind each round.
	left, right := value&mask, value>>half
	for i := 0; i < rounds; i++ {
		left, right = right^f.eval(left), left
	}
	return left<<half | right
}

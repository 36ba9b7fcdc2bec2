package seqveil

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
)

// DeriveKey maps an arbitrary identity string to a 31-bit permutation key by
// hashing it with SHA-512 and folding the first four digest bytes, big
// endian, into [0, MaxKey]. The same identity always yields the same key, so
// a binding recreated from its identity alone permutes identically.
func DeriveKey(identity string) uint32 {
	sum := sha512.Sum512([]byte(identity))
	return binary.BigEndian.Uint32(sum[:4]) & MaxKey
}

// DeriveBindingKey derives the permutation key for a binding identity.
func DeriveBindingKey(id BindingIdentity) uint32 {
	return DeriveKey(id.String())
}

// DeriveBindingKeyWithWidth derives a key for an identity that also pins the
// permutation width, for installations that attach several widths to the
// same column triple.
func DeriveBindingKeyWithWidth(id BindingIdentity, dataBits int) uint32 {
	return DeriveKey(fmt.Sprintf("%s%s%d", id.String(), IdentityDelimiter, dataBits))
}

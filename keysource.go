package seqveil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeySource resolves keys as a pure function of the binding identity
// via DeriveKey. Nothing is stored anywhere: recreating a binding with the
// same identity on any installation reproduces its key. This is the engine's
// default.
type DerivedKeySource struct{}

func (DerivedKeySource) ResolveKey(_ context.Context, identity BindingIdentity) (uint32, error) {
	if err := identity.Validate(); err != nil {
		return 0, err
	}
	return DeriveBindingKey(identity), nil
}

// StaticKeySource hands out one fixed key for every identity. Useful for
// tests and for installations that manage exactly one binding.
type StaticKeySource struct {
	Key uint32
}

func (s StaticKeySource) ResolveKey(context.Context, BindingIdentity) (uint32, error) {
	if s.Key > MaxKey {
		return 0, NewInvalidParameterError("key", s.Key, fmt.Sprintf("must be below 2^%d", KeyBits))
	}
	return s.Key, nil
}

// MasterKeySource expands an installation-wide master secret into
// per-binding keys with HKDF-SHA256, using the binding identity as the info
// string. Unlike DerivedKeySource the mapping from identity to key is not
// public knowledge, but there is still only one secret to provision.
type MasterKeySource struct {
	secret []byte
}

// NewMasterKeySource copies the secret; the caller may zero its slice
// afterwards.
func NewMasterKeySource(secret []byte) (*MasterKeySource, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("master secret must be at least 16 bytes, got %d", len(secret))
	}
	return &MasterKeySource{secret: append([]byte(nil), secret...)}, nil
}

func (m *MasterKeySource) ResolveKey(_ context.Context, identity BindingIdentity) (uint32, error) {
	if err := identity.Validate(); err != nil {
		return 0, err
	}

	expand := hkdf.New(sha256.New, m.secret, nil, []byte("binding-key:"+identity.String()))
	var buf [4]byte
	if _, err := io.ReadFull(expand, buf[:]); err != nil {
		return 0, fmt.Errorf("expand binding key: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]) & MaxKey, nil
}

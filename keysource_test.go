package seqveil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keySourceIdentity = BindingIdentity{Table: "orders", Source: "id", Target: "public_id"}

func TestDerivedKeySource(t *testing.T) {
	ctx := context.Background()
	source := DerivedKeySource{}

	key, err := source.ResolveKey(ctx, keySourceIdentity)
	require.NoError(t, err)
	assert.Equal(t, DeriveBindingKey(keySourceIdentity), key)
	assert.LessOrEqual(t, key, uint32(MaxKey))

	again, err := source.ResolveKey(ctx, keySourceIdentity)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	_, err = source.ResolveKey(ctx, BindingIdentity{Table: "Orders!", Source: "id", Target: "public_id"})
	assert.Error(t, err, "invalid identities must not silently derive a key")
}

func TestStaticKeySource(t *testing.T) {
	ctx := context.Background()

	key, err := StaticKeySource{Key: 424242}.ResolveKey(ctx, keySourceIdentity)
	require.NoError(t, err)
	assert.Equal(t, uint32(424242), key)

	_, err = StaticKeySource{Key: 1 << 31}.ResolveKey(ctx, keySourceIdentity)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestMasterKeySource(t *testing.T) {
	ctx := context.Background()

	_, err := NewMasterKeySource([]byte("short"))
	assert.Error(t, err, "a master secret below 16 bytes must be refused")

	secret := []byte("an installation master secret!!!")
	source, err := NewMasterKeySource(secret)
	require.NoError(t, err)

	key, err := source.ResolveKey(ctx, keySourceIdentity)
	require.NoError(t, err)
	assert.LessOrEqual(t, key, uint32(MaxKey))

	// Stable for the same identity.
	again, err := source.ResolveKey(ctx, keySourceIdentity)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	// Caller zeroing its copy of the secret must not change resolution.
	for i := range secret {
		secret[i] = 0
	}
	afterZero, err := source.ResolveKey(ctx, keySourceIdentity)
	require.NoError(t, err)
	assert.Equal(t, key, afterZero)

	_, err = source.ResolveKey(ctx, BindingIdentity{})
	assert.Error(t, err)
}

func TestMasterKeySourceSeparatesIdentities(t *testing.T) {
	ctx := context.Background()
	source, err := NewMasterKeySource([]byte("an installation master secret!!!"))
	require.NoError(t, err)

	identities := []BindingIdentity{
		{Table: "orders", Source: "id", Target: "public_id"},
		{Table: "orders", Source: "id", Target: "external_id"},
		{Table: "users", Source: "id", Target: "public_id"},
		{Table: "invoices", Source: "seq", Target: "ref"},
	}

	keys := make(map[uint32]struct{})
	for _, id := range identities {
		key, err := source.ResolveKey(ctx, id)
		require.NoError(t, err)
		keys[key] = struct{}{}
	}
	assert.Greater(t, len(keys), 1, "distinct identities should not all expand to one key")
}

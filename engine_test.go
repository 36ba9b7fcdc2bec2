package seqveil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOversizedSalt(t *testing.T) {
	_, err := New(1 << 31)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"nil clock", WithClock(nil)},
		{"nil key source", WithKeySource(nil)},
		{"nil hook", WithObservabilityHook(nil)},
		{"nil metrics", WithMetricsCollector(nil)},
		{"rounds out of range", WithDefaultRounds(0)},
		{"rounds over limit", WithDefaultRounds(33)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(1, tt.opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid option 1")
		})
	}
}

func TestComposeIdentifierNullPropagation(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)

	out, err := engine.ComposeIdentifier(context.Background(), Null(), testBinding)
	require.NoError(t, err)
	assert.False(t, out.Valid)
}

func TestComposeIdentifierRoundTrip(t *testing.T) {
	moment := time.Date(2025, 2, 2, 2, 2, 2, 0, time.UTC)
	engine, err := New(777, WithClock(func() time.Time { return moment }))
	require.NoError(t, err)
	ctx := context.Background()

	binding := Binding{
		BindingIdentity: BindingIdentity{Table: "orders", Source: "id", Target: "public_id"},
		Params:          Params{DataBits: 40, Key: 99, Rounds: 4, TimeBits: 12, TimeBucket: 3600, EncryptTime: true},
	}

	id, err := engine.ComposeIdentifier(ctx, Int64(123456), binding)
	require.NoError(t, err)
	require.True(t, id.Valid)

	dec, err := engine.DecomposeIdentifier(ctx, id, binding)
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, int64(123456), dec.Source)

	wantBucket := floorDiv(moment.Unix(), 3600) & (1<<12 - 1)
	assert.Equal(t, wantBucket, dec.TimeValue)
}

func TestComposeIdentifierRejectsInvalidBinding(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)

	bad := testBinding
	bad.DataBits = 41
	_, err = engine.ComposeIdentifier(context.Background(), Int64(1), bad)
	assert.Error(t, err)
}

func TestDecomposeIdentifierNullYieldsNil(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)

	dec, err := engine.DecomposeIdentifier(context.Background(), Null(), testBinding)
	require.NoError(t, err)
	assert.Nil(t, dec)
}

func TestPermuteValueNullPropagation(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)
	ctx := context.Background()

	out, err := engine.PermuteValue(ctx, Null(), 40, 1, 4)
	require.NoError(t, err)
	assert.False(t, out.Valid)

	out, err = engine.UnpermuteValue(ctx, Null(), 40, 1, 4)
	require.NoError(t, err)
	assert.False(t, out.Valid)
}

func TestPermuteValueRoundTrip(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := engine.PermuteValue(ctx, Int64(99999), 40, 123, 4)
	require.NoError(t, err)
	require.True(t, p.Valid)

	back, err := engine.UnpermuteValue(ctx, p, 40, 123, 4)
	require.NoError(t, err)
	assert.Equal(t, Int64(99999), back)
}

func TestPermuteValueValidates(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)

	_, err = engine.PermuteValue(context.Background(), Int64(1), 41, 1, 4)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestResolveKeyDefaultsToDerivation(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)

	key, err := engine.ResolveKey(context.Background(), keySourceIdentity)
	require.NoError(t, err)
	assert.Equal(t, DeriveBindingKey(keySourceIdentity), key)
}

func TestResolveKeyUsesConfiguredSource(t *testing.T) {
	engine, err := New(777, WithKeySource(StaticKeySource{Key: 31337}))
	require.NoError(t, err)

	key, err := engine.ResolveKey(context.Background(), keySourceIdentity)
	require.NoError(t, err)
	assert.Equal(t, uint32(31337), key)
}

type oversizedKeySource struct{}

func (oversizedKeySource) ResolveKey(context.Context, BindingIdentity) (uint32, error) {
	return 1 << 31, nil
}

func TestResolveKeyRejectsOversizedKeys(t *testing.T) {
	engine, err := New(777, WithKeySource(oversizedKeySource{}))
	require.NoError(t, err)

	_, err = engine.ResolveKey(context.Background(), keySourceIdentity)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestVerifyIdentifier(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := engine.ComposeIdentifier(ctx, Int64(5), testBinding)
	require.NoError(t, err)

	assert.NoError(t, engine.VerifyIdentifier(ctx, Int64(5), id, testBinding))
	assert.NoError(t, engine.VerifyIdentifier(ctx, Null(), Null(), testBinding))

	err = engine.VerifyIdentifier(ctx, Int64(6), id, testBinding)
	assert.ErrorIs(t, err, ErrDerivedColumnTamperedWith)

	err = engine.VerifyIdentifier(ctx, Int64(5), Null(), testBinding)
	assert.ErrorIs(t, err, ErrDerivedColumnTamperedWith)

	err = engine.VerifyIdentifier(ctx, Null(), id, testBinding)
	assert.ErrorIs(t, err, ErrDerivedColumnTamperedWith)
}

func TestEngineEmitsOperationMetrics(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	engine, err := New(777, WithMetricsCollector(collector))
	require.NoError(t, err)

	_, err = engine.ComposeIdentifier(context.Background(), Int64(5), testBinding)
	require.NoError(t, err)

	got := collector.GetCounterValue("seqveil.operations.completed", map[string]string{
		"operation": "compose",
		"table":     "orders",
		"binding":   "orders:id:public_id",
		"status":    "success",
	})
	assert.Equal(t, int64(1), got)
	require.NotEmpty(t, collector.GetTimings())
}

func TestEngineSaltAccessor(t *testing.T) {
	engine, err := New(424242)
	require.NoError(t, err)
	assert.Equal(t, uint32(424242), engine.Salt())
}

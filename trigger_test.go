package seqveil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBinding = Binding{
	BindingIdentity: BindingIdentity{Table: "orders", Source: "id", Target: "public_id"},
	Params:          Params{DataBits: 40, Key: 123456, Rounds: 4},
}

func newTriggerFixture(t *testing.T, salt uint32, binding Binding, opts ...Option) (*Engine, *TriggerController) {
	t.Helper()
	engine, err := New(salt, opts...)
	require.NoError(t, err)
	tc, err := engine.NewTriggerController(binding)
	require.NoError(t, err)
	return engine, tc
}

func TestTriggerInsertDerivesTarget(t *testing.T) {
	engine, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	row := Row{"id": Int64(5)}
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, row))

	target := row.Value("public_id")
	require.True(t, target.Valid)

	dec, err := engine.DecomposeIdentifier(ctx, target, testBinding)
	require.NoError(t, err)
	require.NotNil(t, dec)
	assert.Equal(t, int64(5), dec.Source)
}

func TestTriggerInsertPropagatesNull(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)

	row := Row{"id": Null(), "public_id": Int64(999)}
	require.NoError(t, tc.ProcessRow(context.Background(), OpInsert, nil, row))

	assert.False(t, row.Value("public_id").Valid, "NULL source must force a NULL target")
}

func TestTriggerInsertOverwritesSuppliedTarget(t *testing.T) {
	engine, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	// Whatever the statement put in the target column is replaced by the
	// derived value.
	row := Row{"id": Int64(42), "public_id": Int64(31337)}
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, row))

	expected, err := engine.ComposeIdentifier(ctx, Int64(42), testBinding)
	require.NoError(t, err)
	assert.Equal(t, expected, row.Value("public_id"))
}

func TestTriggerInsertIsDeterministic(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	first := Row{"id": Int64(12345)}
	second := Row{"id": Int64(12345)}
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, first))
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, second))

	assert.Equal(t, first.Value("public_id"), second.Value("public_id"))
}

func TestTriggerUpdateSourceChangedRecomputes(t *testing.T) {
	engine, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	oldRow := Row{"id": Int64(5)}
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, oldRow))
	oldTarget := oldRow.Value("public_id")

	newRow := Row{"id": Int64(6), "public_id": oldTarget}
	require.NoError(t, tc.ProcessRow(ctx, OpUpdate, oldRow, newRow))

	newTarget := newRow.Value("public_id")
	require.True(t, newTarget.Valid)
	assert.NotEqual(t, oldTarget, newTarget, "distinct sources permute to distinct identifiers")

	dec, err := engine.DecomposeIdentifier(ctx, newTarget, testBinding)
	require.NoError(t, err)
	assert.Equal(t, int64(6), dec.Source)
}

func TestTriggerUpdateSourceToNullPropagates(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	oldRow := Row{"id": Int64(5)}
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, oldRow))

	newRow := Row{"id": Null(), "public_id": oldRow.Value("public_id")}
	require.NoError(t, tc.ProcessRow(ctx, OpUpdate, oldRow, newRow))

	assert.False(t, newRow.Value("public_id").Valid)
}

func TestTriggerUpdateNullToSourceRecomputes(t *testing.T) {
	engine, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	oldRow := Row{"id": Null(), "public_id": Null()}
	newRow := Row{"id": Int64(9), "public_id": Null()}
	require.NoError(t, tc.ProcessRow(ctx, OpUpdate, oldRow, newRow))

	target := newRow.Value("public_id")
	require.True(t, target.Valid)

	dec, err := engine.DecomposeIdentifier(ctx, target, testBinding)
	require.NoError(t, err)
	assert.Equal(t, int64(9), dec.Source)
}

func TestTriggerUpdateUnrelatedColumnsAccepted(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	oldRow := Row{"id": Int64(5)}
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, oldRow))
	target := oldRow.Value("public_id")

	newRow := Row{"id": Int64(5), "public_id": target}
	require.NoError(t, tc.ProcessRow(ctx, OpUpdate, oldRow, newRow))
	assert.Equal(t, target, newRow.Value("public_id"), "a no-op update must leave the target untouched")
}

func TestTriggerUpdateBothNullAccepted(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)

	oldRow := Row{"id": Null(), "public_id": Null()}
	newRow := Row{"id": Null(), "public_id": Null()}
	assert.NoError(t, tc.ProcessRow(context.Background(), OpUpdate, oldRow, newRow))
}

func TestTriggerUpdateTamperRejected(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)
	ctx := context.Background()

	oldRow := Row{"id": Int64(5)}
	require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, oldRow))
	target := oldRow.Value("public_id")

	tests := []struct {
		name      string
		oldTarget sql.NullInt64
		newTarget sql.NullInt64
	}{
		{"value to different value", target, Int64(target.Int64 + 1)},
		{"value to null", target, Null()},
		{"null to value", Null(), Int64(12345)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldR := Row{"id": Int64(5), "public_id": tt.oldTarget}
			newR := Row{"id": Int64(5), "public_id": tt.newTarget}

			err := tc.ProcessRow(ctx, OpUpdate, oldR, newR)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDerivedColumnTamperedWith)
			assert.True(t, IsIntegrityError(err))
			assert.Contains(t, err.Error(), "public_id", "the error must name the column")
		})
	}
}

func TestTriggerTamperErrorNamesValues(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)

	oldRow := Row{"id": Int64(5), "public_id": Int64(100)}
	newRow := Row{"id": Int64(5), "public_id": Int64(200)}

	err := tc.ProcessRow(context.Background(), OpUpdate, oldRow, newRow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100")
	assert.Contains(t, err.Error(), "200")
}

func TestTriggerRejectsUnknownOperation(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)

	err := tc.ProcessRow(context.Background(), Operation(99), nil, Row{"id": Int64(1)})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestTriggerRejectsNilNewRow(t *testing.T) {
	_, tc := newTriggerFixture(t, 777, testBinding)

	err := tc.ProcessRow(context.Background(), OpInsert, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNewTriggerControllerRejectsBadBinding(t *testing.T) {
	engine, err := New(777)
	require.NoError(t, err)

	bad := testBinding
	bad.DataBits = 41
	_, err = engine.NewTriggerController(bad)
	assert.Error(t, err)

	conflicted := testBinding
	conflicted.TimeBits = 24
	conflicted.TimeBucket = 0
	_, err = engine.NewTriggerController(conflicted)
	assert.Error(t, err, "time prefix without a bucket must fail at attach time")
}

func TestTriggerAppliesEngineDefaultRounds(t *testing.T) {
	engine, err := New(777, WithDefaultRounds(8))
	require.NoError(t, err)

	b := testBinding
	b.Rounds = 0
	tc, err := engine.NewTriggerController(b)
	require.NoError(t, err)

	assert.Equal(t, 8, tc.Binding().Rounds)
}

func TestTriggerTimePrefixCohesion(t *testing.T) {
	binding := Binding{
		BindingIdentity: BindingIdentity{Table: "orders", Source: "id", Target: "public_id"},
		Params:          Params{DataBits: 40, Key: 55, Rounds: 4, TimeBits: 12, TimeBucket: 3600},
	}

	moment := time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)
	_, tc := newTriggerFixture(t, 99, binding, WithClock(func() time.Time { return moment }))
	ctx := context.Background()

	var prefix int64 = -1
	for _, src := range []int64{1, 2, 500, 99999, 424242} {
		row := Row{"id": Int64(src)}
		require.NoError(t, tc.ProcessRow(ctx, OpInsert, nil, row))

		got := row.Value("public_id").Int64 >> uint(binding.DataBits)
		if prefix < 0 {
			prefix = got
			continue
		}
		assert.Equal(t, prefix, got, "rows written in one bucket share the time prefix")
	}

	// A clock one bucket later changes the prefix.
	later := moment.Add(time.Hour)
	_, tcLater := newTriggerFixture(t, 99, binding, WithClock(func() time.Time { return later }))

	row := Row{"id": Int64(1)}
	require.NoError(t, tcLater.ProcessRow(ctx, OpInsert, nil, row))
	assert.NotEqual(t, prefix, row.Value("public_id").Int64>>uint(binding.DataBits))
}

func TestTriggerSaltSeparatesInstallations(t *testing.T) {
	ctx := context.Background()
	_, tcA := newTriggerFixture(t, 1000, testBinding)
	_, tcB := newTriggerFixture(t, 2000, testBinding)

	differs := false
	for _, src := range []int64{1, 2, 3, 1000} {
		a := Row{"id": Int64(src)}
		b := Row{"id": Int64(src)}
		require.NoError(t, tcA.ProcessRow(ctx, OpInsert, nil, a))
		require.NoError(t, tcB.ProcessRow(ctx, OpInsert, nil, b))
		if a.Value("public_id") != b.Value("public_id") {
			differs = true
		}
	}
	assert.True(t, differs, "the salt must reach the round function")
}

func TestTriggerTamperEmitsErrorMetric(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	engine, err := New(777, WithMetricsCollector(collector))
	require.NoError(t, err)
	tc, err := engine.NewTriggerController(testBinding)
	require.NoError(t, err)

	oldRow := Row{"id": Int64(5), "public_id": Int64(100)}
	newRow := Row{"id": Int64(5), "public_id": Int64(200)}
	require.Error(t, tc.ProcessRow(context.Background(), OpUpdate, oldRow, newRow))

	got := collector.GetCounterValue("seqveil.errors", map[string]string{
		"operation":  "trigger.update",
		"table":      "orders",
		"binding":    "orders:id:public_id",
		"error_type": "derived_column_tampered",
	})
	assert.Equal(t, int64(1), got)
}

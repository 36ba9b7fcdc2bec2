package seqveil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowValueTreatsMissingColumnsAsNull(t *testing.T) {
	row := Row{"id": Int64(5)}

	assert.Equal(t, Int64(5), row.Value("id"))
	assert.False(t, row.Value("public_id").Valid)

	var nilRow Row
	assert.False(t, nilRow.Value("id").Valid)
}

func TestNullInt64Equal(t *testing.T) {
	assert.True(t, nullInt64Equal(Null(), Null()), "two NULLs are not distinct")
	assert.True(t, nullInt64Equal(Int64(5), Int64(5)))
	assert.False(t, nullInt64Equal(Int64(5), Int64(6)))
	assert.False(t, nullInt64Equal(Null(), Int64(5)))
	assert.False(t, nullInt64Equal(Int64(5), Null()))
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "insert", OpInsert.String())
	assert.Equal(t, "update", OpUpdate.String())
	assert.Equal(t, "unknown", Operation(99).String())
}

package seqveil

import "database/sql"

// Operation is the row write being processed.
type Operation int

const (
	OpInsert Operation = iota + 1
	OpUpdate
)

func (op Operation) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Row is the column view a trigger sees: names to nullable 64-bit values.
// Only the binding's source and target columns are consulted, so callers may
// pass a sparse map. The controller mutates the new row's target column in
// place, mirroring how a BEFORE trigger rewrites NEW.
type Row map[string]sql.NullInt64

// Value returns the named column. A column absent from the map reads as
// NULL, which matches how a trigger sees a column the statement never set.
func (r Row) Value(column string) sql.NullInt64 {
	if r == nil {
		return sql.NullInt64{}
	}
	return r[column]
}

// Set writes the named column.
func (r Row) Set(column string, v sql.NullInt64) {
	r[column] = v
}

// Int64 wraps a concrete value for a Row.
func Int64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

// Null is the NULL column value.
func Null() sql.NullInt64 {
	return sql.NullInt64{}
}

// nullInt64Equal compares two nullable values the way SQL's IS NOT DISTINCT
// FROM does: two NULLs are equal, a NULL never equals a value.
func nullInt64Equal(a, b sql.NullInt64) bool {
	if a.Valid != b.Valid {
		return false
	}
	if !a.Valid {
		return true
	}
	return a.Int64 == b.Int64
}

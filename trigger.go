package seqveil

import (
	"context"
)

// TriggerController executes the per-row state machine that keeps a derived
// identifier column synchronized with its source column. One controller
// serves one binding; it holds no per-row state, so a single instance may
// process concurrent writes.
//
// The three states mirror what a BEFORE INSERT OR UPDATE trigger sees:
//
//   - Insert: derive the target from the new row's source, NULL propagating
//     to NULL.
//   - Update, source changed: recompute exactly as on insert. Transitions
//     through NULL count as changes.
//   - Update, source unchanged: the target must not move. A write that
//     changes the target while leaving the source alone is rejected as
//     tampering, which is what keeps an external identifier from drifting
//     away from what the permutation produces for its source.
//
// Updates touching neither column are accepted untouched. Any failure aborts
// the whole row write.
type TriggerController struct {
	engine  *Engine
	binding Binding
}

// NewTriggerController builds the controller for one binding. The binding is
// validated here so width budgets and prefix conflicts surface at attach
// time, never on row writes.
func (e *Engine) NewTriggerController(binding Binding) (*TriggerController, error) {
	if err := e.normalizeBinding(&binding); err != nil {
		return nil, err
	}
	return &TriggerController{engine: e, binding: binding}, nil
}

// Binding returns the controller's binding with engine defaults applied.
func (tc *TriggerController) Binding() Binding {
	return tc.binding
}

// ProcessRow runs one row write through the state machine, mutating the new
// row's target column in place. oldRow is ignored for inserts; a nil Row
// reads every column as NULL.
func (tc *TriggerController) ProcessRow(ctx context.Context, op Operation, oldRow, newRow Row) error {
	return tc.engine.observe(ctx, "trigger."+op.String(), bindingAttrs(tc.binding), func() error {
		if newRow == nil {
			return NewInvalidParameterError("new_row", newRow, "must not be nil")
		}

		switch op {
		case OpInsert:
			return tc.recompute(newRow)

		case OpUpdate:
			oldSource := oldRow.Value(tc.binding.Source)
			newSource := newRow.Value(tc.binding.Source)
			if !nullInt64Equal(oldSource, newSource) {
				return tc.recompute(newRow)
			}

			oldTarget := oldRow.Value(tc.binding.Target)
			newTarget := newRow.Value(tc.binding.Target)
			if !nullInt64Equal(oldTarget, newTarget) {
				return NewDerivedColumnTamperedError(tc.binding.Target, oldTarget, newTarget)
			}
			return nil

		default:
			return NewInvalidParameterError("operation", op, "must be insert or update")
		}
	})
}

// recompute derives the target from the new row's source value and writes it
// back, overwriting whatever the statement supplied for the target column.
func (tc *TriggerController) recompute(newRow Row) error {
	source := newRow.Value(tc.binding.Source)
	if !source.Valid {
		newRow.Set(tc.binding.Target, Null())
		return nil
	}

	id, err := tc.engine.composeChecked(source.Int64, tc.binding)
	if err != nil {
		return err
	}
	newRow.Set(tc.binding.Target, Int64(id))
	return nil
}

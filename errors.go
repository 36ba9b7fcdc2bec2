package seqveil

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// Validation errors
	ErrInvalidParameter = errors.New("invalid parameter")

	// Integrity errors
	ErrDerivedColumnTamperedWith = errors.New("derived column tampered with")
	ErrReversibilityFault        = errors.New("reversibility integrity fault")

	// Setup errors
	ErrConfigurationConflict = errors.New("configuration conflict")
	ErrGuardedDrop           = errors.New("guarded drop refused")

	// Service errors
	ErrKeySourceUnavailable     = errors.New("key source unavailable")
	ErrRegistryUnavailable      = errors.New("registry unavailable")
	ErrSnapshotStoreUnavailable = errors.New("snapshot store unavailable")
	ErrBindingNotFound          = errors.New("binding not found")
	ErrBindingExists            = errors.New("binding already exists")
)

func NewInvalidParameterError(param string, value any, reason string) error {
	return fmt.Errorf("%w: %s=%v %s", ErrInvalidParameter, param, value, reason)
}

func NewDerivedColumnTamperedError(column string, oldValue, newValue sql.NullInt64) error {
	return fmt.Errorf("%w: column '%s' changed from %s to %s while its source column is untouched",
		ErrDerivedColumnTamperedWith, column, formatNullInt64(oldValue), formatNullInt64(newValue))
}

func formatNullInt64(v sql.NullInt64) string {
	if !v.Valid {
		return "NULL"
	}
	return fmt.Sprintf("%d", v.Int64)
}

func NewReversibilityFaultError(column string, value int64) error {
	return fmt.Errorf("%w: identifier %d in column '%s' does not invert to its source",
		ErrReversibilityFault, value, column)
}

func NewConfigurationConflictError(detail string) error {
	return fmt.Errorf("%w: %s", ErrConfigurationConflict, detail)
}

func NewGuardedDropError(object string) error {
	return fmt.Errorf("%w: refusing to drop %s without an explicit force",
		ErrGuardedDrop, object)
}

func NewBindingNotFoundError(identity BindingIdentity) error {
	return fmt.Errorf("%w: %s", ErrBindingNotFound, identity)
}

func NewBindingExistsError(identity BindingIdentity) error {
	return fmt.Errorf("%w: %s", ErrBindingExists, identity)
}

// IsValidationError returns true if the error represents a parameter or
// configuration problem the caller can fix before retrying.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrConfigurationConflict)
}

// IsIntegrityError returns true if the error represents stored data that no
// longer matches what the binding's parameters would produce.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrDerivedColumnTamperedWith) ||
		errors.Is(err, ErrReversibilityFault)
}

// IsRetryableError returns true if the error represents a transient failure
// that might succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrKeySourceUnavailable) ||
		errors.Is(err, ErrRegistryUnavailable) ||
		errors.Is(err, ErrSnapshotStoreUnavailable)
}

// IsBindingNotFoundError returns true if the error reports a binding that is
// not registered (or no longer active).
func IsBindingNotFoundError(err error) bool {
	return errors.Is(err, ErrBindingNotFound)
}

package seqveil

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{"Invalid Parameter", ErrInvalidParameter, ErrInvalidParameter},
		{"Derived Column Tampered", ErrDerivedColumnTamperedWith, ErrDerivedColumnTamperedWith},
		{"Reversibility Fault", ErrReversibilityFault, ErrReversibilityFault},
		{"Configuration Conflict", ErrConfigurationConflict, ErrConfigurationConflict},
		{"Guarded Drop", ErrGuardedDrop, ErrGuardedDrop},
		{"Key Source Unavailable", ErrKeySourceUnavailable, ErrKeySourceUnavailable},
		{"Registry Unavailable", ErrRegistryUnavailable, ErrRegistryUnavailable},
		{"Binding Not Found", ErrBindingNotFound, ErrBindingNotFound},
		{"Binding Exists", ErrBindingExists, ErrBindingExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, tt.expected) {
				t.Errorf("Expected errors.Is(wrapped, %v) to be true", tt.expected)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		contains []string
	}{
		{
			name:     "invalid parameter names the parameter",
			err:      NewInvalidParameterError("bits", 41, "must be even"),
			sentinel: ErrInvalidParameter,
			contains: []string{"bits", "41", "must be even"},
		},
		{
			name:     "tamper names column and values",
			err:      NewDerivedColumnTamperedError("public_id", Int64(100), Int64(200)),
			sentinel: ErrDerivedColumnTamperedWith,
			contains: []string{"public_id", "100", "200"},
		},
		{
			name:     "tamper formats NULL",
			err:      NewDerivedColumnTamperedError("public_id", Null(), Int64(200)),
			sentinel: ErrDerivedColumnTamperedWith,
			contains: []string{"public_id", "NULL", "200"},
		},
		{
			name:     "reversibility names column and identifier",
			err:      NewReversibilityFaultError("public_id", 42),
			sentinel: ErrReversibilityFault,
			contains: []string{"public_id", "42"},
		},
		{
			name:     "configuration conflict carries detail",
			err:      NewConfigurationConflictError("time_bits + data_bits = 70 exceeds the 62-bit budget"),
			sentinel: ErrConfigurationConflict,
			contains: []string{"70", "62-bit"},
		},
		{
			name:     "guarded drop names the object",
			err:      NewGuardedDropError("schema seqveil"),
			sentinel: ErrGuardedDrop,
			contains: []string{"schema seqveil", "force"},
		},
		{
			name:     "binding not found names the identity",
			err:      NewBindingNotFoundError(BindingIdentity{Table: "orders", Source: "id", Target: "public_id"}),
			sentinel: ErrBindingNotFound,
			contains: []string{"orders:id:public_id"},
		},
		{
			name:     "binding exists names the identity",
			err:      NewBindingExistsError(BindingIdentity{Table: "orders", Source: "id", Target: "public_id"}),
			sentinel: ErrBindingExists,
			contains: []string{"orders:id:public_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("Expected errors.Is(%v, %v) to be true", tt.err, tt.sentinel)
			}
			msg := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("Expected message %q to contain %q", msg, want)
				}
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		isRetryable  bool
		isIntegrity  bool
		isValidation bool
	}{
		{
			name:         "Invalid Parameter",
			err:          fmt.Errorf("test: %w", ErrInvalidParameter),
			isValidation: true,
		},
		{
			name:         "Configuration Conflict",
			err:          fmt.Errorf("test: %w", ErrConfigurationConflict),
			isValidation: true,
		},
		{
			name:        "Derived Column Tampered",
			err:         fmt.Errorf("test: %w", ErrDerivedColumnTamperedWith),
			isIntegrity: true,
		},
		{
			name:        "Reversibility Fault",
			err:         fmt.Errorf("test: %w", ErrReversibilityFault),
			isIntegrity: true,
		},
		{
			name:        "Key Source Unavailable",
			err:         fmt.Errorf("test: %w", ErrKeySourceUnavailable),
			isRetryable: true,
		},
		{
			name:        "Registry Unavailable",
			err:         fmt.Errorf("test: %w", ErrRegistryUnavailable),
			isRetryable: true,
		},
		{
			name:        "Snapshot Store Unavailable",
			err:         fmt.Errorf("test: %w", ErrSnapshotStoreUnavailable),
			isRetryable: true,
		},
		{
			name: "Guarded Drop",
			err:  fmt.Errorf("test: %w", ErrGuardedDrop),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.isRetryable {
				t.Errorf("IsRetryableError() = %v, want %v", got, tt.isRetryable)
			}
			if got := IsIntegrityError(tt.err); got != tt.isIntegrity {
				t.Errorf("IsIntegrityError() = %v, want %v", got, tt.isIntegrity)
			}
			if got := IsValidationError(tt.err); got != tt.isValidation {
				t.Errorf("IsValidationError() = %v, want %v", got, tt.isValidation)
			}
		})
	}
}

func TestErrorClassificationMutualExclusivity(t *testing.T) {
	// Each taxonomy member belongs to exactly one classifier.
	testErrors := []error{
		ErrInvalidParameter,
		ErrConfigurationConflict,
		ErrDerivedColumnTamperedWith,
		ErrReversibilityFault,
		ErrKeySourceUnavailable,
		ErrRegistryUnavailable,
	}

	for _, err := range testErrors {
		wrapped := fmt.Errorf("test: %w", err)

		classifications := []bool{
			IsRetryableError(wrapped),
			IsIntegrityError(wrapped),
			IsValidationError(wrapped),
		}

		trueCount := 0
		for _, classification := range classifications {
			if classification {
				trueCount++
			}
		}

		if trueCount != 1 {
			t.Errorf("Error %v should be classified into exactly one category, got %d", err, trueCount)
		}
	}
}

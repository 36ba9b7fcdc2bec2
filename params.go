package seqveil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hengadev/errsx"
)

// identifierPattern accepts the unquoted-identifier subset that is safe to
// interpolate into generated DDL. Anything outside it must be rejected, not
// quoted, because trigger and function names are derived from these parts.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// BindingIdentity names the (table, source column, target column) triple a
// binding covers. The string form, joined with IdentityDelimiter, is the
// input to key derivation and the path component for externally stored keys,
// so it must be stable for the life of the binding.
type BindingIdentity struct {
	// Table is the table whose rows carry the derived identifier.
	Table string

	// Source is the column holding the value to permute, typically the
	// sequence-assigned primary key.
	Source string

	// Target is the column that receives the composed identifier.
	Target string
}

func (id BindingIdentity) String() string {
	return strings.Join([]string{id.Table, id.Source, id.Target}, IdentityDelimiter)
}

// Validate checks that every part of the identity is a plain lowercase SQL
// identifier and that the source and target columns differ.
func (id BindingIdentity) Validate() error {
	errs := errsx.Map{}

	check := func(field, value string) {
		if value == "" {
			errs.Set(field, fmt.Errorf("%s is required", field))
			return
		}
		if !identifierPattern.MatchString(value) {
			errs.Set(field, fmt.Errorf("%s %q must match %s", field, value, identifierPattern))
		}
	}
	check("table", id.Table)
	check("source", id.Source)
	check("target", id.Target)

	if id.Source != "" && id.Source == id.Target {
		errs.Set("target", fmt.Errorf("target column must differ from source column %q", id.Source))
	}

	return errs.AsError()
}

// Params holds the permutation parameters of one binding.
//
// Once rows exist under a binding, none of these values may change: the
// stored identifiers only invert under the exact parameters that produced
// them. The registry enforces this by refusing parameter drift on
// EnsureBinding.
type Params struct {
	// DataBits is the permutation width for the source value. Even,
	// 0 to MaxBits. Zero is the identity permutation over a single
	// point and only admits source value 0.
	DataBits int

	// Key is the binding's 31-bit permutation key.
	Key uint32

	// Rounds is the Feistel round count, MinRounds to MaxRounds.
	// Zero means "apply DefaultRounds" and is rewritten by Validate.
	Rounds int

	// TimeBits is the width of the time prefix composed above the data
	// bits. Zero disables the prefix entirely.
	TimeBits int

	// TimeBucket is the quantization interval in seconds. Required to be
	// at least 1 when TimeBits > 0.
	TimeBucket int64

	// TimeOffset is added to the clock reading, in seconds, before
	// quantization. Zero is a valid offset.
	TimeOffset int64

	// EncryptTime routes the quantized prefix through the permutation
	// (width TimeBits) before composition. Requires TimeBits even and at
	// least MinTimeBits, and tightens the width budget to MaxBits.
	EncryptTime bool
}

// TotalBits is the composed identifier width.
func (p Params) TotalBits() int {
	return p.DataBits + p.TimeBits
}

// Validate checks the parameters against the permutation engine's limits and
// the composed-width budget, applying DefaultRounds when Rounds is zero.
//
// Width, key and round violations are InvalidParameter errors; prefix
// configuration violations (budget overruns, odd or too-narrow encrypted
// prefix, missing bucket) are ConfigurationConflict errors, surfaced at
// binding-setup time rather than on row writes.
func (p *Params) Validate() error {
	errs := errsx.Map{}

	if p.Rounds == 0 {
		p.Rounds = DefaultRounds
	}

	switch {
	case p.DataBits < 0:
		errs.Set("data_bits", NewInvalidParameterError("data_bits", p.DataBits, "must not be negative"))
	case p.DataBits%2 != 0:
		errs.Set("data_bits", NewInvalidParameterError("data_bits", p.DataBits, "must be even"))
	case p.DataBits > MaxBits:
		errs.Set("data_bits", NewInvalidParameterError("data_bits", p.DataBits, fmt.Sprintf("must not exceed %d", MaxBits)))
	}

	if p.Key > MaxKey {
		errs.Set("key", NewInvalidParameterError("key", p.Key, fmt.Sprintf("must be below 2^%d", KeyBits)))
	}

	if p.Rounds < MinRounds || p.Rounds > MaxRounds {
		errs.Set("rounds", NewInvalidParameterError("rounds", p.Rounds, fmt.Sprintf("must be within [%d, %d]", MinRounds, MaxRounds)))
	}

	if p.TimeBits < 0 {
		errs.Set("time_bits", NewConfigurationConflictError(fmt.Sprintf("time_bits %d must not be negative", p.TimeBits)))
	}

	if p.TimeBits > 0 {
		if p.TimeBucket < 1 {
			errs.Set("time_bucket", NewConfigurationConflictError(fmt.Sprintf("time_bucket %d must be at least 1 second when time_bits > 0", p.TimeBucket)))
		}
		if p.EncryptTime && (p.TimeBits < MinTimeBits || p.TimeBits%2 != 0) {
			errs.Set("encrypt_time", NewConfigurationConflictError(fmt.Sprintf("encrypted time prefix needs an even width of at least %d bits, got %d", MinTimeBits, p.TimeBits)))
		}
	}

	budget := MaxRawBits
	if p.EncryptTime {
		budget = MaxBits
	}
	if p.TimeBits >= 0 && p.DataBits >= 0 && p.TotalBits() > budget {
		errs.Set("budget", NewConfigurationConflictError(fmt.Sprintf("time_bits + data_bits = %d exceeds the %d-bit budget", p.TotalBits(), budget)))
	}

	return errs.AsError()
}

// Diff names the first parameter that differs between p and other, or
// returns "" when they are equal. Registries use it to report which field a
// re-registration drifted on. Key values are never printed, only named.
func (p Params) Diff(other Params) string {
	switch {
	case p.DataBits != other.DataBits:
		return fmt.Sprintf("data_bits (%d vs %d)", p.DataBits, other.DataBits)
	case p.Key != other.Key:
		return "cipher_key"
	case p.Rounds != other.Rounds:
		return fmt.Sprintf("rounds (%d vs %d)", p.Rounds, other.Rounds)
	case p.TimeBits != other.TimeBits:
		return fmt.Sprintf("time_bits (%d vs %d)", p.TimeBits, other.TimeBits)
	case p.TimeBucket != other.TimeBucket:
		return fmt.Sprintf("time_bucket (%d vs %d)", p.TimeBucket, other.TimeBucket)
	case p.TimeOffset != other.TimeOffset:
		return fmt.Sprintf("time_offset (%d vs %d)", p.TimeOffset, other.TimeOffset)
	case p.EncryptTime != other.EncryptTime:
		return "encrypt_time"
	default:
		return ""
	}
}

// Binding ties an identity to its permutation parameters. This is the unit
// the registry stores and the trigger controller executes.
type Binding struct {
	BindingIdentity
	Params
}

// Validate checks the identity and the parameters together.
func (b *Binding) Validate() error {
	errs := errsx.Map{}

	if err := b.BindingIdentity.Validate(); err != nil {
		errs.Set("identity", err)
	}
	if err := b.Params.Validate(); err != nil {
		errs.Set("params", err)
	}

	return errs.AsError()
}

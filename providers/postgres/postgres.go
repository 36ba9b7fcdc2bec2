// Package postgres installs the permutation engine inside a PostgreSQL
// database as generated PL/pgSQL, so derived identifier columns are
// maintained by row triggers instead of application code.
//
// Install materializes the functions under a dedicated schema with the
// installation salt baked into the round function; Attach wires a table's
// source and target columns to the generic trigger function. The generated
// SQL produces exactly the same identifiers as the Go engine for the same
// salt, key and parameters, which Verify checks against a live database.
//
// The provider is driver-agnostic over database/sql. Errors raised by the
// installed procedures carry dedicated SQLSTATEs; run driver errors through
// MapSQLState to classify them with the package taxonomy. Requires
// PostgreSQL 14 or newer and the pgcrypto extension.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarenord/seqveil"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config describes one installation of the database-side engine.
type Config struct {
	// Schema receives the generated functions and catalog tables. Must be
	// a dedicated schema; installing into public or a pg_ schema is
	// refused because Uninstall drops the whole schema.
	Schema string

	// Salt is the installation salt, shared by every binding and baked
	// into the generated round function.
	Salt uint32

	// DefaultRounds is recorded with the installation and applied to
	// bindings attached without an explicit round count. Zero means
	// seqveil.DefaultRounds.
	DefaultRounds int
}

// Validate applies defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Schema == "" {
		c.Schema = seqveil.DefaultPostgresSchema
	}
	if err := validateSchema(c.Schema); err != nil {
		return err
	}
	if c.Salt > seqveil.MaxKey {
		return seqveil.NewInvalidParameterError("salt", c.Salt, fmt.Sprintf("must be below 2^%d", seqveil.KeyBits))
	}
	if c.DefaultRounds == 0 {
		c.DefaultRounds = seqveil.DefaultRounds
	}
	if c.DefaultRounds < seqveil.MinRounds || c.DefaultRounds > seqveil.MaxRounds {
		return seqveil.NewInvalidParameterError("default_rounds", c.DefaultRounds,
			fmt.Sprintf("must be within [%d, %d]", seqveil.MinRounds, seqveil.MaxRounds))
	}
	return nil
}

// InstalledConfig is the installation record read back from the database.
type InstalledConfig struct {
	Salt          uint32
	DefaultRounds int
	Version       string
	InstalledAt   time.Time
}

// AttachedBinding is a binding as recorded in the database catalog.
type AttachedBinding struct {
	ID string
	seqveil.Binding
	Retired   bool
	CreatedAt time.Time
}

// Install materializes the engine in the database: the pgcrypto dependency,
// the schema, the installation record, the permutation functions and the
// binding catalog.
//
// Re-running Install with the same salt and default rounds is an upgrade:
// the functions are replaced in place and the recorded version refreshed. A
// different salt or round default is a configuration conflict; replacing
// either would silently orphan every identifier composed so far.
func Install(ctx context.Context, db *sql.DB, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS pgcrypto"); err != nil {
		return fmt.Errorf("failed to ensure pgcrypto extension: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cfg.Schema)); err != nil {
		return fmt.Errorf("failed to create schema '%s': %w", cfg.Schema, err)
	}
	if _, err := db.ExecContext(ctx, configTableSQL(cfg.Schema)); err != nil {
		return fmt.Errorf("failed to create installation record table: %w", err)
	}

	var salt int64
	var rounds int
	err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT salt, default_rounds FROM %s._seqveil_config", cfg.Schema)).Scan(&salt, &rounds)
	switch {
	case err == nil:
		if uint32(salt) != cfg.Salt || rounds != cfg.DefaultRounds {
			return seqveil.NewConfigurationConflictError(fmt.Sprintf(
				"schema '%s' is already installed with salt fingerprint %s and %d default rounds",
				cfg.Schema, seqveil.SaltFingerprint(uint32(salt)), rounds))
		}
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s._seqveil_config SET version = $1", cfg.Schema), seqveil.Version); err != nil {
			return fmt.Errorf("failed to refresh installation version: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s._seqveil_config (salt, default_rounds, version) VALUES ($1, $2, $3)", cfg.Schema),
			int64(cfg.Salt), cfg.DefaultRounds, seqveil.Version); err != nil {
			return fmt.Errorf("failed to record installation: %w", err)
		}
	default:
		return fmt.Errorf("failed to read installation record: %w", err)
	}

	if _, err := db.ExecContext(ctx, functionsSQL(cfg.Schema, cfg.Salt)); err != nil {
		return fmt.Errorf("failed to install engine functions: %w", err)
	}
	if _, err := db.ExecContext(ctx, catalogSQL(cfg.Schema)); err != nil {
		return fmt.Errorf("failed to create binding catalog: %w", err)
	}

	log.Printf("Engine %s installed into schema '%s'", seqveil.Version, cfg.Schema)
	return nil
}

// GetConfig reads the installation record for a schema.
func GetConfig(ctx context.Context, db *sql.DB, schema string) (*InstalledConfig, error) {
	if err := validateSchema(schema); err != nil {
		return nil, err
	}
	if err := requireInstalled(ctx, db, schema); err != nil {
		return nil, err
	}

	var cfg InstalledConfig
	var salt int64
	err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT salt, default_rounds, version, installed_at FROM %s._seqveil_config", schema)).
		Scan(&salt, &cfg.DefaultRounds, &cfg.Version, &cfg.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notInstalledError(schema)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read installation record: %w", err)
	}
	cfg.Salt = uint32(salt)

	return &cfg, nil
}

// Attach registers a binding and creates the row trigger keeping its target
// column derived from its source column. Attaching an identical binding
// again is a no-op; a binding that differs from the recorded one for the
// same derived column is a configuration conflict.
func Attach(ctx context.Context, db *sql.DB, schema string, binding seqveil.Binding) error {
	if err := validateSchema(schema); err != nil {
		return err
	}
	if err := requireInstalled(ctx, db, schema); err != nil {
		return err
	}
	if binding.Rounds == 0 {
		cfg, err := GetConfig(ctx, db, schema)
		if err != nil {
			return err
		}
		binding.Rounds = cfg.DefaultRounds
	}
	if err := binding.Validate(); err != nil {
		return err
	}
	if err := checkColumns(ctx, db, binding); err != nil {
		return err
	}

	existing, err := findActive(ctx, db, schema, binding.Table, binding.Target)
	if err != nil && !seqveil.IsBindingNotFoundError(err) {
		return err
	}
	if existing != nil {
		if existing.Source != binding.Source {
			return seqveil.NewConfigurationConflictError(fmt.Sprintf(
				"column %s.%s is already derived from source column '%s'", binding.Table, binding.Target, existing.Source))
		}
		if drift := existing.Params.Diff(binding.Params); drift != "" {
			return seqveil.NewConfigurationConflictError(fmt.Sprintf(
				"binding '%s' is already attached with different %s", binding.BindingIdentity.String(), drift))
		}
		return nil
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s._seqveil_bindings (
			id, table_name, source_column, target_column,
			data_bits, cipher_key, rounds,
			time_bits, time_bucket, time_offset, encrypt_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, schema),
		uuid.New().String(), binding.Table, binding.Source, binding.Target,
		binding.DataBits, int64(binding.Key), binding.Rounds,
		binding.TimeBits, binding.TimeBucket, binding.TimeOffset, binding.EncryptTime,
	); err != nil {
		return fmt.Errorf("failed to record binding '%s': %w", binding.BindingIdentity.String(), err)
	}

	if _, err := db.ExecContext(ctx, attachTriggerSQL(schema, binding)); err != nil {
		return fmt.Errorf("failed to create trigger for '%s': %w", binding.BindingIdentity.String(), err)
	}

	log.Printf("Binding attached for '%s' (%d data bits, %d rounds)", binding.BindingIdentity.String(), binding.DataBits, binding.Rounds)
	return nil
}

// Detach drops the trigger deriving a target column and retires its catalog
// row. Without the trigger nothing defends the column against tampering or
// recomputes it on source changes, so detaching demands an explicit force.
func Detach(ctx context.Context, db *sql.DB, schema, table, target string, force bool) error {
	if err := validateSchema(schema); err != nil {
		return err
	}
	for _, part := range []string{table, target} {
		if !identifierPattern.MatchString(part) {
			return seqveil.NewInvalidParameterError("identifier", part, fmt.Sprintf("must match %s", identifierPattern))
		}
	}
	if err := requireInstalled(ctx, db, schema); err != nil {
		return err
	}

	existing, err := findActive(ctx, db, schema, table, target)
	if err != nil {
		return err
	}
	if !force {
		return seqveil.NewGuardedDropError(fmt.Sprintf("binding '%s'", existing.BindingIdentity.String()))
	}

	if _, err := db.ExecContext(ctx,
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", TriggerName(table, target), table)); err != nil {
		return fmt.Errorf("failed to drop trigger for %s.%s: %w", table, target, err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s._seqveil_bindings SET retired = TRUE WHERE id = $1", schema), existing.ID); err != nil {
		return fmt.Errorf("failed to retire binding '%s': %w", existing.BindingIdentity.String(), err)
	}

	log.Printf("Binding detached for '%s'", existing.BindingIdentity.String())
	return nil
}

// Uninstall drops the installation schema and everything in it. The drop
// cascades through the trigger function to every attached trigger, so it is
// refused while active bindings exist unless forced.
func Uninstall(ctx context.Context, db *sql.DB, schema string, force bool) error {
	if err := validateSchema(schema); err != nil {
		return err
	}
	if err := requireInstalled(ctx, db, schema); err != nil {
		return err
	}

	var active int
	err := db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s._seqveil_bindings WHERE NOT retired", schema)).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to count active bindings: %w", err)
	}
	if active > 0 && !force {
		return seqveil.NewGuardedDropError(fmt.Sprintf("schema '%s' (%d active bindings)", schema, active))
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA %s CASCADE", schema)); err != nil {
		return fmt.Errorf("failed to drop schema '%s': %w", schema, err)
	}

	log.Printf("Engine uninstalled from schema '%s' (%d bindings dropped)", schema, active)
	return nil
}

// ListBindings returns the catalog ordered by identity, optionally with
// retired rows.
func ListBindings(ctx context.Context, db *sql.DB, schema string, includeRetired bool) ([]AttachedBinding, error) {
	if err := validateSchema(schema); err != nil {
		return nil, err
	}
	if err := requireInstalled(ctx, db, schema); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, table_name, source_column, target_column,
		       data_bits, cipher_key, rounds,
		       time_bits, time_bucket, time_offset, encrypt_time,
		       retired, created_at
		FROM %s._seqveil_bindings
	`, schema)
	if !includeRetired {
		query += " WHERE NOT retired"
	}
	query += " ORDER BY table_name, source_column, target_column, created_at"

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []AttachedBinding
	for rows.Next() {
		var b AttachedBinding
		var key int64
		if err := rows.Scan(
			&b.ID, &b.Table, &b.Source, &b.Target,
			&b.DataBits, &key, &b.Rounds,
			&b.TimeBits, &b.TimeBucket, &b.TimeOffset, &b.EncryptTime,
			&b.Retired, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan binding row: %w", err)
		}
		b.Key = uint32(key)
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bindings: %w", err)
	}

	return bindings, nil
}

// ExportManifest renders the database catalog, retired bindings included,
// as a manifest under the installed salt.
func ExportManifest(ctx context.Context, db *sql.DB, schema string) (seqveil.Manifest, error) {
	cfg, err := GetConfig(ctx, db, schema)
	if err != nil {
		return seqveil.Manifest{}, err
	}
	bindings, err := ListBindings(ctx, db, schema, true)
	if err != nil {
		return seqveil.Manifest{}, err
	}

	entries := make([]seqveil.ManifestEntry, 0, len(bindings))
	for _, b := range bindings {
		entries = append(entries, seqveil.NewManifestEntry(b.Binding, b.Retired, b.CreatedAt))
	}

	return seqveil.NewManifest(cfg.Salt, entries), nil
}

// Verify cross-checks the installed procedures against the Go engine: the
// database-side permutation must be a bijection over a small exhaustive
// domain, must match the Go permutation value for value under the installed
// salt, and composition with a pinned timestamp must agree across hosts.
// Any divergence is reported as a reversibility fault.
func Verify(ctx context.Context, db *sql.DB, schema string) error {
	cfg, err := GetConfig(ctx, db, schema)
	if err != nil {
		return err
	}

	probeKey := seqveil.DeriveKey("seqveil:verify:probe")

	for _, rounds := range []int{seqveil.MinRounds, seqveil.DefaultRounds, seqveil.MaxRounds} {
		var distinct int
		err := db.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT count(DISTINCT %s.permute(i, 8, $1::int, $2::int)) FROM generate_series(0, 255) AS i", schema),
			int64(probeKey), rounds).Scan(&distinct)
		if err != nil {
			return MapSQLState(err)
		}
		if distinct != 256 {
			return fmt.Errorf("%w: database-side permute covered %d of 256 values with %d rounds",
				seqveil.ErrReversibilityFault, distinct, rounds)
		}
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT i, %s.permute(i, 40, $1::int, $2::int) FROM generate_series(0, 63) AS i", schema),
		int64(probeKey), seqveil.DefaultRounds)
	if err != nil {
		return MapSQLState(err)
	}
	defer rows.Close()
	for rows.Next() {
		var in, got int64
		if err := rows.Scan(&in, &got); err != nil {
			return fmt.Errorf("failed to scan parity row: %w", err)
		}
		want, err := seqveil.Permute(in, 40, probeKey, cfg.Salt, seqveil.DefaultRounds)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: permute(%d) is %d in the database but %d in process",
				seqveil.ErrReversibilityFault, in, got, want)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate parity rows: %w", err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	params := seqveil.Params{DataBits: 40, Key: probeKey, Rounds: seqveil.DefaultRounds, TimeBits: 16, TimeBucket: 3600}
	want, err := seqveil.Compose(12345, at, params, cfg.Salt)
	if err != nil {
		return err
	}
	var got int64
	err = db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT %s.compose($1, 40, $2::int, $3::int, 16, 3600, 0, false, $4)", schema),
		int64(12345), int64(probeKey), seqveil.DefaultRounds, at).Scan(&got)
	if err != nil {
		return MapSQLState(err)
	}
	if got != want {
		return fmt.Errorf("%w: compose at %s is %d in the database but %d in process",
			seqveil.ErrReversibilityFault, at.Format(time.RFC3339), got, want)
	}

	return nil
}

// MapSQLState classifies errors raised by the installed procedures into the
// package taxonomy. Errors without a recognized SQLSTATE pass through
// unchanged, so the function is safe to apply to every database error.
func MapSQLState(err error) error {
	if err == nil {
		return nil
	}
	var coder interface{ SQLState() string }
	if !errors.As(err, &coder) {
		return err
	}
	switch coder.SQLState() {
	case SQLStateInvalidParameter:
		return fmt.Errorf("%w: %w", seqveil.ErrInvalidParameter, err)
	case SQLStateTampered:
		return fmt.Errorf("%w: %w", seqveil.ErrDerivedColumnTamperedWith, err)
	case SQLStateReversibilityFault:
		return fmt.Errorf("%w: %w", seqveil.ErrReversibilityFault, err)
	case SQLStateConfigurationConflict:
		return fmt.Errorf("%w: %w", seqveil.ErrConfigurationConflict, err)
	default:
		return err
	}
}

func validateSchema(schema string) error {
	if !identifierPattern.MatchString(schema) {
		return seqveil.NewInvalidParameterError("schema", schema, fmt.Sprintf("must match %s", identifierPattern))
	}
	// Uninstall drops the schema wholesale, so shared namespaces are out.
	if schema == "public" || strings.HasPrefix(schema, "pg_") {
		return seqveil.NewInvalidParameterError("schema", schema, "must be a dedicated schema")
	}
	return nil
}

func notInstalledError(schema string) error {
	return fmt.Errorf("%w: schema '%s' has no engine installation, run install first",
		seqveil.ErrConfigurationConflict, schema)
}

func requireInstalled(ctx context.Context, db *sql.DB, schema string) error {
	var reg sql.NullString
	err := db.QueryRowContext(ctx, "SELECT to_regclass($1)::text", schema+"._seqveil_config").Scan(&reg)
	if err != nil {
		return fmt.Errorf("failed to probe installation in schema '%s': %w", schema, err)
	}
	if !reg.Valid {
		return notInstalledError(schema)
	}
	return nil
}

// checkColumns verifies the bound columns exist with integer types wide
// enough to hold their values. The target must be bigint because composed
// identifiers use up to 63 bits.
func checkColumns(ctx context.Context, db *sql.DB, binding seqveil.Binding) error {
	sourceType, err := columnType(ctx, db, binding.Table, binding.Source)
	if err != nil {
		return err
	}
	switch sourceType {
	case "smallint", "integer", "bigint":
	default:
		return seqveil.NewInvalidParameterError("source", binding.Source,
			fmt.Sprintf("must be an integer column, got %s", sourceType))
	}

	targetType, err := columnType(ctx, db, binding.Table, binding.Target)
	if err != nil {
		return err
	}
	if targetType != "bigint" {
		return seqveil.NewInvalidParameterError("target", binding.Target,
			fmt.Sprintf("must be a bigint column, got %s", targetType))
	}

	return nil
}

func columnType(ctx context.Context, db *sql.DB, table, column string) (string, error) {
	var typeName string
	err := db.QueryRowContext(ctx, `
		SELECT atttypid::regtype::text
		FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = $2 AND NOT attisdropped AND attnum > 0
	`, table, column).Scan(&typeName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", seqveil.NewInvalidParameterError("column", table+"."+column, "does not exist")
	} else if err != nil {
		return "", fmt.Errorf("failed to inspect column %s.%s: %w", table, column, err)
	}
	return typeName, nil
}

func findActive(ctx context.Context, db *sql.DB, schema, table, target string) (*AttachedBinding, error) {
	var b AttachedBinding
	var key int64
	err := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, table_name, source_column, target_column,
		       data_bits, cipher_key, rounds,
		       time_bits, time_bucket, time_offset, encrypt_time,
		       retired, created_at
		FROM %s._seqveil_bindings
		WHERE table_name = $1 AND target_column = $2 AND NOT retired
	`, schema), table, target).Scan(
		&b.ID, &b.Table, &b.Source, &b.Target,
		&b.DataBits, &key, &b.Rounds,
		&b.TimeBits, &b.TimeBucket, &b.TimeOffset, &b.EncryptTime,
		&b.Retired, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active binding derives %s.%s", seqveil.ErrBindingNotFound, table, target)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read binding for %s.%s: %w", table, target, err)
	}
	b.Key = uint32(key)

	return &b, nil
}

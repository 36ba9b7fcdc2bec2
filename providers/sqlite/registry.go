// Package sqlite persists binding configurations in a local SQLite file.
//
// The registry is the durable record of which tables carry derived
// identifier columns and with which parameters. Identifiers can only be
// decomposed with the exact parameters they were composed under, so the
// registry refuses silent parameter drift and guards destructive drops.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tarenord/seqveil"
)

// StoredBinding is a binding as recorded in the registry.
type StoredBinding struct {
	ID string
	seqveil.Binding
	Retired   bool
	CreatedAt time.Time
}

// Registry stores binding configurations in a SQLite database.
type Registry struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) a registry database at the given path. The
// parent directory is created when missing. ":memory:" is accepted for
// throwaway registries.
func Open(path string) (*Registry, error) {
	if path == "" {
		return nil, seqveil.NewInvalidParameterError("path", path, "cannot be empty")
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("%w: failed to create registry directory '%s': %w", seqveil.ErrRegistryUnavailable, dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open registry at '%s': %w", seqveil.ErrRegistryUnavailable, path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: registry connection test failed for '%s': %w", seqveil.ErrRegistryUnavailable, path, err)
	}

	registry := &Registry{db: db, path: path}
	if err := registry.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return registry, nil
}

// initializeSchema creates the registry schema. The partial unique index
// allows an identity to be retired and re-created while keeping at most
// one active row per identity.
func (r *Registry) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS bindings (
			id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			source_column TEXT NOT NULL,
			target_column TEXT NOT NULL,
			data_bits INTEGER NOT NULL,
			cipher_key INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			time_bits INTEGER NOT NULL DEFAULT 0,
			time_bucket INTEGER NOT NULL DEFAULT 0,
			time_offset INTEGER NOT NULL DEFAULT 0,
			encrypt_time BOOLEAN NOT NULL DEFAULT FALSE,
			retired BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_bindings_target_active
			ON bindings(table_name, target_column) WHERE retired = FALSE;
		CREATE INDEX IF NOT EXISTS idx_bindings_table ON bindings(table_name);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: failed to create registry schema in '%s': %w", seqveil.ErrRegistryUnavailable, r.path, err)
	}

	return nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Path returns the database path the registry was opened with.
func (r *Registry) Path() string {
	return r.path
}

// CreateBinding validates and records a new binding. Zero rounds are
// rewritten to the default before the row is written, so every stored
// binding carries the concrete parameters identifiers are composed under.
//
// A target column admits at most one active binding: a second binding for
// the same (table, target) pair is rejected even when its source column
// differs, since two writers per derived column cannot both hold the
// reversibility guarantee.
func (r *Registry) CreateBinding(ctx context.Context, binding seqveil.Binding) (*StoredBinding, error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}

	existing, err := r.FindBindingForColumn(ctx, binding.Table, binding.Target)
	if err != nil && !seqveil.IsBindingNotFoundError(err) {
		return nil, err
	}
	if existing != nil {
		if existing.BindingIdentity == binding.BindingIdentity {
			return nil, seqveil.NewBindingExistsError(binding.BindingIdentity)
		}
		return nil, seqveil.NewConfigurationConflictError(
			fmt.Sprintf("column %s.%s is already derived from source column '%s'", binding.Table, binding.Target, existing.Source))
	}

	// Truncated to the RFC3339 second precision the column stores, so the
	// returned struct matches what a later read sees.
	stored := &StoredBinding{
		ID:        uuid.New().String(),
		Binding:   binding,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bindings (
			id, table_name, source_column, target_column,
			data_bits, cipher_key, rounds,
			time_bits, time_bucket, time_offset, encrypt_time,
			retired, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?)
	`,
		stored.ID, binding.Table, binding.Source, binding.Target,
		binding.DataBits, binding.Key, binding.Rounds,
		binding.TimeBits, binding.TimeBucket, binding.TimeOffset, binding.EncryptTime,
		stored.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to record binding '%s': %w", seqveil.ErrRegistryUnavailable, binding.BindingIdentity.String(), err)
	}

	log.Printf("Binding recorded for '%s' (%d data bits, %d rounds)", binding.BindingIdentity.String(), binding.DataBits, binding.Rounds)
	return stored, nil
}

// GetBinding returns the active binding for an identity.
func (r *Registry) GetBinding(ctx context.Context, identity seqveil.BindingIdentity) (*StoredBinding, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, table_name, source_column, target_column,
		       data_bits, cipher_key, rounds,
		       time_bits, time_bucket, time_offset, encrypt_time,
		       retired, created_at
		FROM bindings
		WHERE table_name = ? AND source_column = ? AND target_column = ? AND retired = FALSE
	`, identity.Table, identity.Source, identity.Target)

	stored, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, seqveil.NewBindingNotFoundError(identity)
	} else if err != nil {
		return nil, fmt.Errorf("%w: failed to read binding '%s': %w", seqveil.ErrRegistryUnavailable, identity.String(), err)
	}

	return stored, nil
}

// FindBindingForColumn returns the active binding deriving a target column,
// whatever its source.
func (r *Registry) FindBindingForColumn(ctx context.Context, table, target string) (*StoredBinding, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, table_name, source_column, target_column,
		       data_bits, cipher_key, rounds,
		       time_bits, time_bucket, time_offset, encrypt_time,
		       retired, created_at
		FROM bindings
		WHERE table_name = ? AND target_column = ? AND retired = FALSE
	`, table, target)

	stored, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no active binding derives %s.%s", seqveil.ErrBindingNotFound, table, target)
	} else if err != nil {
		return nil, fmt.Errorf("%w: failed to read binding for %s.%s: %w", seqveil.ErrRegistryUnavailable, table, target, err)
	}

	return stored, nil
}

// ListBindings returns all bindings ordered by identity. Retired rows are
// included only when requested; manifest export wants them, attachment
// tooling does not.
func (r *Registry) ListBindings(ctx context.Context, includeRetired bool) ([]StoredBinding, error) {
	query := `
		SELECT id, table_name, source_column, target_column,
		       data_bits, cipher_key, rounds,
		       time_bits, time_bucket, time_offset, encrypt_time,
		       retired, created_at
		FROM bindings
	`
	if !includeRetired {
		query += " WHERE retired = FALSE"
	}
	query += " ORDER BY table_name, source_column, target_column, created_at"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list bindings: %w", seqveil.ErrRegistryUnavailable, err)
	}
	defer rows.Close()

	var bindings []StoredBinding
	for rows.Next() {
		stored, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan binding row: %w", seqveil.ErrRegistryUnavailable, err)
		}
		bindings = append(bindings, *stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate bindings: %w", seqveil.ErrRegistryUnavailable, err)
	}

	return bindings, nil
}

// EnsureBinding returns the active binding for the identity, creating it
// when missing. A recorded binding whose parameters differ from the
// requested ones is a configuration conflict, never an overwrite:
// identifiers already composed under the stored parameters would become
// unrecoverable.
func (r *Registry) EnsureBinding(ctx context.Context, binding seqveil.Binding) (*StoredBinding, error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}

	existing, err := r.GetBinding(ctx, binding.BindingIdentity)
	if seqveil.IsBindingNotFoundError(err) {
		return r.CreateBinding(ctx, binding)
	} else if err != nil {
		return nil, err
	}

	if drift := existing.Params.Diff(binding.Params); drift != "" {
		return nil, seqveil.NewConfigurationConflictError(
			fmt.Sprintf("binding '%s' already exists with different %s", binding.BindingIdentity.String(), drift))
	}

	return existing, nil
}

// RetireBinding marks the active binding for an identity as retired. The
// row is kept so manifests still describe how historical identifiers were
// composed.
func (r *Registry) RetireBinding(ctx context.Context, identity seqveil.BindingIdentity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE bindings SET retired = TRUE
		WHERE table_name = ? AND source_column = ? AND target_column = ? AND retired = FALSE
	`, identity.Table, identity.Source, identity.Target)
	if err != nil {
		return fmt.Errorf("%w: failed to retire binding '%s': %w", seqveil.ErrRegistryUnavailable, identity.String(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to confirm retirement of '%s': %w", seqveil.ErrRegistryUnavailable, identity.String(), err)
	}
	if affected == 0 {
		return seqveil.NewBindingNotFoundError(identity)
	}

	log.Printf("Binding retired for '%s'", identity.String())
	return nil
}

// DeleteBinding removes every row for an identity, retired ones included.
// Deletion discards the parameters needed to decompose existing
// identifiers, so it refuses to run unless force is set.
func (r *Registry) DeleteBinding(ctx context.Context, identity seqveil.BindingIdentity, force bool) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if !force {
		return seqveil.NewGuardedDropError(fmt.Sprintf("binding '%s'", identity.String()))
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM bindings
		WHERE table_name = ? AND source_column = ? AND target_column = ?
	`, identity.Table, identity.Source, identity.Target)
	if err != nil {
		return fmt.Errorf("%w: failed to delete binding '%s': %w", seqveil.ErrRegistryUnavailable, identity.String(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to confirm deletion of '%s': %w", seqveil.ErrRegistryUnavailable, identity.String(), err)
	}
	if affected == 0 {
		return seqveil.NewBindingNotFoundError(identity)
	}

	log.Printf("Binding deleted for '%s'", identity.String())
	return nil
}

// ExportManifest renders the full registry, retired bindings included, as
// a manifest for the given installation salt.
func (r *Registry) ExportManifest(ctx context.Context, salt uint32) (seqveil.Manifest, error) {
	bindings, err := r.ListBindings(ctx, true)
	if err != nil {
		return seqveil.Manifest{}, err
	}

	entries := make([]seqveil.ManifestEntry, 0, len(bindings))
	for _, stored := range bindings {
		entries = append(entries, seqveil.NewManifestEntry(stored.Binding, stored.Retired, stored.CreatedAt))
	}

	return seqveil.NewManifest(salt, entries), nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBinding(row scanner) (*StoredBinding, error) {
	var stored StoredBinding
	var createdAt string

	err := row.Scan(
		&stored.ID, &stored.Table, &stored.Source, &stored.Target,
		&stored.DataBits, &stored.Key, &stored.Rounds,
		&stored.TimeBits, &stored.TimeBucket, &stored.TimeOffset, &stored.EncryptTime,
		&stored.Retired, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	stored.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at '%s' for binding '%s': %w", createdAt, stored.BindingIdentity.String(), err)
	}

	return &stored, nil
}

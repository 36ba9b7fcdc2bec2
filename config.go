package seqveil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hengadev/errsx"

	"github.com/tarenord/seqveil/internal/config"
)

// Config holds the configuration for creating an Engine and its registry.
//
// This struct contains only data, no behavior. Configuration can be loaded
// from any source (environment variables, files, code, etc.) and passed
// explicitly to the constructors.
//
// Required fields:
//   - Salt: the installation salt, shared by every binding
//
// Optional fields (defaults are applied if empty):
//   - DefaultRounds: Feistel rounds for bindings that set none (default: 4)
//   - RegistryPath: binding registry directory (default: .seqveil)
//   - RegistryFilename: binding registry filename (default: bindings.db)
//   - PostgresSchema: schema for database-side installs (default: seqveil)
//   - SnapshotPrefix: S3 key prefix for manifest snapshots
//     (default: seqveil/manifests)
//
// Example usage:
//
//	salt := uint32(914030010)
//	cfg := seqveil.Config{
//	    Salt:         &salt,
//	    RegistryPath: "/var/lib/seqveil",
//	}
//
//	// Validate and apply defaults
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := seqveil.New(*cfg.Salt, seqveil.WithDefaultRounds(cfg.DefaultRounds))
type Config struct {
	// Salt is the installation salt mixed into every round function.
	//
	// It is not a secret, it only separates installations: the same
	// binding key under two salts yields two unrelated identifier
	// sequences. Zero is a legal salt, which is why this field is a
	// pointer; nil means "not configured" and fails validation.
	//
	// Required field. Range: [0, MaxKey].
	Salt *uint32 `yaml:"salt"`

	// DefaultRounds is applied to bindings whose Rounds is zero.
	//
	// Optional field. Default: DefaultRounds (4).
	DefaultRounds int `yaml:"default_rounds"`

	// RegistryPath is the directory where the binding registry database
	// is stored.
	//
	// This SQLite database records binding identities and parameters so
	// identifiers remain invertible across restarts.
	// If empty, the default ".seqveil" is used.
	//
	// Optional field. Default: .seqveil
	RegistryPath string `yaml:"registry_path"`

	// RegistryFilename is the filename of the binding registry database.
	//
	// If empty, the default "bindings.db" is used.
	//
	// Optional field. Default: bindings.db
	RegistryFilename string `yaml:"registry_filename"`

	// PostgresDSN is the connection string used for database-side
	// installs and binding attachment.
	//
	// Optional field; only commands touching PostgreSQL need it. The
	// SEQVEIL_PG_DSN environment variable is the usual home for this
	// value so credentials stay out of checked-in config files.
	PostgresDSN string `yaml:"postgres_dsn"`

	// PostgresSchema is the schema the database-side functions are
	// installed under.
	//
	// Optional field. Default: seqveil
	PostgresSchema string `yaml:"postgres_schema"`

	// SnapshotBucket is the S3 bucket receiving manifest snapshots.
	//
	// Optional field; only the snapshot command needs it.
	SnapshotBucket string `yaml:"snapshot_bucket"`

	// SnapshotPrefix is the key prefix under which manifest snapshots
	// are written.
	//
	// Optional field. Default: seqveil/manifests
	SnapshotPrefix string `yaml:"snapshot_prefix"`
}

// Validate checks that the configuration is valid and applies defaults to
// optional fields.
//
// This method:
//   - Ensures Salt is set and within [0, MaxKey]
//   - Ensures DefaultRounds, if set, is within [MinRounds, MaxRounds]
//   - Applies defaults to RegistryPath, RegistryFilename, PostgresSchema
//     and SnapshotPrefix if empty
//
// All violations are collected and returned together, wrapped as a
// ConfigurationConflict error.
func (c *Config) Validate() error {
	errs := errsx.Map{}

	if c.Salt == nil {
		errs.Set("salt", fmt.Errorf("installation salt is required (set %s or the salt key in the config file)", EnvSalt))
	} else if *c.Salt > MaxKey {
		errs.Set("salt", NewInvalidParameterError("salt", *c.Salt, fmt.Sprintf("must be below 2^%d", KeyBits)))
	}

	if c.DefaultRounds == 0 {
		c.DefaultRounds = DefaultRounds
	}
	if c.DefaultRounds < MinRounds || c.DefaultRounds > MaxRounds {
		errs.Set("default_rounds", NewInvalidParameterError("default_rounds", c.DefaultRounds, fmt.Sprintf("must be within [%d, %d]", MinRounds, MaxRounds)))
	}

	// Apply defaults to optional fields
	if c.RegistryPath == "" {
		// Try to find project root (directory with go.mod), fall back to relative path if not found
		cwd, err := os.Getwd()
		if err == nil {
			if projectRoot, err := config.FindProjectRoot(cwd); err == nil {
				c.RegistryPath = filepath.Join(projectRoot, DefaultRegistryDir)
			} else {
				// If go.mod not found, use relative path (for non-Go-module projects)
				c.RegistryPath = DefaultRegistryDir
			}
		} else {
			// If we can't get cwd, fall back to relative path
			c.RegistryPath = DefaultRegistryDir
		}
	}

	if c.RegistryFilename == "" {
		c.RegistryFilename = DefaultRegistryFilename
	}

	if c.PostgresSchema == "" {
		c.PostgresSchema = DefaultPostgresSchema
	}
	if !identifierPattern.MatchString(c.PostgresSchema) {
		errs.Set("postgres_schema", NewInvalidParameterError("postgres_schema", c.PostgresSchema, fmt.Sprintf("must match %s", identifierPattern)))
	}

	if c.SnapshotPrefix == "" {
		c.SnapshotPrefix = DefaultSnapshotPrefix
	}

	if !errs.IsEmpty() {
		return fmt.Errorf("%w: %s", ErrConfigurationConflict, errs.AsError())
	}
	return nil
}

// RegistryFile is the full path of the binding registry database after
// Validate has applied defaults.
func (c *Config) RegistryFile() string {
	return filepath.Join(c.RegistryPath, c.RegistryFilename)
}

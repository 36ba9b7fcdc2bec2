package seqveil

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadConfigFromEnvironment loads configuration from environment variables.
//
// This function reads configuration from standard environment variables and
// returns a validated Config struct. It follows the 12-factor app
// methodology where configuration is read from the environment.
//
// Required environment variables:
//   - SEQVEIL_SALT: installation salt, decimal integer in [0, MaxKey]
//
// Optional environment variables (defaults are applied if not set):
//   - SEQVEIL_DEFAULT_ROUNDS: default Feistel round count (default: 4)
//   - SEQVEIL_REGISTRY_PATH: registry directory (default: .seqveil)
//   - SEQVEIL_REGISTRY_FILENAME: registry filename (default: bindings.db)
//   - SEQVEIL_PG_DSN: PostgreSQL connection string
//   - SEQVEIL_PG_SCHEMA: schema for database-side installs (default: seqveil)
//   - SEQVEIL_SNAPSHOT_BUCKET: S3 bucket for manifest snapshots
//   - SEQVEIL_SNAPSHOT_PREFIX: S3 key prefix (default: seqveil/manifests)
//
// Returns an error if required variables are missing or validation fails.
//
// Example usage (12-factor app):
//
//	// Set environment variables (typically in deployment config):
//	// export SEQVEIL_SALT="914030010"
//	// export SEQVEIL_REGISTRY_PATH="/var/lib/seqveil"  # optional
//
//	cfg, err := seqveil.LoadConfigFromEnvironment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := seqveil.New(*cfg.Salt, seqveil.WithDefaultRounds(cfg.DefaultRounds))
func LoadConfigFromEnvironment() (Config, error) {
	// Read required environment variables
	saltRaw := os.Getenv(EnvSalt)
	if saltRaw == "" {
		return Config{}, fmt.Errorf("%s environment variable is required", EnvSalt)
	}
	salt64, err := strconv.ParseUint(saltRaw, 10, 32)
	if err != nil || salt64 > MaxKey {
		return Config{}, fmt.Errorf("%s must be a decimal integer in [0, %d], got %q", EnvSalt, MaxKey, saltRaw)
	}
	salt := uint32(salt64)

	// Read optional environment variables with defaults
	rounds := DefaultRounds
	if roundsRaw := os.Getenv(EnvDefaultRounds); roundsRaw != "" {
		rounds, err = strconv.Atoi(roundsRaw)
		if err != nil {
			return Config{}, fmt.Errorf("%s must be a decimal integer, got %q", EnvDefaultRounds, roundsRaw)
		}
	}

	cfg := Config{
		Salt:             &salt,
		DefaultRounds:    rounds,
		RegistryPath:     getEnvOrDefault(EnvRegistryPath, ""),
		RegistryFilename: getEnvOrDefault(EnvRegistryFilename, DefaultRegistryFilename),
		PostgresDSN:      os.Getenv(EnvPostgresDSN),
		PostgresSchema:   getEnvOrDefault(EnvPostgresSchema, DefaultPostgresSchema),
		SnapshotBucket:   os.Getenv(EnvSnapshotBucket),
		SnapshotPrefix:   getEnvOrDefault(EnvSnapshotPrefix, DefaultSnapshotPrefix),
	}

	// Validate config (this also applies defaults if needed)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromFile loads configuration from a YAML file.
//
// The file uses flat snake_case keys mirroring the Config fields:
//
//	salt: 914030010
//	default_rounds: 4
//	registry_path: /var/lib/seqveil
//	postgres_schema: seqveil
//	snapshot_bucket: my-manifests
//
// The returned Config has been validated and carries defaults for every
// optional field left unset. The PostgresDSN field may be set in the file
// but is usually left to the SEQVEIL_PG_DSN environment variable so
// credentials stay out of version control.
func LoadConfigFromFile(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfigToFile writes the configuration to a YAML file.
func SaveConfigToFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getEnvOrDefault returns the value of an environment variable, or a default
// value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

package seqveil

// Permutation domain constraints
const (
	// MaxBits is the widest permutation domain a binding may use. Values
	// wider than 62 bits cannot share a signed 64-bit column with a time
	// prefix, so the permutation core refuses them.
	MaxBits = 62

	// MaxRawBits is the widest composed identifier, in bits, that fits a
	// signed 64-bit column without touching the sign bit. A binding's
	// data_bits + time_bits must not exceed it when the time prefix is
	// stored raw.
	MaxRawBits = 63

	// MinTimeBits is the narrowest encrypted time prefix. Encrypting the
	// prefix runs it through the permutation, which needs an even width
	// of at least two bits.
	MinTimeBits = 2

	// KeyBits is the width of a binding key. Keys are 31-bit so they fit
	// a signed 32-bit integer on every storage backend.
	KeyBits = 31

	// MaxKey is the largest valid binding key or installation salt.
	MaxKey = 1<<KeyBits - 1

	// MinRounds and MaxRounds bound the Feistel round count. One round
	// already permutes; past 32 the extra rounds buy nothing for an
	// obfuscation-grade cipher.
	MinRounds = 1
	MaxRounds = 32

	// DefaultRounds is the round count applied when a binding does not
	// set one explicitly.
	DefaultRounds = 4
)

// Environment variable names
const (
	// EnvSalt is the environment variable name for the installation salt.
	// The salt is a non-secret tweak mixed into every round function so
	// two installations with the same binding keys still produce
	// different identifier sequences. Must be a decimal integer in
	// [0, MaxKey].
	EnvSalt = "SEQVEIL_SALT"

	// EnvDefaultRounds is the environment variable name for the default
	// Feistel round count applied to bindings that do not set their own.
	EnvDefaultRounds = "SEQVEIL_DEFAULT_ROUNDS"

	// EnvRegistryPath is the environment variable name for the binding
	// registry directory. This specifies where the SQLite database that
	// records binding parameters is stored.
	// Default: .seqveil
	EnvRegistryPath = "SEQVEIL_REGISTRY_PATH"

	// EnvRegistryFilename is the environment variable name for the
	// binding registry filename.
	// Default: bindings.db
	EnvRegistryFilename = "SEQVEIL_REGISTRY_FILENAME"

	// EnvPostgresDSN is the environment variable name for the PostgreSQL
	// connection string the admin CLI uses when installing or attaching
	// database-side bindings.
	EnvPostgresDSN = "SEQVEIL_PG_DSN"

	// EnvPostgresSchema is the environment variable name for the schema
	// the database-side functions are installed under.
	// Default: seqveil
	EnvPostgresSchema = "SEQVEIL_PG_SCHEMA"

	// EnvSnapshotBucket is the environment variable name for the S3
	// bucket that receives binding manifest snapshots.
	EnvSnapshotBucket = "SEQVEIL_SNAPSHOT_BUCKET"

	// EnvSnapshotPrefix is the environment variable name for the key
	// prefix under which manifest snapshots are written.
	// Default: seqveil/manifests
	EnvSnapshotPrefix = "SEQVEIL_SNAPSHOT_PREFIX"
)

// Default values
const (
	// DefaultRegistryDir is the default directory for the binding
	// registry database.
	DefaultRegistryDir = ".seqveil"

	// DefaultRegistryFilename is the default filename for the binding
	// registry database.
	DefaultRegistryFilename = "bindings.db"

	// DefaultPostgresSchema is the default schema for database-side
	// installs.
	DefaultPostgresSchema = "seqveil"

	// DefaultSnapshotPrefix is the default S3 key prefix for manifest
	// snapshots.
	DefaultSnapshotPrefix = "seqveil/manifests"
)

// Storage path templates for key material held in external managers
const (
	// AWSKeyPathTemplate is the path template for binding keys kept in
	// AWS Secrets Manager. The %s placeholder is replaced with the
	// binding's identity string.
	// Example: "seqveil/orders:id:public_id/key"
	AWSKeyPathTemplate = "seqveil/%s/key"

	// VaultKeyPathTemplate is the path template for binding keys kept in
	// HashiCorp Vault KV v2. The %s placeholder is replaced with the
	// binding's identity string.
	// Note: This follows the KV v2 API path convention where
	// "secret/data/" is the mount point.
	VaultKeyPathTemplate = "secret/data/seqveil/%s/key"
)

// IdentityDelimiter joins the parts of a binding identity
// (table, source column, target column) into the string that key
// derivation and external key paths are computed from.
const IdentityDelimiter = ":"

// Package seqveil derives opaque public identifiers from sequential row IDs
// through a keyed, reversible bit permutation.
//
// Sequential primary keys leak volume and ordering to anyone who can see
// them. seqveil replaces what the outside world sees with a permuted value:
// a Feistel network over the column's bit width, keyed per binding and
// salted per installation, optionally composed under a quantized time
// prefix. The mapping is a bijection, so the original value is always
// recoverable under the same parameters, and no collision handling is ever
// needed.
//
// # Key Features
//
//   - Keyed Feistel permutation over any even width up to 62 bits
//   - HMAC-SHA256 round function, bit-for-bit portable to PostgreSQL
//   - Deterministic 31-bit key derivation from binding identities
//   - Optional time prefix: raw or encrypted, floor-quantized, wrapping
//   - Trigger state machine that blocks derived-column tampering
//   - Binding registry (SQLite) that refuses parameter drift
//   - PostgreSQL installer emitting equivalent PL/pgSQL functions
//   - Key sources: derived, static, HKDF master, Vault, AWS Secrets Manager
//
// # Quick Start
//
// Create an engine with an installation salt and attach a trigger
// controller for a table's column pair:
//
//	engine, err := seqveil.New(914030010)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tc, err := engine.NewTriggerController(seqveil.Binding{
//	    BindingIdentity: seqveil.BindingIdentity{
//	        Table:  "orders",
//	        Source: "id",
//	        Target: "public_id",
//	    },
//	    Params: seqveil.Params{DataBits: 40, Key: seqveil.DeriveKey("orders:id:public_id")},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	row := seqveil.Row{"id": seqveil.Int64(42)}
//	if err := tc.ProcessRow(ctx, seqveil.OpInsert, nil, row); err != nil {
//	    log.Fatal(err)
//	}
//	// row["public_id"] now holds the derived identifier
//
// # Reversibility
//
// Identifiers invert exactly under the parameters that produced them:
//
//	dec, err := engine.DecomposeIdentifier(ctx, row.Value("public_id"), binding)
//	// dec.Source == 42
//
// Because of this, a binding's parameters are frozen once rows exist. The
// registry persists them and rejects any attempt to re-create a binding
// with different values.
//
// # Time Prefixes
//
// With TimeBits set, identifiers carry a quantized timestamp above the data
// bits. Rows written inside one bucket share the prefix, which keeps
// identifiers roughly sortable by era without exposing row order inside a
// bucket:
//
//	Params{
//	    DataBits:   40,
//	    TimeBits:   12,
//	    TimeBucket: 3600, // one-hour buckets
//	}
//
// The bucket number wraps at 2^TimeBits by design. EncryptTime additionally
// permutes the prefix so even the era is opaque.
//
// # Database-Side Operation
//
// The providers/postgres package installs PL/pgSQL equivalents of the
// permutation and attaches triggers, so rows written by any client get
// their identifier without touching Go. Values written on either side
// invert on the other.
//
// # Production Configuration
//
//	// Keys from HashiCorp Vault
//	source, err := hashicorp.NewVaultKeySource(nil)
//	engine, err := seqveil.New(salt,
//	    seqveil.WithKeySource(source),
//	    seqveil.WithMetricsCollector(collector),
//	)
//
//	// Keys from AWS Secrets Manager
//	source, err := aws.NewSecretsManagerKeySource(ctx, aws.Config{Region: "us-east-1"})
//	engine, err := seqveil.New(salt, seqveil.WithKeySource(source))
//
// seqveil is an obfuscation device, not authenticated encryption: it makes
// identifiers opaque and tamper-evident, it does not make them secret
// against an attacker holding the key and salt.
package seqveil

package seqveil

import "context"

// KeySource defines the contract for resolving a binding's permutation key.
//
// The key is a 31-bit tweak, not a confidentiality-grade secret: the
// permutation is an obfuscation device, and anyone holding the key, salt and
// parameters can invert it. Implementations choose where that tweak lives:
//   - DerivedKeySource: pure function of the binding identity, nothing stored
//   - StaticKeySource: fixed key handed in at construction
//   - MasterKeySource: HKDF expansion of an installation master secret
//   - hashicorp.VaultKeySource: key stored per binding in Vault KV v2
//   - aws.SecretsManagerKeySource: key stored per binding in AWS Secrets Manager
//
// An external store makes keys survive registry loss and keeps them out of
// database catalogs; the derived sources make installations reproducible with
// zero infrastructure.
//
// Example usage:
//
//	import "github.com/tarenord/seqveil/providers/keys/hashicorp"
//
//	source, err := hashicorp.NewVaultKeySource(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := seqveil.New(salt, seqveil.WithKeySource(source))
type KeySource interface {
	// ResolveKey returns the permutation key for a binding identity.
	//
	// The result must be stable: resolving the same identity twice must
	// yield the same key, or identifiers written under the first
	// resolution stop inverting. Keys must lie in [0, MaxKey].
	//
	// Implementations backed by remote stores should wrap transport
	// failures with ErrKeySourceUnavailable so callers can classify them
	// as retryable.
	ResolveKey(ctx context.Context, identity BindingIdentity) (uint32, error)
}

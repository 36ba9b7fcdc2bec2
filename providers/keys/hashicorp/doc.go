// Package hashicorp resolves binding keys from HashiCorp Vault's KV v2
// secrets engine.
//
// Keys live in Vault as decimal strings, one secret per binding identity,
// so an installation's keys survive loss of the local registry and never
// appear in database catalogs or manifests.
//
// # Basic Usage
//
//	import (
//	    "github.com/tarenord/seqveil"
//	    vaultkeys "github.com/tarenord/seqveil/providers/keys/hashicorp"
//	)
//
//	source, err := vaultkeys.NewVaultKeySource(nil)
//	if err != nil {
//	    // handle error
//	}
//
//	engine, err := seqveil.New(salt, seqveil.WithKeySource(source))
//
// Passing nil builds a client from the environment; pass a configured
// *api.Client to control the address, TLS or authentication directly.
//
// # Configuration
//
// The environment-based client honors the standard Vault variables:
//
//	export VAULT_ADDR="https://vault.example.com:8200"   // required
//	export VAULT_TOKEN="hvs.your-token-here"             // token auth
//	export VAULT_ROLE_ID="..."                           // AppRole auth
//	export VAULT_SECRET_ID="..."                         // AppRole auth
//	export VAULT_NAMESPACE="my-namespace"                // Vault Enterprise
//
// A token takes priority over AppRole credentials when both are set.
//
// # Key Storage
//
// Keys are stored under the KV v2 path format:
//
//	secret/data/seqveil/{identity}/key
//
// For example, a binding deriving orders.public_id from orders.id keeps its
// key at:
//
//	secret/data/seqveil/orders:id:public_id/key
//
// The Vault token needs read capability on that subtree, plus create and
// update when keys are provisioned through ProvisionKey:
//
//	path "secret/data/seqveil/*" {
//	    capabilities = ["create", "read", "update"]
//	}
//
// # Error Handling
//
// Transport failures, missing secrets and malformed values are wrapped with
// seqveil.ErrKeySourceUnavailable; a stored value outside the 31-bit key
// space is reported as seqveil.ErrInvalidParameter because retrying will not
// fix it.
//
// Key stability is the one hard rule: rewriting a binding's secret to a new
// value orphans every identifier composed under the old one. KV v2 keeps
// version history, so an accidental overwrite can be rolled back:
//
//	vault kv rollback -version=1 secret/seqveil/orders:id:public_id/key
package hashicorp

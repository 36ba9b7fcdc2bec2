package hashicorp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/vault/api"

	"github.com/tarenord/seqveil"
)

// VaultKeySource implements seqveil.KeySource backed by Vault KV v2.
//
// Each binding's key is one secret, stored as a decimal string under the
// value field of the KV v2 data wrapper. The KV v2 engine must be enabled
// before use:
//
//	vault secrets enable -path=secret kv-v2
type VaultKeySource struct {
	client *api.Client
}

// NewVaultKeySource creates a key source over an existing Vault client. A
// nil client builds one from the environment (see package documentation for
// the variables honored).
func NewVaultKeySource(client *api.Client) (*VaultKeySource, error) {
	if client == nil {
		created, err := createVaultClient()
		if err != nil {
			return nil, err
		}
		client = created
	}

	return &VaultKeySource{client: client}, nil
}

// GetStoragePath returns the Vault KV v2 path holding a binding's key.
//
// Path format: "secret/data/seqveil/{identity}/key"
//
// Note: The "/data/" segment is required for KV v2 API reads and writes.
func (v *VaultKeySource) GetStoragePath(identity seqveil.BindingIdentity) string {
	return fmt.Sprintf(seqveil.VaultKeyPathTemplate, identity.String())
}

// ResolveKey reads the key stored for a binding identity.
//
// A missing secret, an unreachable server and a malformed value are all
// reported as ErrKeySourceUnavailable; a stored value outside [0, MaxKey]
// is an InvalidParameter because no retry will repair it.
func (v *VaultKeySource) ResolveKey(ctx context.Context, identity seqveil.BindingIdentity) (uint32, error) {
	if err := identity.Validate(); err != nil {
		return 0, err
	}

	path := v.GetStoragePath(identity)

	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read key from Vault KV: %w", seqveil.ErrKeySourceUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return 0, fmt.Errorf("%w: no key stored for binding '%s'", seqveil.ErrKeySourceUnavailable, identity.String())
	}

	// KV v2 wraps the actual data in a "data" key
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("%w: invalid KV v2 secret format for binding '%s'", seqveil.ErrKeySourceUnavailable, identity.String())
	}

	raw, ok := data["value"].(string)
	if !ok {
		return 0, fmt.Errorf("%w: key value not found or invalid format for binding '%s'", seqveil.ErrKeySourceUnavailable, identity.String())
	}

	key, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: stored key for binding '%s' is not a decimal integer: %w",
			seqveil.ErrKeySourceUnavailable, identity.String(), err)
	}
	if key > seqveil.MaxKey {
		return 0, seqveil.NewInvalidParameterError("key", key,
			fmt.Sprintf("stored for binding '%s' must be below 2^%d", identity.String(), seqveil.KeyBits))
	}

	return uint32(key), nil
}

// ProvisionKey stores a binding's key. Writing over an existing secret is
// versioned by KV v2, but doing so orphans identifiers composed under the
// previous value, so provisioning belongs in setup, not in row paths.
func (v *VaultKeySource) ProvisionKey(ctx context.Context, identity seqveil.BindingIdentity, key uint32) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if key > seqveil.MaxKey {
		return seqveil.NewInvalidParameterError("key", key, fmt.Sprintf("must be below 2^%d", seqveil.KeyBits))
	}

	path := v.GetStoragePath(identity)

	// KV v2 requires data to be wrapped in a "data" key
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"value": strconv.FormatUint(uint64(key), 10),
		},
	}

	if _, err := v.client.Logical().WriteWithContext(ctx, path, data); err != nil {
		return fmt.Errorf("%w: failed to store key in Vault KV: %w", seqveil.ErrKeySourceUnavailable, err)
	}

	return nil
}

// KeyExists checks whether a key is stored for a binding identity.
//
// Returns an error only for actual failures, not for "secret not found".
func (v *VaultKeySource) KeyExists(ctx context.Context, identity seqveil.BindingIdentity) (bool, error) {
	if err := identity.Validate(); err != nil {
		return false, err
	}

	secret, err := v.client.Logical().ReadWithContext(ctx, v.GetStoragePath(identity))
	if err != nil {
		return false, fmt.Errorf("%w: failed to check if key exists: %w", seqveil.ErrKeySourceUnavailable, err)
	}

	// Vault returns a nil secret, not an error, for "not found"
	if secret == nil || secret.Data == nil {
		return false, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return false, nil
	}

	_, ok = data["value"].(string)
	return ok, nil
}

package hashicorp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarenord/seqveil"
)

// mockVaultServer creates a mock Vault server speaking just enough of the
// KV v2 API for the key source, seeded with a few fixed secrets.
func mockVaultServer(t *testing.T) *httptest.Server {
	var mu sync.Mutex
	stored := map[string]string{
		"secret/data/seqveil/orders:id:public_id/key":   "271828",
		"secret/data/seqveil/events:id:public_ref/key":  "not-a-number",
		"secret/data/seqveil/invoices:id:public_id/key": "3000000000",
	}

	mux := http.NewServeMux()

	// Mock AppRole login
	mux.HandleFunc("/v1/auth/approle/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"auth": {
				"client_token": "test-token-12345"
			}
		}`))
	})

	// Mock KV v2 reads and writes
	mux.HandleFunc("/v1/secret/data/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/")

		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			value, ok := stored[path]
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"errors":[]}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"data":{"data":{"value":%q}}}`, value)
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]string `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			stored[path] = body.Data["value"]
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"version":1}}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	return httptest.NewServer(mux)
}

func newTestKeySource(t *testing.T, serverURL string) *VaultKeySource {
	config := api.DefaultConfig()
	config.Address = serverURL
	client, err := api.NewClient(config)
	require.NoError(t, err)
	client.SetToken("test-token")

	source, err := NewVaultKeySource(client)
	require.NoError(t, err)
	return source
}

func ordersIdentity() seqveil.BindingIdentity {
	return seqveil.BindingIdentity{Table: "orders", Source: "id", Target: "public_id"}
}

func TestNewVaultKeySource_EnvClient(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	os.Setenv("VAULT_ADDR", server.URL)
	os.Setenv("VAULT_TOKEN", "env-token")
	defer os.Unsetenv("VAULT_ADDR")
	defer os.Unsetenv("VAULT_TOKEN")

	source, err := NewVaultKeySource(nil)
	require.NoError(t, err)
	assert.NotNil(t, source.client)
	assert.Equal(t, "env-token", source.client.Token())
}

func TestNewVaultKeySource_AppRole(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	os.Setenv("VAULT_ADDR", server.URL)
	os.Setenv("VAULT_ROLE_ID", "test-role-id")
	os.Setenv("VAULT_SECRET_ID", "test-secret-id")
	defer os.Unsetenv("VAULT_ADDR")
	defer os.Unsetenv("VAULT_ROLE_ID")
	defer os.Unsetenv("VAULT_SECRET_ID")

	source, err := NewVaultKeySource(nil)
	require.NoError(t, err)
	assert.Equal(t, "test-token-12345", source.client.Token())
}

func TestNewVaultKeySource_NoAuth(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	os.Setenv("VAULT_ADDR", server.URL)
	os.Unsetenv("VAULT_TOKEN")
	os.Unsetenv("VAULT_ROLE_ID")
	os.Unsetenv("VAULT_SECRET_ID")
	defer os.Unsetenv("VAULT_ADDR")

	_, err := NewVaultKeySource(nil)
	require.Error(t, err)
	assert.True(t, seqveil.IsValidationError(err))
}

func TestVaultKeySourceGetStoragePath(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)
	assert.Equal(t, "secret/data/seqveil/orders:id:public_id/key", source.GetStoragePath(ordersIdentity()))
}

func TestVaultKeySourceResolveKey(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)

	key, err := source.ResolveKey(context.Background(), ordersIdentity())
	require.NoError(t, err)
	assert.Equal(t, uint32(271828), key)
}

func TestVaultKeySourceResolveKeyMissing(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)

	identity := seqveil.BindingIdentity{Table: "missing", Source: "id", Target: "public_id"}
	_, err := source.ResolveKey(context.Background(), identity)
	require.Error(t, err)
	assert.True(t, seqveil.IsRetryableError(err))
	assert.Contains(t, err.Error(), "no key stored")
}

func TestVaultKeySourceResolveKeyMalformed(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)

	identity := seqveil.BindingIdentity{Table: "events", Source: "id", Target: "public_ref"}
	_, err := source.ResolveKey(context.Background(), identity)
	require.Error(t, err)
	assert.True(t, seqveil.IsRetryableError(err))
	assert.Contains(t, err.Error(), "decimal")
}

func TestVaultKeySourceResolveKeyOutOfRange(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)

	identity := seqveil.BindingIdentity{Table: "invoices", Source: "id", Target: "public_id"}
	_, err := source.ResolveKey(context.Background(), identity)
	require.Error(t, err)
	assert.True(t, seqveil.IsValidationError(err))
	assert.False(t, seqveil.IsRetryableError(err))
}

func TestVaultKeySourceResolveKeyInvalidIdentity(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)

	_, err := source.ResolveKey(context.Background(), seqveil.BindingIdentity{Table: "", Source: "id", Target: "public_id"})
	require.Error(t, err)
	assert.True(t, seqveil.IsValidationError(err))
}

func TestVaultKeySourceProvisionAndResolve(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)
	ctx := context.Background()
	identity := seqveil.BindingIdentity{Table: "accounts", Source: "id", Target: "public_id"}

	exists, err := source.KeyExists(ctx, identity)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, source.ProvisionKey(ctx, identity, 1048573))

	exists, err = source.KeyExists(ctx, identity)
	require.NoError(t, err)
	assert.True(t, exists)

	key, err := source.ResolveKey(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, uint32(1048573), key)
}

func TestVaultKeySourceProvisionRejectsOversizedKey(t *testing.T) {
	server := mockVaultServer(t)
	defer server.Close()

	source := newTestKeySource(t, server.URL)

	err := source.ProvisionKey(context.Background(), ordersIdentity(), seqveil.MaxKey+1)
	require.Error(t, err)
	assert.True(t, seqveil.IsValidationError(err))
}

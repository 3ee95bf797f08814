package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neva-network/gneva/crypto"
)

func testKeys(t *testing.T, n int) []string {
	t.Helper()
	keys := make([]string, n)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = hex.EncodeToString(key.PublicKey().Bytes())
	}
	return keys
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	keys := testKeys(t, 4)
	body := fmt.Sprintf(`network: 7
datadir: /var/lib/gneva
view_timeout: 20s
validators:
  - id: 0
    pubkey: %s
    alias: alpha
  - id: 1
    pubkey: 0x%s
  - id: 2
    pubkey: %s
  - id: 3
    pubkey: %s
`, keys[0], keys[1], keys[2], keys[3])

	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cfg.Network)
	assert.Equal(t, "/var/lib/gneva", cfg.DataDir)
	assert.Equal(t, 20*time.Second, cfg.ViewTimeout)
	require.Len(t, cfg.Validators, 4)
	assert.Equal(t, "alpha", cfg.Validators[0].Alias)

	set, err := cfg.ToValidatorSet()
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
	assert.Equal(t, 3, set.Quorum())
	v, ok := set.Get(0)
	require.True(t, ok)
	assert.Equal(t, "alpha", v.Alias)
}

func TestLoadDefaults(t *testing.T) {
	keys := testKeys(t, 1)
	body := fmt.Sprintf("validators:\n  - id: 0\n    pubkey: %s\n", keys[0])

	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.Network)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 15*time.Second, cfg.ViewTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	keys := testKeys(t, 2)
	cases := []struct {
		name string
		body string
	}{
		{
			name: "no validators",
			body: "network: 1\n",
		},
		{
			name: "duplicate ids",
			body: fmt.Sprintf("validators:\n  - id: 3\n    pubkey: %s\n  - id: 3\n    pubkey: %s\n", keys[0], keys[1]),
		},
		{
			name: "bad pubkey",
			body: "validators:\n  - id: 0\n    pubkey: nothex\n",
		},
		{
			name: "truncated pubkey",
			body: "validators:\n  - id: 0\n    pubkey: abcd\n",
		},
		{
			name: "zero timeout",
			body: fmt.Sprintf("view_timeout: 0s\nvalidators:\n  - id: 0\n    pubkey: %s\n", keys[0]),
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.body))
			assert.Error(t, err)
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nervix/crypto"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "nervix-local", cfg.NetworkName)
	require.FileExists(t, cfg.OwnerKeystorePath)
	require.NotNil(t, cfg.Genesis)

	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, "")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), cfg.Genesis.Owner)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Genesis.Owner, reloaded.Genesis.Owner)

	spec, err := reloaded.GenesisSpec()
	require.NoError(t, err)
	require.Equal(t, uint16(250), spec.Schedule().TaskBps)
}

func TestLoadDefaultReusesExistingOwnerKeystore(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveToKeystore(filepath.Join(dir, "owner.keystore"), key, ""))

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), cfg.Genesis.Owner)
}

func TestLoadParsesGenesisTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "127.0.0.1:9545"
DataDir = "./data"

[RPC]
AuthToken = "secret"
RateLimitPerSecond = 5.0

[Log]
Env = "prod"

[Genesis]
owner = "0x1111111111111111111111111111111111111111"
treasury = "0x2222222222222222222222222222222222222222"
vault = "0x3333333333333333333333333333333333333333"
min_gas_reserve = "10000000"

[Genesis.fees]
task_bps = 275
settlement_bps = 150
transfer_bps = 100
openclaw_discount_bps = 2500
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "secret", cfg.RPC.AuthToken)
	require.Equal(t, 6, cfg.RPC.RateLimitBurst)
	spec, err := cfg.GenesisSpec()
	require.NoError(t, err)
	require.Equal(t, uint16(275), spec.Schedule().TaskBps)
	require.Equal(t, uint16(2500), spec.Schedule().DiscountBps)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("GenesisFile = \"g.json\"\nBogus = 1\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

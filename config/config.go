package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nervix/core/genesis"
	"nervix/crypto"
	"nervix/native/fees"
)

type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	MetricsAddress    string `toml:"MetricsAddress"`
	DataDir           string `toml:"DataDir"`
	GenesisFile       string `toml:"GenesisFile"`
	OwnerKeystorePath string `toml:"OwnerKeystorePath"`
	NetworkName       string `toml:"NetworkName"`

	RPC       RPC       `toml:"RPC"`
	Log       Log       `toml:"Log"`
	Telemetry Telemetry `toml:"Telemetry"`

	// Genesis is used when GenesisFile is empty.
	Genesis *genesis.GenesisSpec `toml:"Genesis,omitempty"`
}

// Load loads the configuration from the given path, writing a development
// default (with a fresh owner key) when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range meta.Undecoded() {
		// the fee schedule decodes itself
		if len(key) >= 2 && key[0] == "Genesis" && key[1] == "fees" {
			continue
		}
		return nil, fmt.Errorf("config file %s has unknown key %s", path, key)
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "nervix-local"
	}
	if cfg.RPCAddress == "" {
		cfg.RPCAddress = ":8545"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./nervix-data"
	}
	if cfg.RPC.ReadTimeoutSeconds <= 0 {
		cfg.RPC.ReadTimeoutSeconds = 10
	}
	if cfg.RPC.MaxBodyBytes <= 0 {
		cfg.RPC.MaxBodyBytes = 1 << 20
	}
	if cfg.RPC.RateLimitPerSecond > 0 && cfg.RPC.RateLimitBurst <= 0 {
		cfg.RPC.RateLimitBurst = int(cfg.RPC.RateLimitPerSecond) + 1
	}
}

// GenesisSpec resolves the genesis from GenesisFile or the inline table.
func (c *Config) GenesisSpec() (*genesis.GenesisSpec, error) {
	if path := strings.TrimSpace(c.GenesisFile); path != "" {
		return genesis.LoadGenesisSpec(path)
	}
	if c.Genesis == nil {
		return nil, fmt.Errorf("config: neither GenesisFile nor [Genesis] is set")
	}
	spec := *c.Genesis
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// DefaultVaultAddress is an account with no known key that custodies
// escrowed value.
func DefaultVaultAddress() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("nervix/escrow-vault"))[12:])
	return out
}

// createDefault creates and saves a development configuration where the
// generated owner key also receives fees.
func createDefault(path string) (*Config, error) {
	keystorePath := defaultKeystorePath(path)
	// An owner keystore left next to a removed config keeps its owner.
	key, _, err := crypto.LoadOrCreateKeystore(keystorePath, "")
	if err != nil {
		return nil, err
	}
	owner := key.PubKey().Address().String()
	schedule := fees.DefaultSchedule()

	cfg := &Config{
		RPCAddress:        ":8545",
		MetricsAddress:    ":9102",
		DataDir:           "./nervix-data",
		OwnerKeystorePath: keystorePath,
		NetworkName:       "nervix-local",
		Log:               Log{Env: "dev"},
		Genesis: &genesis.GenesisSpec{
			Owner:         owner,
			Treasury:      owner,
			Vault:         crypto.AddressFromBytes(DefaultVaultAddress()).String(),
			Fees:          &schedule,
			MinGasReserve: "10000000",
		},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all configurable parameters for the vault daemon
type Config struct {
	Vault  VaultConfig  `json:"vault"`
	Server ServerConfig `json:"server"`
	Log    LogConfig    `json:"log"`
	Devnet DevnetConfig `json:"devnet"`
	Client ClientConfig `json:"client"`
}

// VaultConfig is the static binding of the vault deployment
type VaultConfig struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Owner    string `json:"owner"`
	Provider string `json:"provider,omitempty"` // pin a registry provider instead of the first listed
}

type ServerConfig struct {
	Addr            string `json:"addr"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "console" or "json"
}

// DevnetConfig describes the simulated market the daemon runs against. The
// market lives in memory, so the daemon keeps its share ledger in memory too.
type DevnetConfig struct {
	AssetSymbol   string `json:"asset_symbol"`
	AssetDecimals uint8  `json:"asset_decimals"`
}

type ClientConfig struct {
	Timeout string `json:"timeout"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			Name:    "Yield Vault USDC",
			Symbol:  "yvUSDC",
			Address: "0x0000000000000000000000000000000000005a17",
			Owner:   "0x00000000000000000000000000000000000000a0",
		},
		Server: ServerConfig{Addr: ":8545", ShutdownTimeout: "10s"},
		Log:    LogConfig{Level: "info", Format: "console"},
		Devnet: DevnetConfig{AssetSymbol: "USDC", AssetDecimals: 6},
		Client: ClientConfig{Timeout: "10s"},
	}
}

// Load reads and parses a config file over the defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads config/config.json from the current directory
func LoadDefault() (*Config, error) {
	return Load("config/config.json")
}

// ApplyEnv overrides fields from VAULT_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("VAULT_NAME", &c.Vault.Name)
	set("VAULT_SYMBOL", &c.Vault.Symbol)
	set("VAULT_ADDRESS", &c.Vault.Address)
	set("VAULT_OWNER", &c.Vault.Owner)
	set("VAULT_PROVIDER", &c.Vault.Provider)
	set("VAULT_ADDR", &c.Server.Addr)
	set("VAULT_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	set("VAULT_LOG_LEVEL", &c.Log.Level)
	set("VAULT_LOG_FORMAT", &c.Log.Format)
	set("VAULT_ASSET_SYMBOL", &c.Devnet.AssetSymbol)

	if v := getenv("VAULT_ASSET_DECIMALS"); v != "" {
		d, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("VAULT_ASSET_DECIMALS: %w", err)
		}
		c.Devnet.AssetDecimals = uint8(d)
	}
	return c.Validate()
}

// Validate checks addresses and durations.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{"vault.address": c.Vault.Address, "vault.owner": c.Vault.Owner} {
		if !common.IsHexAddress(addr) || common.HexToAddress(addr) == (common.Address{}) {
			return fmt.Errorf("invalid %s %q", name, addr)
		}
	}
	if c.Vault.Provider != "" && !common.IsHexAddress(c.Vault.Provider) {
		return fmt.Errorf("invalid vault.provider %q", c.Vault.Provider)
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}
	if _, err := c.ClientTimeout(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) VaultAddress() common.Address { return common.HexToAddress(c.Vault.Address) }
func (c *Config) OwnerAddress() common.Address { return common.HexToAddress(c.Vault.Owner) }

// ProviderAddress returns the pinned provider, or the zero address.
func (c *Config) ProviderAddress() common.Address {
	if c.Vault.Provider == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Vault.Provider)
}

func (c *Config) ShutdownTimeout() (time.Duration, error) {
	return parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout, 10*time.Second)
}

func (c *Config) ClientTimeout() (time.Duration, error) {
	return parseDuration("client.timeout", c.Client.Timeout, 10*time.Second)
}

func parseDuration(name, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

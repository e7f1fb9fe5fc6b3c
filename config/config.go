// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in genesis, immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// GenesisFile overrides the built-in genesis for the selected network.
	GenesisFile string `conf:"genesis"`

	// InMemory keeps blocks in a volatile store instead of on disk.
	// Useful for throwaway devnets.
	InMemory bool `conf:"memdb"`

	// Block production (operational, not consensus rules)
	Produce ProduceConfig

	// Mempool admission tuning
	Mempool MempoolConfig

	// Logging
	Log LogConfig
}

// ProduceConfig holds block production settings.
// Note: whether to produce is a node choice; HOW to validate is protocol.
type ProduceConfig struct {
	Enabled  bool   `conf:"produce.enabled"`
	Coinbase string `conf:"produce.coinbase"` // Reward address (required when enabled)

	// Validator identity for stake-based networks. The signing key is
	// derived from the mnemonic at m/44'/5551'/account'/0/index.
	Mnemonic   string `conf:"produce.mnemonic"`
	Passphrase string `conf:"produce.passphrase"`
	KeyAccount uint32 `conf:"produce.keyaccount"`
	KeyIndex   uint32 `conf:"produce.keyindex"`

	// Candidate block limits.
	MaxTxs   int `conf:"produce.maxtxs"`
	MaxBytes int `conf:"produce.maxbytes"`

	// NonceBudget caps attempts per work search round.
	NonceBudget uint64 `conf:"produce.noncebudget"`
}

// MempoolConfig holds transaction pool settings.
type MempoolConfig struct {
	MaxTxs     int     `conf:"mempool.maxtxs"`
	MaxBytes   int     `conf:"mempool.maxbytes"`
	MaxAgeMin  int     `conf:"mempool.maxage"` // Minutes before an entry expires
	MinFeeRate float64 `conf:"mempool.minfeerate"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.cobalt
//	macOS:   ~/Library/Application Support/Cobalt
//	Windows: %APPDATA%\Cobalt
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cobalt"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cobalt")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Cobalt")
		}
		return filepath.Join(home, "AppData", "Roaming", "Cobalt")
	default:
		return filepath.Join(home, ".cobalt")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the block storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "cobalt.conf")
}

// Package config loads a replica's peer table and tunable constants
// (§6) from a JSON/YAML file plus environment and flag overrides, using
// viper for layered resolution and cobra-bound flags, matching the
// teacher's config-file-plus-validation shape (config/config.go).
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// PeerAddr is one entry of the peer table: where to dial a given replica.
type PeerAddr struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// Config holds everything a replica needs to boot: its own identity in
// the cluster, the full peer table, where to persist state, and the
// tunable constants named in §6.
type Config struct {
	NodeIndex int64               `mapstructure:"node_index" json:"node_index"`
	Peers     map[string]PeerAddr `mapstructure:"peers" json:"peers"`
	DataDir   string              `mapstructure:"data_dir" json:"data_dir"`

	AccumulationTimeMS  int64 `mapstructure:"accumulation_time_ms" json:"accumulation_time_ms"`
	MaxCommitTimeMS     int64 `mapstructure:"max_commit_time_ms" json:"max_commit_time_ms"`
	MaxTxnCount         int   `mapstructure:"max_txn_count" json:"max_txn_count"`
	RecoveryBlocksCount int64 `mapstructure:"recovery_blocks_count" json:"recovery_blocks_count"`
}

// DefaultConfig returns the tunables the original source uses absent
// operator override.
func DefaultConfig() *Config {
	return &Config{
		DataDir:             "./data",
		AccumulationTimeMS:  100,
		MaxCommitTimeMS:     2000,
		MaxTxnCount:         7500,
		RecoveryBlocksCount: 5,
	}
}

// Load resolves configuration from (in ascending priority) the defaults,
// a config file at path (if non-empty), environment variables prefixed
// PICHAIN_, and any flags already parsed into fs.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	cfg := DefaultConfig()

	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("accumulation_time_ms", cfg.AccumulationTimeMS)
	v.SetDefault("max_commit_time_ms", cfg.MaxCommitTimeMS)
	v.SetDefault("max_txn_count", cfg.MaxTxnCount)
	v.SetDefault("recovery_blocks_count", cfg.RecoveryBlocksCount)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	v.SetEnvPrefix("pichain")
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks that this is a usable peer table: this replica's own
// index must be present, and a cluster smaller than 3 cannot tolerate any
// failure (f < n/2 requires n ≥ 3 to allow f ≥ 1).
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if len(c.Peers) < 3 {
		return fmt.Errorf("peer table must have at least 3 entries, got %d", len(c.Peers))
	}
	key := fmt.Sprintf("%d", c.NodeIndex)
	if _, ok := c.Peers[key]; !ok {
		return fmt.Errorf("peer table missing entry for this node's index %d", c.NodeIndex)
	}
	if c.MaxTxnCount <= 0 {
		return fmt.Errorf("max_txn_count must be positive, got %d", c.MaxTxnCount)
	}
	return nil
}

// PeerCount returns the total number of replicas in the cluster, n.
func (c *Config) PeerCount() int64 {
	return int64(len(c.Peers))
}

// Package config loads node configuration from file and environment.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/neva-network/gneva/consensus/dbft"
	"github.com/neva-network/gneva/crypto"
)

// ValidatorConfig describes one roster member as configured: the public
// key is hex-encoded compressed form.
type ValidatorConfig struct {
	ID     uint16 `mapstructure:"id"`
	PubKey string `mapstructure:"pubkey"`
	Alias  string `mapstructure:"alias"`
}

// Config is the node configuration. Validators is the consensus roster
// for the configured network; the local key never lives here, it stays
// with the wallet.
type Config struct {
	Network     uint32            `mapstructure:"network"`
	DataDir     string            `mapstructure:"datadir"`
	ViewTimeout time.Duration     `mapstructure:"view_timeout"`
	Validators  []ValidatorConfig `mapstructure:"validators"`
}

// DefaultConfig returns the baseline every load starts from.
func DefaultConfig() *Config {
	return &Config{
		Network:     1,
		DataDir:     "data",
		ViewTimeout: 15 * time.Second,
	}
}

// Load reads the configuration file at path and applies GNEVA_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("gneva")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("network", defaults.Network)
	v.SetDefault("datadir", defaults.DataDir)
	v.SetDefault("view_timeout", defaults.ViewTimeout)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields a service boot depends on.
func (c *Config) Validate() error {
	if len(c.Validators) == 0 {
		return fmt.Errorf("config: no validators configured")
	}
	if c.ViewTimeout <= 0 {
		return fmt.Errorf("config: view_timeout must be positive, got %s", c.ViewTimeout)
	}
	seen := make(map[uint16]bool, len(c.Validators))
	for _, vc := range c.Validators {
		if seen[vc.ID] {
			return fmt.Errorf("config: duplicate validator id %d", vc.ID)
		}
		seen[vc.ID] = true
		if _, err := decodePubKey(vc.PubKey); err != nil {
			return fmt.Errorf("config: validator %d: %w", vc.ID, err)
		}
	}
	return nil
}

// ToValidatorSet builds the consensus roster from the configuration.
func (c *Config) ToValidatorSet() (*dbft.ValidatorSet, error) {
	validators := make([]dbft.Validator, 0, len(c.Validators))
	for _, vc := range c.Validators {
		pub, err := decodePubKey(vc.PubKey)
		if err != nil {
			return nil, fmt.Errorf("config: validator %d: %w", vc.ID, err)
		}
		validators = append(validators, dbft.Validator{
			ID:        dbft.ValidatorID(vc.ID),
			PublicKey: pub,
			Alias:     vc.Alias,
		})
	}
	return dbft.NewValidatorSet(validators)
}

func decodePubKey(s string) (crypto.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("pubkey is not hex: %w", err)
	}
	return crypto.ParsePubKey(raw)
}

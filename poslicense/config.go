package poslicense

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// ConfigPrefix is the environment prefix read by LoadConfig.
const ConfigPrefix = "LICENSE"

// Config holds the settings consumed by the engine.
type Config struct {
	// Secret keys both the Key Codec checksum and the response Signer.
	Secret            string `envconfig:"SECRET" required:"true"`
	KeyPrefix         string `envconfig:"KEY_PREFIX" default:"LUNIA"`
	ExpiryWarningDays int    `envconfig:"EXPIRY_WARNING_DAYS" default:"15"`
	MaxOfflineHours   int    `envconfig:"MAX_OFFLINE_HOURS" default:"72"`
	EnforceDomainIP   bool   `envconfig:"ENFORCE_DOMAIN_IP" default:"false"`
}

// DefaultConfig returns the defaults with the given secret.
func DefaultConfig(secret string) Config {
	return Config{
		Secret:            secret,
		KeyPrefix:         "LUNIA",
		ExpiryWarningDays: 15,
		MaxOfflineHours:   72,
	}
}

// LoadConfig reads LICENSE_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(ConfigPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.KeyPrefix == "" {
		return errors.New("key prefix is required")
	}
	if c.ExpiryWarningDays < 0 {
		return fmt.Errorf("expiry warning days must not be negative, got %d", c.ExpiryWarningDays)
	}
	if c.MaxOfflineHours <= 0 {
		return fmt.Errorf("max offline hours must be positive, got %d", c.MaxOfflineHours)
	}
	return nil
}

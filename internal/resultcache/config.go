/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package resultcache

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "resultCache"

const (
	cfgKeyEnabled = "enabled"
	cfgKeyTTL     = "ttl"
)

const defaultTTL = 24 * time.Hour

// Config represents a set of configuration parameters for the result cache.
type Config struct {
	// Enabled turns caching on. When false the dispatcher runs with a
	// no-op cache and recomputes every sub-unit on retry.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// TTL is the fixed expiry window counted from an entry's first write.
	TTL config.TimeDuration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Enabled:   true,
		TTL:       config.TimeDuration(defaultTTL),
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, true)
	dp.SetDefault(cfgKeyTTL, defaultTTL)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyTTL); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyTTL, fmt.Errorf("must be positive"))
	}
	c.TTL = config.TimeDuration(dur)

	return nil
}

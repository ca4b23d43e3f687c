/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package invoke

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "invoker"

const (
	cfgKeyMaxAttempts    = "maxAttempts"
	cfgKeyBaseDelay      = "baseDelay"
	cfgKeyMaxDelay       = "maxDelay"
	cfgKeyJitterFraction = "jitterFraction"
)

// Default policy values: chosen so that a fleet of workers hitting the
// same throttled endpoint desynchronizes and backs off fast enough to
// clear transient overload without a thundering herd.
const (
	DefaultMaxAttempts    = 8
	DefaultBaseDelay      = 2 * time.Second
	DefaultMaxDelay       = 600 * time.Second
	DefaultJitterFraction = 0.1
)

// Config represents a set of configuration parameters for the invocation wrapper.
type Config struct {
	MaxAttempts    int                 `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelay      config.TimeDuration `mapstructure:"baseDelay" yaml:"baseDelay" json:"baseDelay"`
	MaxDelay       config.TimeDuration `mapstructure:"maxDelay" yaml:"maxDelay" json:"maxDelay"`
	JitterFraction float64             `mapstructure:"jitterFraction" yaml:"jitterFraction" json:"jitterFraction"`

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
		keyPrefix:      cfgDefaultKeyPrefix,
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      config.TimeDuration(DefaultBaseDelay),
		MaxDelay:       config.TimeDuration(DefaultMaxDelay),
		JitterFraction: DefaultJitterFraction,
	}
}

// Policy builds a retry Policy from the configuration values.
func (c *Config) Policy() Policy {
	return Policy{
		MaxAttempts:    c.MaxAttempts,
		BaseDelay:      time.Duration(c.BaseDelay),
		MaxDelay:       time.Duration(c.MaxDelay),
		JitterFraction: c.JitterFraction,
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
	dp.SetDefault(cfgKeyMaxAttempts, DefaultMaxAttempts)
	dp.SetDefault(cfgKeyBaseDelay, DefaultBaseDelay)
	dp.SetDefault(cfgKeyMaxDelay, DefaultMaxDelay)
	dp.SetDefault(cfgKeyJitterFraction, DefaultJitterFraction)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.MaxAttempts, err = dp.GetInt(cfgKeyMaxAttempts); err != nil {
		return err
	}
	if c.MaxAttempts < 1 {
		return dp.WrapKeyErr(cfgKeyMaxAttempts, fmt.Errorf("must be at least 1"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyBaseDelay); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyBaseDelay, fmt.Errorf("must be positive"))
	}
	c.BaseDelay = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyMaxDelay); err != nil {
		return err
	}
	if dur < time.Duration(c.BaseDelay) {
		return dp.WrapKeyErr(cfgKeyMaxDelay, fmt.Errorf("must be not less than baseDelay"))
	}
	c.MaxDelay = config.TimeDuration(dur)

	var jitter float64
	if jitter, err = dp.GetFloat64(cfgKeyJitterFraction); err != nil {
		return err
	}
	if jitter < 0 || jitter > 1 {
		return dp.WrapKeyErr(cfgKeyJitterFraction, fmt.Errorf("must be in [0, 1]"))
	}
	c.JitterFraction = jitter

	return nil
}

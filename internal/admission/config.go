/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "admission"

const (
	cfgKeyMaxConcurrentJobs = "maxConcurrentJobs"
	cfgKeyLeaseTTL          = "leaseTTL"
)

const (
	defaultMaxConcurrentJobs = 100
	defaultLeaseTTL          = 15 * time.Minute
)

// Config represents a set of configuration parameters for the concurrency counter.
type Config struct {
	// MaxConcurrentJobs bounds the number of in-flight jobs across the
	// whole dispatcher fleet. May be overridden at runtime via SetCap.
	MaxConcurrentJobs int `mapstructure:"maxConcurrentJobs" yaml:"maxConcurrentJobs" json:"maxConcurrentJobs"`

	// LeaseTTL is how long an admission lease survives without renewal.
	// Leases of crashed dispatchers decay after this window.
	LeaseTTL config.TimeDuration `mapstructure:"leaseTTL" yaml:"leaseTTL" json:"leaseTTL"`

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
		keyPrefix:         cfgDefaultKeyPrefix,
		MaxConcurrentJobs: defaultMaxConcurrentJobs,
		LeaseTTL:          config.TimeDuration(defaultLeaseTTL),
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
	dp.SetDefault(cfgKeyMaxConcurrentJobs, defaultMaxConcurrentJobs)
	dp.SetDefault(cfgKeyLeaseTTL, defaultLeaseTTL)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.MaxConcurrentJobs, err = dp.GetInt(cfgKeyMaxConcurrentJobs); err != nil {
		return err
	}
	if c.MaxConcurrentJobs < 1 {
		return dp.WrapKeyErr(cfgKeyMaxConcurrentJobs, fmt.Errorf("must be at least 1"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyLeaseTTL); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyLeaseTTL, fmt.Errorf("must be positive"))
	}
	c.LeaseTTL = config.TimeDuration(dur)

	return nil
}

/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package workqueue

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "queue"

const (
	cfgKeyVisibilityTimeout = "visibilityTimeout"
	cfgKeyMaxDeliveries     = "maxDeliveries"
)

const (
	defaultVisibilityTimeout = 5 * time.Minute
	defaultMaxDeliveries     = 5
)

// Config represents a set of configuration parameters for the work queue.
type Config struct {
	// VisibilityTimeout is how long a received message stays invisible
	// before the queue assumes its consumer died and redelivers it.
	VisibilityTimeout config.TimeDuration `mapstructure:"visibilityTimeout" yaml:"visibilityTimeout" json:"visibilityTimeout"`

	// MaxDeliveries bounds whole-job attempts; a message failing on its
	// MaxDeliveries-th delivery is dead-lettered.
	MaxDeliveries int `mapstructure:"maxDeliveries" yaml:"maxDeliveries" json:"maxDeliveries"`

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
		VisibilityTimeout: config.TimeDuration(defaultVisibilityTimeout),
		MaxDeliveries:     defaultMaxDeliveries,
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
	dp.SetDefault(cfgKeyVisibilityTimeout, defaultVisibilityTimeout)
	dp.SetDefault(cfgKeyMaxDeliveries, defaultMaxDeliveries)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyVisibilityTimeout); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyVisibilityTimeout, fmt.Errorf("must be positive"))
	}
	c.VisibilityTimeout = config.TimeDuration(dur)

	if c.MaxDeliveries, err = dp.GetInt(cfgKeyMaxDeliveries); err != nil {
		return err
	}
	if c.MaxDeliveries < 1 {
		return dp.WrapKeyErr(cfgKeyMaxDeliveries, fmt.Errorf("must be at least 1"))
	}

	return nil
}

/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package redisclient

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "redis"

const (
	cfgKeyAddress         = "address"
	cfgKeyPassword        = "password"
	cfgKeyDatabase        = "database"
	cfgKeyKeyNamespace    = "keyNamespace"
	cfgKeyMaxIdleConns    = "maxIdleConns"
	cfgKeyMaxActiveConns  = "maxActiveConns"
	cfgKeyIdleConnTimeout = "idleConnTimeout"
	cfgKeyTimeoutsConnect = "timeouts.connect"
	cfgKeyTimeoutsRead    = "timeouts.read"
	cfgKeyTimeoutsWrite   = "timeouts.write"
)

const (
	defaultAddress         = "127.0.0.1:6379"
	defaultKeyNamespace    = "docdispatch"
	defaultMaxIdleConns    = 8
	defaultMaxActiveConns  = 64
	defaultIdleConnTimeout = 5 * time.Minute
	defaultTimeoutConnect  = 5 * time.Second
	defaultTimeoutRead     = 3 * time.Second
	defaultTimeoutWrite    = 3 * time.Second
)

// Config represents a set of configuration parameters for the Redis connection pool.
type Config struct {
	Address         string              `mapstructure:"address" yaml:"address" json:"address"`
	Password        string              `mapstructure:"password" yaml:"password" json:"password"`
	Database        int                 `mapstructure:"database" yaml:"database" json:"database"`
	KeyNamespace    string              `mapstructure:"keyNamespace" yaml:"keyNamespace" json:"keyNamespace"`
	MaxIdleConns    int                 `mapstructure:"maxIdleConns" yaml:"maxIdleConns" json:"maxIdleConns"`
	MaxActiveConns  int                 `mapstructure:"maxActiveConns" yaml:"maxActiveConns" json:"maxActiveConns"`
	IdleConnTimeout config.TimeDuration `mapstructure:"idleConnTimeout" yaml:"idleConnTimeout" json:"idleConnTimeout"`
	Timeouts        TimeoutsConfig      `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// TimeoutsConfig represents a set of timeout parameters for Redis connections.
type TimeoutsConfig struct {
	Connect config.TimeDuration `mapstructure:"connect" yaml:"connect" json:"connect"`
	Read    config.TimeDuration `mapstructure:"read" yaml:"read" json:"read"`
	Write   config.TimeDuration `mapstructure:"write" yaml:"write" json:"write"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix:       cfgDefaultKeyPrefix,
		Address:         defaultAddress,
		KeyNamespace:    defaultKeyNamespace,
		MaxIdleConns:    defaultMaxIdleConns,
		MaxActiveConns:  defaultMaxActiveConns,
		IdleConnTimeout: config.TimeDuration(defaultIdleConnTimeout),
		Timeouts: TimeoutsConfig{
			Connect: config.TimeDuration(defaultTimeoutConnect),
			Read:    config.TimeDuration(defaultTimeoutRead),
			Write:   config.TimeDuration(defaultTimeoutWrite),
		},
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
	dp.SetDefault(cfgKeyAddress, defaultAddress)
	dp.SetDefault(cfgKeyKeyNamespace, defaultKeyNamespace)
	dp.SetDefault(cfgKeyMaxIdleConns, defaultMaxIdleConns)
	dp.SetDefault(cfgKeyMaxActiveConns, defaultMaxActiveConns)
	dp.SetDefault(cfgKeyIdleConnTimeout, defaultIdleConnTimeout)
	dp.SetDefault(cfgKeyTimeoutsConnect, defaultTimeoutConnect)
	dp.SetDefault(cfgKeyTimeoutsRead, defaultTimeoutRead)
	dp.SetDefault(cfgKeyTimeoutsWrite, defaultTimeoutWrite)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyAddress, fmt.Errorf("cannot be empty"))
	}
	if c.Password, err = dp.GetString(cfgKeyPassword); err != nil {
		return err
	}
	if c.Database, err = dp.GetInt(cfgKeyDatabase); err != nil {
		return err
	}
	if c.Database < 0 {
		return dp.WrapKeyErr(cfgKeyDatabase, fmt.Errorf("must be non-negative"))
	}
	if c.KeyNamespace, err = dp.GetString(cfgKeyKeyNamespace); err != nil {
		return err
	}
	if c.MaxIdleConns, err = dp.GetInt(cfgKeyMaxIdleConns); err != nil {
		return err
	}
	if c.MaxActiveConns, err = dp.GetInt(cfgKeyMaxActiveConns); err != nil {
		return err
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyIdleConnTimeout); err != nil {
		return err
	}
	c.IdleConnTimeout = config.TimeDuration(dur)
	if dur, err = dp.GetDuration(cfgKeyTimeoutsConnect); err != nil {
		return err
	}
	c.Timeouts.Connect = config.TimeDuration(dur)
	if dur, err = dp.GetDuration(cfgKeyTimeoutsRead); err != nil {
		return err
	}
	c.Timeouts.Read = config.TimeDuration(dur)
	if dur, err = dp.GetDuration(cfgKeyTimeoutsWrite); err != nil {
		return err
	}
	c.Timeouts.Write = config.TimeDuration(dur)

	return nil
}

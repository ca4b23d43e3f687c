/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package orchestrator

import (
	"fmt"
	"net/url"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "orchestrator"

const (
	cfgKeyEnabled = "enabled"
	cfgKeyBaseURL = "baseUrl"
)

// Config represents a set of configuration parameters for the workflow
// engine boundary. When disabled the dispatcher executes sub-units itself
// instead of handing jobs off.
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	BaseURL string `mapstructure:"baseUrl" yaml:"baseUrl" json:"baseUrl"`

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
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
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
	dp.SetDefault(cfgKeyEnabled, false)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}
	if c.BaseURL, err = dp.GetString(cfgKeyBaseURL); err != nil {
		return err
	}
	if c.Enabled {
		if c.BaseURL == "" {
			return dp.WrapKeyErr(cfgKeyBaseURL, fmt.Errorf("cannot be empty when orchestrator is enabled"))
		}
		if _, err = url.ParseRequestURI(c.BaseURL); err != nil {
			return dp.WrapKeyErr(cfgKeyBaseURL, err)
		}
	}

	return nil
}

/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package docproc

import (
	"net/url"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "processor"

const cfgKeyBaseURL = "baseUrl"

// Config represents a set of configuration parameters for the sub-unit
// worker service used in direct dispatch mode.
type Config struct {
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
}

// Set sets configuration values from config.DataProvider. An empty base
// URL is allowed here; the service entrypoint requires it only when
// direct dispatch mode is selected.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.BaseURL, err = dp.GetString(cfgKeyBaseURL); err != nil {
		return err
	}
	if c.BaseURL != "" {
		if _, err = url.ParseRequestURI(c.BaseURL); err != nil {
			return dp.WrapKeyErr(cfgKeyBaseURL, err)
		}
	}

	return nil
}

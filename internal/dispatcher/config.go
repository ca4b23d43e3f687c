/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatcher

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "dispatcher"

const (
	cfgKeyWorkers              = "workers"
	cfgKeyBatchSize            = "batchSize"
	cfgKeyBatchMaxWait         = "batchMaxWait"
	cfgKeyDenyBackoff          = "denyBackoff"
	cfgKeyPollErrorBackoff     = "pollErrorBackoff"
	cfgKeySubUnitParallelism   = "subUnitParallelism"
	cfgKeyHandoffTTL           = "handoffTTL"
	cfgKeyCancellationTTL      = "cancellationTTL"
	cfgKeyLeaseRenewalInterval = "leaseRenewalInterval"
)

const (
	defaultWorkers              = 4
	defaultBatchSize            = 50
	defaultBatchMaxWait         = 1 * time.Second
	defaultDenyBackoff          = 2 * time.Second
	defaultPollErrorBackoff     = 5 * time.Second
	defaultSubUnitParallelism   = 8
	defaultHandoffTTL           = 24 * time.Hour
	defaultCancellationTTL      = 1 * time.Hour
	defaultLeaseRenewalInterval = 5 * time.Minute
)

// Config represents a set of configuration parameters for the dispatcher.
type Config struct {
	// Workers is the number of concurrent polling loops per instance.
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`

	// BatchSize is the maximum number of messages fetched per poll.
	BatchSize int `mapstructure:"batchSize" yaml:"batchSize" json:"batchSize"`

	// BatchMaxWait bounds how long a poll waits for the first message.
	BatchMaxWait config.TimeDuration `mapstructure:"batchMaxWait" yaml:"batchMaxWait" json:"batchMaxWait"`

	// DenyBackoff is the pause after a poll in which admission was denied.
	DenyBackoff config.TimeDuration `mapstructure:"denyBackoff" yaml:"denyBackoff" json:"denyBackoff"`

	// PollErrorBackoff is the pause after a failed poll.
	PollErrorBackoff config.TimeDuration `mapstructure:"pollErrorBackoff" yaml:"pollErrorBackoff" json:"pollErrorBackoff"`

	// SubUnitParallelism bounds concurrent sub-unit executions per job
	// in direct mode.
	SubUnitParallelism int `mapstructure:"subUnitParallelism" yaml:"subUnitParallelism" json:"subUnitParallelism"`

	// HandoffTTL is how long a handoff record waits for the workflow
	// engine's completion callback before expiring.
	HandoffTTL config.TimeDuration `mapstructure:"handoffTTL" yaml:"handoffTTL" json:"handoffTTL"`

	// CancellationTTL is how long a cancellation mark stays visible.
	CancellationTTL config.TimeDuration `mapstructure:"cancellationTTL" yaml:"cancellationTTL" json:"cancellationTTL"`

	// LeaseRenewalInterval is how often a direct execution renews its
	// admission lease. Zero disables renewal.
	LeaseRenewalInterval config.TimeDuration `mapstructure:"leaseRenewalInterval" yaml:"leaseRenewalInterval" json:"leaseRenewalInterval"`

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
		keyPrefix:            cfgDefaultKeyPrefix,
		Workers:              defaultWorkers,
		BatchSize:            defaultBatchSize,
		BatchMaxWait:         config.TimeDuration(defaultBatchMaxWait),
		DenyBackoff:          config.TimeDuration(defaultDenyBackoff),
		PollErrorBackoff:     config.TimeDuration(defaultPollErrorBackoff),
		SubUnitParallelism:   defaultSubUnitParallelism,
		HandoffTTL:           config.TimeDuration(defaultHandoffTTL),
		CancellationTTL:      config.TimeDuration(defaultCancellationTTL),
		LeaseRenewalInterval: config.TimeDuration(defaultLeaseRenewalInterval),
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
	dp.SetDefault(cfgKeyWorkers, defaultWorkers)
	dp.SetDefault(cfgKeyBatchSize, defaultBatchSize)
	dp.SetDefault(cfgKeyBatchMaxWait, defaultBatchMaxWait)
	dp.SetDefault(cfgKeyDenyBackoff, defaultDenyBackoff)
	dp.SetDefault(cfgKeyPollErrorBackoff, defaultPollErrorBackoff)
	dp.SetDefault(cfgKeySubUnitParallelism, defaultSubUnitParallelism)
	dp.SetDefault(cfgKeyHandoffTTL, defaultHandoffTTL)
	dp.SetDefault(cfgKeyCancellationTTL, defaultCancellationTTL)
	dp.SetDefault(cfgKeyLeaseRenewalInterval, defaultLeaseRenewalInterval)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Workers, err = dp.GetInt(cfgKeyWorkers); err != nil {
		return err
	}
	if c.Workers < 1 {
		return dp.WrapKeyErr(cfgKeyWorkers, fmt.Errorf("must be at least 1"))
	}

	if c.BatchSize, err = dp.GetInt(cfgKeyBatchSize); err != nil {
		return err
	}
	if c.BatchSize < 1 {
		return dp.WrapKeyErr(cfgKeyBatchSize, fmt.Errorf("must be at least 1"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyBatchMaxWait); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyBatchMaxWait, fmt.Errorf("must be positive"))
	}
	c.BatchMaxWait = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyDenyBackoff); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyDenyBackoff, fmt.Errorf("must not be negative"))
	}
	c.DenyBackoff = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyPollErrorBackoff); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyPollErrorBackoff, fmt.Errorf("must not be negative"))
	}
	c.PollErrorBackoff = config.TimeDuration(dur)

	if c.SubUnitParallelism, err = dp.GetInt(cfgKeySubUnitParallelism); err != nil {
		return err
	}
	if c.SubUnitParallelism < 1 {
		return dp.WrapKeyErr(cfgKeySubUnitParallelism, fmt.Errorf("must be at least 1"))
	}

	if dur, err = dp.GetDuration(cfgKeyHandoffTTL); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyHandoffTTL, fmt.Errorf("must be positive"))
	}
	c.HandoffTTL = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyCancellationTTL); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyCancellationTTL, fmt.Errorf("must be positive"))
	}
	c.CancellationTTL = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyLeaseRenewalInterval); err != nil {
		return err
	}
	if dur < 0 {
		return dp.WrapKeyErr(cfgKeyLeaseRenewalInterval, fmt.Errorf("must not be negative"))
	}
	c.LeaseRenewalInterval = config.TimeDuration(dur)

	return nil
}

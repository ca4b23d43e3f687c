/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-docdispatch/internal/admission"
	"github.com/acronis/go-docdispatch/internal/dispatcher"
	"github.com/acronis/go-docdispatch/internal/docproc"
	"github.com/acronis/go-docdispatch/internal/invoke"
	"github.com/acronis/go-docdispatch/internal/orchestrator"
	"github.com/acronis/go-docdispatch/internal/redisclient"
	"github.com/acronis/go-docdispatch/internal/resultcache"
	"github.com/acronis/go-docdispatch/internal/workqueue"
)

// AppConfig aggregates the configuration of all service components.
type AppConfig struct {
	Log          *log.Config
	Server       *httpserver.Config
	Redis        *redisclient.Config
	Queue        *workqueue.Config
	Admission    *admission.Config
	Invoker      *invoke.Config
	ResultCache  *resultcache.Config
	Dispatcher   *dispatcher.Config
	Orchestrator *orchestrator.Config
	Processor    *docproc.Config
	HTTPClient   *httpclient.Config
}

// NewAppConfig creates a new instance of the AppConfig.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Log:          log.NewConfig(),
		Server:       httpserver.NewConfig(),
		Redis:        redisclient.NewConfig(),
		Queue:        workqueue.NewConfig(),
		Admission:    admission.NewConfig(),
		Invoker:      invoke.NewConfig(),
		ResultCache:  resultcache.NewConfig(),
		Dispatcher:   dispatcher.NewConfig(),
		Orchestrator: orchestrator.NewConfig(),
		Processor:    docproc.NewConfig(),
		HTTPClient:   httpclient.NewConfigWithKeyPrefix("httpClient"),
	}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set sets configuration values from config.DataProvider.
func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}

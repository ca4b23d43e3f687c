/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// docdispatch is an admission-controlled dispatch engine for a document
// processing pipeline: it drains a durable Redis-backed work queue,
// bounds fleet-wide concurrency with a lease-based counter, and drives
// admitted jobs either directly through a sub-unit worker service or by
// handing them off to an external workflow engine.
package main

import (
	"context"
	"flag"
	"fmt"
	golog "log"
	"strings"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"
	"github.com/go-chi/chi/v5"
	"github.com/gomodule/redigo/redis"

	"github.com/acronis/go-docdispatch/internal/admission"
	"github.com/acronis/go-docdispatch/internal/dispatcher"
	"github.com/acronis/go-docdispatch/internal/docproc"
	"github.com/acronis/go-docdispatch/internal/httpapi"
	"github.com/acronis/go-docdispatch/internal/invoke"
	"github.com/acronis/go-docdispatch/internal/orchestrator"
	"github.com/acronis/go-docdispatch/internal/redisclient"
	"github.com/acronis/go-docdispatch/internal/resultcache"
	"github.com/acronis/go-docdispatch/internal/workqueue"
)

const (
	envVarsPrefix = "docdispatch"

	releaseRetryInterval = 30 * time.Second
	healthCheckTimeout   = 3 * time.Second
)

func main() {
	cfgPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := runApp(*cfgPath); err != nil {
		golog.Fatal(err)
	}
}

func runApp(cfgPath string) error {
	cfg, err := loadAppConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	pool := redisclient.Open(cfg.Redis)
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			logger.Error("failed to close redis pool", log.Error(closeErr))
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer pingCancel()
	if err = redisclient.Ping(pingCtx, pool); err != nil {
		return fmt.Errorf("ping redis at %s: %w", cfg.Redis.Address, err)
	}

	queueMetrics := workqueue.NewPrometheusMetrics()
	queueMetrics.MustRegister()
	defer queueMetrics.Unregister()
	admissionMetrics := admission.NewPrometheusMetrics()
	admissionMetrics.MustRegister()
	defer admissionMetrics.Unregister()
	invokeMetrics := invoke.NewPrometheusMetrics()
	invokeMetrics.MustRegister()
	defer invokeMetrics.Unregister()
	cacheMetrics := resultcache.NewPrometheusMetrics()
	cacheMetrics.MustRegister()
	defer cacheMetrics.Unregister()
	dispatcherMetrics := dispatcher.NewPrometheusMetrics()
	dispatcherMetrics.MustRegister()
	defer dispatcherMetrics.Unregister()

	ns := cfg.Redis.KeyNamespace
	queue := workqueue.NewWithOpts(pool, cfg.Queue, ns, logger, workqueue.Opts{Metrics: queueMetrics})
	counter := admission.NewCounterWithOpts(pool, cfg.Admission, ns, logger, admission.Opts{Metrics: admissionMetrics})
	invoker := invoke.NewInvokerWithOpts(cfg.Invoker.Policy(), logger, invoke.Opts{Metrics: invokeMetrics})

	var cache resultcache.Cache
	if cfg.ResultCache.Enabled {
		cache = resultcache.NewWithOpts(pool, cfg.ResultCache, ns, logger, resultcache.Opts{Metrics: cacheMetrics})
	} else {
		logger.Warn("result cache is disabled, every delivery recomputes all sub-units")
		cache = resultcache.NewNoop()
	}

	dispOpts, err := makeDispatcherOpts(cfg, logger)
	if err != nil {
		return err
	}
	dispOpts.Metrics = dispatcherMetrics

	disp, err := dispatcher.New(queue, counter, invoker, cache, pool, cfg.Dispatcher, ns, logger, dispOpts)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	httpServer, err := makeHTTPServer(cfg, pool, queue, counter, disp, logger)
	if err != nil {
		return err
	}

	units := []service.Unit{
		service.NewWorkerUnit(disp),
		service.NewWorkerUnit(service.NewPeriodicWorker(
			service.WorkerFunc(counter.FlushPendingReleases), releaseRetryInterval, logger)),
		httpServer,
	}
	return service.New(logger, service.NewCompositeUnit(units...)).Start()
}

func makeDispatcherOpts(cfg *AppConfig, logger log.FieldLogger) (dispatcher.Opts, error) {
	httpClient, err := httpclient.NewWithOpts(cfg.HTTPClient, httpclient.Opts{
		UserAgent: "docdispatch",
		LoggerProvider: func(ctx context.Context) log.FieldLogger {
			return logger
		},
	})
	if err != nil {
		return dispatcher.Opts{}, fmt.Errorf("create http client: %w", err)
	}

	if cfg.Orchestrator.Enabled {
		return dispatcher.Opts{
			Orchestrator: orchestrator.NewHTTPOrchestrator(httpClient, cfg.Orchestrator.BaseURL),
		}, nil
	}
	if cfg.Processor.BaseURL == "" {
		return dispatcher.Opts{}, fmt.Errorf(
			"processor.baseUrl is required when the orchestrator is disabled")
	}
	return dispatcher.Opts{
		Processor: docproc.NewHTTPProcessor(httpClient, cfg.Processor.BaseURL),
	}, nil
}

func makeHTTPServer(
	cfg *AppConfig,
	pool *redis.Pool,
	queue *workqueue.Queue,
	counter *admission.Counter,
	disp *dispatcher.Dispatcher,
	logger log.FieldLogger,
) (*httpserver.HTTPServer, error) {
	api := &httpapi.API{
		Queue:      queue,
		Counter:    counter,
		Dispatcher: disp,
		Logger:     logger,
	}

	opts := httpserver.Opts{
		ServiceNameInURL: "docdispatch",
		ErrorDomain:      httpapi.ErrorDomain,
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: func(router chi.Router) {
				api.RegisterRoutes(router)
			},
		},
		HealthCheckContext: func(ctx context.Context) (httpserver.HealthCheckResult, error) {
			pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			redisStatus := httpserver.HealthCheckStatusOK
			if err := redisclient.Ping(pingCtx, pool); err != nil {
				redisStatus = httpserver.HealthCheckStatusFail
			}
			return httpserver.HealthCheckResult{"redis": redisStatus}, nil
		},
	}
	return httpserver.New(cfg.Server, logger, opts)
}

func loadAppConfig(cfgPath string) (*AppConfig, error) {
	cfg := NewAppConfig()
	cfgLoader := config.NewDefaultLoader(envVarsPrefix)
	if cfgPath != "" {
		if err := cfgLoader.LoadFromFile(cfgPath, config.DataTypeYAML, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	// No file given, configuration comes from defaults and env vars.
	if err := cfgLoader.LoadFromReader(strings.NewReader(""), config.DataTypeYAML, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

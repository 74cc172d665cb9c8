// Package app wires the pipeline's components from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"muse/internal/agents"
	"muse/internal/config"
	"muse/internal/confirm"
	museerrors "muse/internal/errors"
	"muse/internal/events"
	"muse/internal/executor"
	"muse/internal/intent"
	"muse/internal/logging"
	"muse/internal/metadata"
	"muse/internal/observability"
	"muse/internal/persist"
	"muse/internal/provider"
	"muse/internal/storage"
	"muse/internal/usage"
)

// App holds every wired component plus the resources to close on exit.
type App struct {
	Config     *config.Config
	Logger     logging.Logger
	Catalog    *agents.Catalog
	Detector   *intent.Detector
	Ledger     usage.Ledger
	Store      persist.DocumentStore
	Bus        *events.Bus
	Dispatcher *events.Dispatcher
	Controller *confirm.Controller
	Tracing    *observability.TracerProvider
	Registry   *prometheus.Registry

	closers []func() error
}

// New builds the full dependency graph.
func New(cfg *config.Config) (*App, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	a := &App{Config: cfg, Logger: logger}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog
	a.Detector = intent.NewDetector(catalog)

	a.Tracing, err = observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("wire tracing: %w", err)
	}
	a.Registry = observability.NewRegistry()

	if err := a.wireStores(); err != nil {
		return nil, err
	}

	a.Bus = events.NewBus()
	a.Dispatcher = events.NewDispatcher(logging.NewComponentLogger(logger, "events"), a.Bus)
	a.closers = append(a.closers, func() error {
		a.Dispatcher.Close()
		return nil
	})

	generator, err := a.wireProviders()
	if err != nil {
		return nil, err
	}

	mapper, fetcher, err := a.wireStorage()
	if err != nil {
		return nil, err
	}

	exec := executor.New(catalog, a.Ledger, generator, fetcher, mapper,
		a.Dispatcher, logging.NewComponentLogger(logger, "executor"))
	validator := metadata.NewValidator(logging.NewComponentLogger(logger, "metadata"))
	coordinator := persist.NewCoordinator(a.Store, logging.NewComponentLogger(logger, "persist"))
	pipeline := confirm.NewPipeline(exec, validator, coordinator, mapper, logging.NewComponentLogger(logger, "pipeline"))

	a.Controller, err = confirm.NewController(pipeline, a.Dispatcher,
		logging.NewComponentLogger(logger, "confirm"), confirm.Options{
			StateCapacity: cfg.Confirm.StateCapacity,
			SuggestionTTL: cfg.Confirm.SuggestionTTL,
		})
	if err != nil {
		return nil, fmt.Errorf("wire controller: %w", err)
	}
	return a, nil
}

func loadCatalog(path string) (*agents.Catalog, error) {
	if path == "" {
		return agents.DefaultCatalog(), nil
	}
	catalog, err := agents.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("load agent catalog: %w", err)
	}
	return catalog, nil
}

func (a *App) wireStores() error {
	cfg := a.Config
	for _, path := range []string{cfg.Database.UsagePath, cfg.Database.DocumentsPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}

	ledger, err := usage.NewSQLiteLedger(cfg.Database.UsagePath, cfg.Quota.DailyCap)
	if err != nil {
		return fmt.Errorf("wire usage ledger: %w", err)
	}
	a.Ledger = ledger
	a.closers = append(a.closers, ledger.Close)

	store, err := persist.NewSQLiteStore(cfg.Database.DocumentsPath)
	if err != nil {
		return fmt.Errorf("wire document store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) wireProviders() (provider.Generator, error) {
	cfg := a.Config.Provider
	if !cfg.Primary.Configured() {
		return nil, fmt.Errorf("provider.primary.base_url is not configured")
	}

	logger := logging.NewComponentLogger(a.Logger, "provider")
	var generators []provider.Generator
	for _, endpoint := range []config.ProviderEndpoint{cfg.Primary, cfg.Fallback} {
		if !endpoint.Configured() {
			continue
		}
		gen, err := provider.NewHTTPGenerator(provider.HTTPConfig{
			Name:        endpoint.Name,
			Endpoint:    endpoint.BaseURL,
			APIKey:      endpoint.APIKey,
			CallTimeout: endpoint.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("wire provider %s: %w", endpoint.Name, err)
		}
		generators = append(generators, gen)
	}

	retry := museerrors.RetryConfig{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		JitterFactor: 0.25,
	}
	chain, err := provider.NewChain(generators, retry, logger)
	if err != nil {
		return nil, fmt.Errorf("wire provider chain: %w", err)
	}
	return chain, nil
}

func (a *App) wireStorage() (storage.Mapper, storage.Fetcher, error) {
	cfg := a.Config.Storage
	fs, err := storage.NewFilesystemMapper(cfg.Dir, cfg.PublicURL)
	if err != nil {
		return nil, nil, fmt.Errorf("wire artifact storage: %w", err)
	}

	observer, err := storage.NewPrometheusObserver("muse_storage", a.Registry)
	if err != nil {
		return nil, nil, fmt.Errorf("wire storage metrics: %w", err)
	}

	mapper := storage.NewObservedMapper(storage.NewRetryingMapper(fs, nil), observer)
	fetcher := storage.NewObservedFetcher(
		storage.NewHTTPFetcher(60*time.Second, logging.NewComponentLogger(a.Logger, "fetch")),
		observer)
	return mapper, fetcher, nil
}

// StartJanitor runs the confirmation sweep until ctx is cancelled.
func (a *App) StartJanitor(ctx context.Context) {
	janitor := &confirm.Janitor{
		Controller: a.Controller,
		Interval:   a.Config.Confirm.JanitorInterval,
		Retention:  a.Config.Confirm.Retention,
		Logger:     logging.NewComponentLogger(a.Logger, "janitor"),
	}
	go janitor.Run(ctx)
}

// Close releases every owned resource, last wired first.
func (a *App) Close() error {
	a.Controller.Wait()
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Tracing.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

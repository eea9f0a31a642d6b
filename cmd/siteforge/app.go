package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jonathan/siteforge/internal/analysis"
	"github.com/jonathan/siteforge/internal/audit"
	"github.com/jonathan/siteforge/internal/codegen"
	"github.com/jonathan/siteforge/internal/config"
	"github.com/jonathan/siteforge/internal/db"
	"github.com/jonathan/siteforge/internal/deploy"
	"github.com/jonathan/siteforge/internal/directives"
	"github.com/jonathan/siteforge/internal/generation"
	"github.com/jonathan/siteforge/internal/llm"
	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/metrics"
	"github.com/jonathan/siteforge/internal/objstore"
	"github.com/jonathan/siteforge/internal/progress"
	"github.com/jonathan/siteforge/internal/safefetch"
	"github.com/jonathan/siteforge/internal/screenshot"
)

// store is what both the Postgres and the in-memory backends provide.
type store interface {
	audit.Store
	generation.Store
}

// app holds the wired components of one process.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	store       store
	bridge      progress.Bridge
	memBridge   *progress.Memory
	objects     objstore.Store
	fetcher     *safefetch.Fetcher
	audits      *audit.Service
	generations *generation.Orchestrator
	directives  *directives.Catalog
	health      func(ctx context.Context) error
	closers     []func() error
}

// loadConfig reads configuration from the --config file and the environment.
func loadConfig() (*config.Config, error) {
	return config.Load(config.NewViper(), configPath)
}

// newApp connects the configured backends. Generation is wired only when
// withGeneration is set; its absence leaves generations nil.
func newApp(ctx context.Context, cfg *config.Config, withGeneration bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logging.New(cfg.Log),
		metrics: metrics.New("siteforge"),
	}
	if err := a.init(ctx, withGeneration); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, withGeneration bool) error {
	cfg := a.cfg

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { database.Close(); return nil })
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		a.store = database
		a.health = database.Ping
		a.logger.Info("using postgres store")
	} else {
		a.store = db.NewMemory()
		a.logger.Info("using in-memory store")
	}

	if cfg.RedisURL != "" {
		bridge, err := progress.NewRedisFromURL(ctx, cfg.RedisURL, cfg.Audit.EventRetention)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bridge.Close)
		a.bridge = bridge
		a.logger.Info("using redis event bridge")
	} else {
		a.memBridge = progress.NewMemory()
		a.bridge = a.memBridge
	}

	switch cfg.Storage.Backend {
	case config.StorageMinIO:
		objects, err := objstore.NewMinIO(cfg.Storage.MinIO)
		if err != nil {
			return err
		}
		a.objects = objects
	default:
		a.objects = objstore.NewMemory()
	}

	a.fetcher = safefetch.New(&safefetch.Options{
		Timeout:      cfg.Audit.FetchTimeout,
		UserAgent:    cfg.Audit.UserAgent,
		MaxBodyBytes: cfg.Audit.MaxBodyBytes,
		MaxRedirects: cfg.Audit.MaxRedirects,
	})

	var scorer analysis.ExternalScorer
	if cfg.Audit.PageSpeedAPIKey != "" {
		ps, err := analysis.NewPageSpeedScorer(ctx, cfg.Audit.PageSpeedAPIKey)
		if err != nil {
			logging.WithError(a.logger, err).Warn("pagespeed scorer unavailable, external mobile score disabled")
		} else {
			scorer = ps
		}
	}

	opts := []audit.PipelineOption{audit.WithMetrics(a.metrics), audit.WithLogger(a.logger)}
	if cfg.Audit.Screenshots {
		opts = append(opts, audit.WithScreenshots(screenshot.New(a.fetcher, a.objects, cfg.Audit.ScreenshotTimeout)))
	}
	pipeline := audit.NewPipeline(a.fetcher, audit.Analyzers{
		SEO:    analysis.NewSEOAnalyzer(a.fetcher),
		Mobile: analysis.NewMobileAnalyzer(scorer),
		DNS:    analysis.NewDNSAnalyzer(nil),
	}, opts...)

	a.audits = audit.NewService(audit.ServiceConfig{
		Pipeline:  pipeline,
		Validator: a.fetcher,
		Store:     a.store,
		Bridge:    a.bridge,
		Metrics:   a.metrics,
		Logger:    a.logger,
		Timeout:   cfg.Audit.Timeout,
	})

	catalog, err := directives.Default()
	if err != nil {
		return err
	}
	a.directives = catalog

	if withGeneration {
		if err := a.initGeneration(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) initGeneration(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.RequireGeneration(); err != nil {
		return err
	}

	var service codegen.Service
	switch cfg.Generation.Backend {
	case config.BackendCLI:
		service = codegen.NewCLIAgent(codegen.CLIAgentConfig{
			Binary:       cfg.Generation.CLIBinary,
			Model:        cfg.Generation.Model,
			MaxTurns:     cfg.Generation.MaxTurns,
			AllowedTools: cfg.Generation.AllowedTools,
			Logger:       a.logger,
		})
	default:
		client, err := llm.NewGeminiClient(ctx, llm.DefaultConfig().WithModel(cfg.Generation.Model), cfg.Generation.GeminiAPIKey)
		if err != nil {
			return err
		}
		gemini := codegen.NewGemini(client)
		a.closers = append(a.closers, gemini.Close)
		service = gemini
	}

	var deployer deploy.Deployer
	if cfg.Deploy.WebhookURL != "" {
		deployer = deploy.NewWebhook(cfg.Deploy.WebhookURL, cfg.Deploy.Token, &http.Client{Timeout: cfg.Deploy.Timeout})
	}

	orchestrator, err := generation.New(generation.Config{
		Service:        service,
		Store:          a.store,
		Objects:        a.objects,
		Deployer:       deployer,
		Metrics:        a.metrics,
		Logger:         a.logger,
		Concurrency:    cfg.Generation.Concurrency,
		AttemptTimeout: cfg.Generation.AttemptTimeout,
		MaxTurns:       cfg.Generation.MaxTurns,
		Model:          cfg.Generation.Model,
		AllowedTools:   cfg.Generation.AllowedTools,
		PreviewBaseURL: cfg.Generation.PreviewBaseURL,
		WorkspaceRoot:  cfg.Generation.WorkspaceRoot,
	})
	if err != nil {
		return fmt.Errorf("failed to create generation orchestrator: %w", err)
	}
	a.generations = orchestrator
	return nil
}

// startJanitor sweeps finished event logs from the in-memory bridge until ctx
// ends. Redis expires streams on its own.
func (a *app) startJanitor(ctx context.Context) {
	if a.memBridge == nil || a.cfg.Audit.JanitorInterval <= 0 {
		return
	}
	a.memBridge.StartJanitor(ctx, a.cfg.Audit.JanitorInterval, a.cfg.Audit.EventRetention)
}

// Wait blocks until background audits and generations have finished.
func (a *app) Wait() {
	if a.audits != nil {
		a.audits.Wait()
	}
	if a.generations != nil {
		a.generations.Wait()
	}
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/server"
	"github.com/jonathan/siteforge/internal/server/ratelimit"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that runs audits and generation jobs and streams their progress.
Generation endpoints answer 503 when no code generation backend is configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides http.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.initGeneration(ctx); err != nil {
		logging.WithError(a.logger, err).Warn("generation disabled")
	}
	a.startJanitor(ctx)

	rl := ratelimit.NewConfig(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)
	srvCfg := server.Config{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
		Audits:            a.audits,
		Directives:        a.directives,
		Metrics:           a.metrics,
		Logger:            a.logger,
		RateLimit:         rl,
		Health:            a.health,
	}
	if a.generations != nil {
		srvCfg.Generations = a.generations
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Run(ctx); err != nil {
		return err
	}

	a.logger.Info("waiting for running jobs")
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		a.logger.Warn("shutdown timeout reached with jobs still running")
	}
	return nil
}

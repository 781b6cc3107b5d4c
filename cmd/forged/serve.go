package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/artifacts"
	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/events"
	forgedhttp "github.com/fyrsmithlabs/forged/internal/http"
	"github.com/fyrsmithlabs/forged/internal/logging"
	"github.com/fyrsmithlabs/forged/internal/orchestrator"
	"github.com/fyrsmithlabs/forged/internal/provider"
	"github.com/fyrsmithlabs/forged/internal/store"
	"github.com/fyrsmithlabs/forged/internal/swarm"
	"github.com/fyrsmithlabs/forged/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the forged daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		return run(ctx)
	},
}

// run wires every collaborator and blocks until the context is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting forged",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.String("model", cfg.Providers.Anthropic.Model))

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if tel.Degraded() {
		logger.Warn("telemetry degraded, continuing without full export")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// Infrastructure: events and durable state ride NATS when enabled,
	// otherwise everything stays in-process.
	var (
		sink events.Sink = events.Nop{}
		st   store.Store = store.NewMemory()
		nc   *nats.Conn
	)
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.Name),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Close()

		js, err := store.NewJetStream(nc)
		if err != nil {
			return fmt.Errorf("jetstream state store: %w", err)
		}
		st = js
		sink = events.NewNATSSink(nc, logger)
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	// Providers.
	completer, err := provider.NewAnthropicClient(
		cfg.Providers.Anthropic.APIKey,
		cfg.Providers.Anthropic.BaseURL,
		cfg.Providers.Anthropic.Model,
	)
	if err != nil {
		return fmt.Errorf("anthropic client: %w", err)
	}
	embedder := provider.NewHTTPEmbedder(cfg.Providers.Embeddings.BaseURL, cfg.Providers.Embeddings.Model)

	// Artifact store.
	artifactStore, err := artifacts.NewStore(cfg.Artifacts, embedder, logger)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	// Verification swarm.
	verifiers := []swarm.Verifier{
		swarm.NewReviewVerifier("review", true, 2, cfg.Swarm.ReviewPassScore, completer),
	}
	if cfg.Swarm.Semantic {
		verifiers = append(verifiers,
			swarm.NewSemanticVerifier("semantic", false, 1, cfg.Swarm.Coordinator.ScoreThreshold, embedder))
	}
	coordinator, err := swarm.NewCoordinator(verifiers, cfg.Swarm.Coordinator, logger)
	if err != nil {
		return fmt.Errorf("swarm coordinator: %w", err)
	}

	// Agent runner and engine.
	runner := agent.NewCompletionRunner(completer, cfg.Runner, cfg.Overflow, sink, logger)
	engine, err := orchestrator.NewEngine(cfg.Orchestrator, runner, coordinator, artifactStore, st, sink, logger)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	srv, err := forgedhttp.NewServer(engine, logger, &forgedhttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpadapter "vigil/internal/adapters/http"
	"vigil/internal/adapters/memory"
	pg "vigil/internal/adapters/postgres"
	"vigil/internal/alert"
	"vigil/internal/config"
	"vigil/internal/extract"
	"vigil/internal/ports"
	"vigil/internal/registry"
	"vigil/internal/scoring"
	"vigil/internal/services/detection"
	"vigil/internal/services/registryadmin"
	"vigil/internal/session"
	"vigil/internal/workers/sweeper"
)

func main() {
	root := &cobra.Command{
		Use:           "vigil",
		Short:         "Multi-channel risk scoring and alerting engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring engine HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg, cfgErr := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfgErr != nil {
		logger.Warn("config", zap.Error(cfgErr))
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	classifier, err := policy.Classifier()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wire repositories: Postgres when configured, process-local otherwise.
	var (
		sigRepo  ports.SignatureRepository
		ledger   ports.LedgerRepository
		sessRepo ports.SessionRepository
		stats    ports.StatisticsRepository
		reader   ports.StatisticsReader
	)
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		sigRepo, ledger, sessRepo, stats, reader = db, db, db, db, db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage (state is lost on restart)")
		mem := memory.NewStore()
		sigRepo, ledger, sessRepo, stats, reader = mem, mem, mem, mem, mem
	}

	reg := registry.New(logger)
	admin := registryadmin.New(sigRepo, reg, logger)
	if _, _, err := admin.Reload(ctx); err != nil {
		return fmt.Errorf("initial registry load: %w", err)
	}

	hub := httpadapter.NewHub(logger)
	sinks := []alert.Sink{alert.NewLogSink(logger), hub}
	if policy.Alerts.WebhookURL != "" {
		webhook, err := alert.NewWebhookSink(policy.Alerts.WebhookURL, policy.Alerts.Headers, 2*time.Second)
		if err != nil {
			return err
		}
		sinks = append(sinks, webhook)
	}
	emitter := alert.NewEmitter(alert.Config{
		QueueSize: policy.Alerts.QueueSize,
		Workers:   policy.Alerts.Workers,
	}, sinks, logger)
	defer emitter.Close(context.Background())

	tracker := session.NewTracker(policy.SessionConfig(), sessRepo, logger)
	agg := scoring.New(policy.Points(), stats, logger)
	svc := detection.New(extract.NewSet(), reg, agg, classifier, tracker, ledger, stats, emitter, logger)

	srv := httpadapter.New(svc, admin, reader, hub, logger)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Run(ctx, svc, cfg.SweepInterval, logger)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shut down cleanly")
	return nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	var zcfg zap.Config
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

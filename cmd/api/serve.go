package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"issueprops/api/internal/app"
	"issueprops/api/internal/assets"
	"issueprops/api/internal/cache"
	"issueprops/api/internal/config"
	"issueprops/api/internal/events"
	"issueprops/api/internal/property"
	"issueprops/api/internal/store"
	"issueprops/api/internal/telemetry"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on start")
}

func serve(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, telemetry.Options{
		Enabled:     cfg.OTelEnabled,
		Stdout:      cfg.OTelStdout,
		ServiceName: "issueprops-api",
		Version:     Version,
	}); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer telemetry.Shutdown(context.Background())

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if !skipMigrations {
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	opts := app.Options{
		Integration: property.NewIntegration(cfg.ExternalSources),
		Logger:      logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		schemaCache, err := cache.NewRedisSchemaCache(cfg.RedisURL, cfg.SchemaCacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer schemaCache.Close()
		opts.Cache = schemaCache
		logger.Info("schema cache enabled", "ttl", cfg.SchemaCacheTTL.String())
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		files, err := assets.New(assets.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		opts.Files = files
		logger.Info("file values checked against object store", "bucket", cfg.MinIOBucket)
	}

	publisher, err := events.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}
	defer publisher.Close()
	opts.Events = publisher

	service := app.New(telemetry.WrapStore(store.NewPostgresStore(db)), opts)
	if sources := service.ExternalSources(); len(sources) > 0 {
		logger.Info("external sources registered", "sources", sources)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger, app.NewMetrics())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("issue property API listening", "addr", cfg.Addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pmr/pmr-api/config"
	"github.com/pmr/pmr-api/internal/api"
	"github.com/pmr/pmr-api/internal/api/handlers"
	"github.com/pmr/pmr-api/internal/core/auth"
	"github.com/pmr/pmr-api/internal/core/mail"
	"github.com/pmr/pmr-api/internal/core/query"
	"github.com/pmr/pmr-api/internal/core/resource"
	"github.com/pmr/pmr-api/internal/core/validation"
	"github.com/pmr/pmr-api/internal/log"
	"github.com/pmr/pmr-api/internal/metrics"
	"github.com/pmr/pmr-api/internal/storage/postgres"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "pmr-api",
		Short:         "PMR request tracking API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml or /etc/pmr-api/config.yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := serve.Flags()
	flags.StringP("port", "p", "8080", "HTTP listen port")
	flags.String("mode", "debug", "gin mode: debug, release or test")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	_ = v.BindPFlag("server.port", flags.Lookup("port"))
	_ = v.BindPFlag("server.mode", flags.Lookup("mode"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(serve)
	return root
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, zapLogger, err := log.New(cfg.Server.Mode, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()

	if cfg.JWT.Secret == "" {
		return errors.New("jwt secret is required (PMR_JWT_SECRET)")
	}

	db, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database", "driver", cfg.Database.Driver, "host", cfg.Database.Host, "name", cfg.Database.Name)

	validation.RegisterBindingRules()

	mailer, err := mail.New(&cfg.Mail, logger)
	if err != nil {
		return err
	}

	// Auth
	authRepo := auth.NewRepository(db)
	authService := auth.NewService(authRepo, cfg, mailer, logger, metrics.Metrics)

	// Query engine and generic resources
	pipeline := query.NewPipeline(cfg.Query.ExcludedColumns,
		query.WithLogger(logger),
		query.WithMetrics(metrics.Metrics))
	limits := query.PageLimits{
		MaxPage:        cfg.Query.MaxPage,
		MaxPerPage:     cfg.Query.MaxPerPage,
		DefaultPerPage: cfg.Query.DefaultPerPage,
	}
	resourceService := resource.NewService(
		resource.NewRepository(db),
		query.NewPostgresIntrospector(db),
		pipeline,
		validation.NewValidator(),
		limits,
		logger,
		metrics.Metrics,
	)
	registry := resource.DefaultRegistry(auth.NewUserHooks(authRepo))

	router := api.NewRouter(
		authService,
		registry,
		handlers.NewAuthHandler(authService, logger),
		handlers.NewRoleHandler(authService, logger),
		handlers.NewResourceHandler(resourceService, logger),
		logger,
		metrics.Metrics,
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Setup(cfg.Server.Mode),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "mode", cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

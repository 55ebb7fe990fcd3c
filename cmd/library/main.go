// cmd/library/main.go
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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"shelfkeeper/internal/address"
	"shelfkeeper/internal/config"
	"shelfkeeper/internal/ledger"
	"shelfkeeper/internal/library"
	"shelfkeeper/internal/logger"
	"shelfkeeper/internal/telemetry"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		flags      config.Config
	)

	cmd := &cobra.Command{
		Use:           "library",
		Short:         "Serve per-owner library records over HTTP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logger.Get(cfg.Debug)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, log); err != nil {
				log.Error().Err(err).Msg("library server stopped")
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&flags.Addr, "addr", "", "listen address")
	f.BoolVar(&flags.Debug, "debug", false, "debug logging")
	f.StringVar(&flags.Namespace, "namespace", "", "address namespace label")
	f.StringVar(&flags.Store.Driver, "store", "", "store driver (memory|sqlite3|postgres)")
	f.StringVar(&flags.Store.DSN, "dsn", "", "store data source name")
	f.Float64Var(&flags.CreateRatePerMinute, "create-rate", 0, "library creations allowed per minute (0 disables the limit)")
	f.IntVar(&flags.CreateBurst, "create-burst", 0, "library creation burst")
	f.StringVar(&flags.OTLPEndpoint, "otlp-endpoint", "", "OTLP/HTTP trace endpoint URL")
	f.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")

	return cmd
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags config.Config) {
	set := cmd.Flags().Changed
	if set("addr") {
		cfg.Addr = flags.Addr
	}
	if set("debug") {
		cfg.Debug = flags.Debug
	}
	if set("namespace") {
		cfg.Namespace = flags.Namespace
	}
	if set("store") {
		cfg.Store.Driver = flags.Store.Driver
	}
	if set("dsn") {
		cfg.Store.DSN = flags.Store.DSN
	}
	if set("create-rate") {
		cfg.CreateRatePerMinute = flags.CreateRatePerMinute
	}
	if set("create-burst") {
		cfg.CreateBurst = flags.CreateBurst
	}
	if set("otlp-endpoint") {
		cfg.OTLPEndpoint = flags.OTLPEndpoint
	}
	if set("shutdown-timeout") {
		cfg.ShutdownTimeout = flags.ShutdownTimeout
	}
}

func openStore(ctx context.Context, cfg config.Config) (library.Store, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return library.NewMemoryStore(), func() error { return nil }, nil
	default:
		store, err := ledger.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// pinger is implemented by stores backed by a database connection.
type pinger interface {
	Ping(ctx context.Context) error
}

func newRouter(cfg config.Config, store library.Store, log zerolog.Logger) http.Handler {
	resolver := address.Namespace(cfg.Namespace)
	opts := []library.Option{
		library.WithResolver(resolver),
		library.WithLogger(log.With().Str("component", "library").Logger()),
		library.WithTracerProvider(otel.GetTracerProvider()),
		library.WithMeterProvider(otel.GetMeterProvider()),
	}
	if limiter := cfg.CreateLimiter(); limiter != nil {
		opts = append(opts, library.WithCreateLimiter(limiter))
	}
	svc := library.NewService(store, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)
	h := library.NewHandler(svc, resolver)
	if p, ok := store.(pinger); ok {
		h = h.WithHealthCheck(p.Ping)
	}
	r.Mount("/", h.Routes())
	return r
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, "library", version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeStore()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, store, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Addr).
			Str("store", cfg.Store.Driver).
			Str("namespace", cfg.Namespace).
			Msg("library server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return shutdownTelemetry(shutdownCtx)
	})
	return g.Wait()
}

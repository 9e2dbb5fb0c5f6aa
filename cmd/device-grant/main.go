// Command device-grant serves the OAuth 2.0 Device Authorization Grant (RFC 8628)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wrale/device-grant/internal/csrf"
	"github.com/wrale/device-grant/internal/logger"
	"github.com/wrale/device-grant/internal/metrics"
	"github.com/wrale/device-grant/internal/migrate"
)

// Version is set by the build process
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "device-grant",
		Short:        "OAuth 2.0 device authorization grant server",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the device flow and metrics listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg Config) error {
	log := logger.New("device-grant", logger.ParseLevel(cfg.LogLevel))
	slog.SetDefault(log)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New()
	flow, err := newFlow(ctx, cfg, b.flowStore, m, log)
	if err != nil {
		return err
	}
	idp, err := newIdentity(cfg)
	if err != nil {
		return err
	}
	csrfManager := csrf.NewManager(b.csrfStore, []byte(cfg.CSRFSecret), cfg.CSRFTokenExpiry)

	srv := newServer(cfg, flow, csrfManager, idp, b.limiter, m, log)
	if err := srv.checkHealth(ctx); err != nil {
		log.Warn("starting with unhealthy dependencies", "error", err)
	}

	api := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range []struct {
		name string
		srv  *http.Server
	}{{"api", api}, {"metrics", metricsSrv}} {
		g.Go(func() error {
			log.Info("listening", "server", s.name, "addr", s.srv.Addr)
			if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", s.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(api.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})

	return g.Wait()
}

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// cobra runs only the nearest PersistentPreRunE
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if dsn == "" {
				dsn = os.Getenv(envPrefix + "_POSTGRES_DSN")
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or %s_POSTGRES_DSN is required", envPrefix)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "postgres connection string (default $"+envPrefix+"_POSTGRES_DSN)")

	runner := func() (migrate.Runner, error) {
		return migrate.New(dsn, logger.New("device-grant-migrate", slog.LevelInfo))
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := runner()
				if err != nil {
					return err
				}
				return r.Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down [version]",
			Short: "Roll back the latest migration, or down to version",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var target int64
				if len(args) == 1 {
					v, err := strconv.ParseInt(args[0], 10, 64)
					if err != nil || v < 0 {
						return fmt.Errorf("invalid version %q", args[0])
					}
					target = v
				}
				r, err := runner()
				if err != nil {
					return err
				}
				return r.Down(cmd.Context(), target)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := runner()
				if err != nil {
					return err
				}
				return r.Status(cmd.Context())
			},
		},
	)
	return cmd
}

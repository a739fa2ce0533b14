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

	"github.com/Simply-Furaha/App/internal/config"
	"github.com/Simply-Furaha/App/internal/infrastructure/sqlite"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "memberpay",
		Short:         "Member contribution and loan repayment confirmation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional config file (yaml, json or toml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the payment poll loops",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(configFile)
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the SQLite schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(configFile)
				if err != nil {
					return err
				}
				db, err := sqlite.OpenAndMigrate(cmd.Context(), cfg.Store.SQLitePath)
				if err != nil {
					return fmt.Errorf("migrate %s: %w", cfg.Store.SQLitePath, err)
				}
				return db.Close()
			},
		},
		newPruneCmd(&configFile),
	)
	return root
}

func newPruneCmd(configFile *string) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete completed payment requests older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.Payment.Retention
			}
			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.orchestrator.PruneCompleted(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d completed payment requests\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of completed requests to delete; defaults to PAYMENT_RETENTION")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	a.bus.Start(context.Background())
	a.notifier.Start()

	sum, err := a.orchestrator.ResumePending(ctx)
	if err != nil {
		a.systemLogger.Error("resume_pending_failed", zap.Error(err))
	} else {
		a.systemLogger.Info("resume_pending_done",
			zap.Int("resumed", sum.Resumed),
			zap.Int("expired", sum.Expired),
			zap.Int("failed", sum.Failed),
		)
	}

	if cfg.Payment.Retention > 0 {
		go a.pruneLoop(ctx, cfg.Payment.Retention)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/", a.handler.Router())

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		a.systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("gateway", cfg.Gateway.Mode),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.systemLogger.Error("http_server_error",
				zap.Error(err),
			)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		a.systemLogger.Info("http_server_stopped")
	}
	if err := a.orchestrator.Shutdown(shutdownCtx); err != nil {
		a.systemLogger.Error("poll_loops_shutdown_error", zap.Error(err))
	}
	a.bus.Stop(shutdownCtx)
	return nil
}

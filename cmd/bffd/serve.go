package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/goBFF"
	"github.com/MrEthical07/goBFF/httpapi"
	"github.com/MrEthical07/goBFF/internal/appconfig"
	"github.com/MrEthical07/goBFF/internal/logging"
	"github.com/MrEthical07/goBFF/metrics/export/prometheus"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var configPath string

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the session endpoints, a health check and the metrics endpoint.`,
		RunE:  runServe,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./configs/config.yaml)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return err
	}

	logger, _, closer, err := logging.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	gin.SetMode(cfg.Server.Mode)
	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {}

	engine, err := goBFF.New().
		WithConfig(cfg.Engine()).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer engine.Close()

	opts := []httpapi.Option{
		httpapi.WithLogger(logger),
		httpapi.WithTrustedProxies(cfg.Server.TrustedProxies...),
	}
	if cfg.Server.LoginFlow {
		opts = append(opts, httpapi.WithLoginFlow())
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newMux(engine, cfg, httpapi.NewRouter(engine, opts...)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if rtt, err := engine.Ping(ctx); err != nil {
		logger.Warn("session store not reachable at startup", "error", err)
	} else {
		logger.Info("session store reachable", "rtt", rtt)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"address", cfg.Server.Addr,
			"mode", cfg.Server.Mode,
			"origin", cfg.Security.CanonicalOrigin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	logger.Info("server exited gracefully", "audit_dropped", engine.AuditDropped())
	return nil
}

// newMux serves health and metrics outside the host and origin checks,
// which only apply to browser traffic.
func newMux(engine *goBFF.Engine, cfg *appconfig.Config, app http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Cache-Control", "no-store")
		if _, err := engine.Ping(ctx); err != nil {
			http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	})
	if cfg.Metrics.Enabled && cfg.Metrics.Path != "" {
		mux.Handle("GET "+cfg.Metrics.Path, prometheus.NewPrometheusExporter(engine).Handler())
	}
	mux.Handle("/", app)
	return mux
}

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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"mcp-gateway/backend/internal/api"
	"mcp-gateway/backend/internal/config"
	"mcp-gateway/backend/internal/health"
	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/internal/mcp"
	"mcp-gateway/backend/internal/tls"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway (REST, JSON-RPC and MCP over HTTP)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	logger.Info("configuration loaded", "config_file", v.ConfigFileUsed(), "persistence", cfg.Persistence.Driver)

	a, err := buildApp(ctx, cfg, v, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var poller *health.Poller
	if cfg.Health.Enabled {
		if poller, err = health.NewPoller(a.aggregator, cfg.Health.Schedule, logger.Named("health")); err != nil {
			return err
		}
		poller.Start(ctx)
		defer poller.Stop()
	}

	e, transports := newEcho(a, logger)

	if v.ConfigFileUsed() != "" {
		if err := watchRegistry(ctx, a, logger); err != nil {
			logger.Warn("config file watch disabled", "error", err)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, a, hup, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", srv.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- srv.ListenAndServe()
			return
		}
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			serverErrors <- errors.New("tls enabled but cert_file/key_file not provided")
			return
		}
		if len(cfg.TLS.Hostnames) > 0 {
			created, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- fmt.Errorf("failed to generate self-signed cert: %w", err)
				return
			}
			if created {
				logger.Warn("generated self-signed certificate", "cert_file", cfg.TLS.CertFile)
			}
		}
		serverErrors <- srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := transports.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mcp transport shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := srv.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

// watchRegistry reloads the registry whenever the config file changes. An
// invalid backend list is rejected and the current registry keeps serving.
func watchRegistry(ctx context.Context, a *app, logger *logging.Logger) error {
	return config.WatchFile(ctx, a.viper.ConfigFileUsed(), func() {
		n, err := a.gateway.ReloadRegistry(ctx)
		if err != nil {
			logger.Error("registry hot reload rejected", "error", err)
			return
		}
		logger.Info("registry hot reloaded", "backends", n)
	}, func(err error) {
		logger.Error("config watch failed", "error", err)
	})
}

// reloadOnSignal reloads the registry for every value on sig until ctx is done.
func reloadOnSignal(ctx context.Context, a *app, sig <-chan os.Signal, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if n, err := a.gateway.ReloadRegistry(ctx); err != nil {
				logger.Error("SIGHUP registry reload failed", "error", err)
			} else {
				logger.Info("SIGHUP registry reload", "backends", n)
			}
		}
	}
}

func newEcho(a *app, logger *logging.Logger) (*echo.Echo, *mcp.Transports) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(a.cfg.Tracing.ServiceName))
	httpLog := logger.Named("http")
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			httpLog.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	api.NewHandler(a.gateway, logger.Named("api")).Register(e)
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	mcpServer := mcp.NewServer(a.gateway)
	mcpHandlers := http.NewServeMux()
	transports := mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer(), a.cfg.Server.BaseURL)
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	return e, transports
}

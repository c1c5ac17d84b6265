package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lendingapi/internal/config"
	"lendingapi/internal/httpx"
	"lendingapi/internal/loan"
	"lendingapi/internal/platform/catalog"
	"lendingapi/internal/platform/logging"
	"lendingapi/internal/platform/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("database connection OK", slog.String("dsn", postgres.RedactDSN(cfg.Database.DSN)))

	service := loan.NewService(
		loan.NewPostgresRepo(pool, cfg.Database.QueryTimeout),
		loan.WithNotifier(newNotifier(cfg.Catalog, logger)),
		loan.WithNotifyTimeout(cfg.Catalog.NotifyTimeout),
		loan.WithOverdueDays(cfg.Loan.OverdueDays),
		loan.WithLogger(logger),
	)
	defer service.Close()

	router := newRouter(loan.NewHTTPHandler(service, logger), pool)
	handler, err := withMiddleware(ctx, cfg.Server, logger, router)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// deferred: service.Close drains catalog notifications, then the pool closes
	return nil
}

func newNotifier(cfg config.CatalogConfig, logger *slog.Logger) loan.Notifier {
	if cfg.URL == "" {
		logger.Info("catalog notifications disabled")
		return catalog.Noop{}
	}
	return catalog.NewClient(cfg.URL, cfg.UserAgent, cfg.RPS, cfg.MaxRetries)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newRouter(loans *loan.HTTPHandler, db pinger) *http.ServeMux {
	router := http.NewServeMux()

	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	loans.Register(router)
	return router
}

// withMiddleware wraps h with the standard chain. Request IDs come first so
// every later layer can log them.
func withMiddleware(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger, h http.Handler) (http.Handler, error) {
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	limiter := httpx.NewRateLimitMiddleware(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, proxies)

	return httpx.Chain(
		httpx.RequestIDMiddleware,
		httpx.AccessLogMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
		httpx.SecurityHeadersMiddleware,
		httpx.CORSMiddleware(cfg.Origins()),
		httpx.RequestSizeLimitMiddleware(cfg.MaxBodyBytes),
		limiter.Middleware,
	)(h), nil
}

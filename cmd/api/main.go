package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/course-checkout/internal/api/router"
	"github.com/wolfman30/course-checkout/internal/checkout"
	appconfig "github.com/wolfman30/course-checkout/internal/config"
	"github.com/wolfman30/course-checkout/internal/export"
	httpmiddleware "github.com/wolfman30/course-checkout/internal/http/middleware"
	"github.com/wolfman30/course-checkout/internal/icons"
	"github.com/wolfman30/course-checkout/internal/observability/metrics"
	"github.com/wolfman30/course-checkout/pkg/logging"
)

func main() {
	// .env is optional outside local development
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.ForEnv(cfg.Env, cfg.LogLevel)
	logger.Info("starting course-checkout API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	metricsHandler, checkoutMetrics := setupMetrics(cfg.MetricsEnabled)

	recent, deliverer := setupExports(cfg, logger)
	go deliverer.Start(ctx)

	registry := checkout.NewRegistry(checkout.Deps{
		Logger:  logger,
		Sink:    export.MultiSink{recent, deliverer},
		Metrics: checkoutMetrics,
	}, cfg.SessionTTL)
	go registry.Start(ctx)

	tokens, err := checkout.NewTokens(sessionSecret(cfg, logger), cfg.SessionTTL)
	if err != nil {
		logger.Error("failed to configure session tokens", "error", err)
		os.Exit(1)
	}

	opts := []checkout.HandlerOption{
		checkout.WithExports(recent),
		checkout.WithIcons(icons.NewFeatherReplacer(logger)),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithSecureCookies(cfg.Env == "production"),
	}
	redisClient := connectRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, checkout.WithOpenLimiter(checkout.NewVelocityChecker(redisClient, checkout.VelocityConfig{
			MaxOpensPerIP: cfg.SessionOpenLimit,
			Window:        cfg.SessionOpenWindow,
		}, logger)))
	}
	checkoutHandler := checkout.NewHandler(registry, tokens, logger, opts...)

	var limiter *httpmiddleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		go limiter.Run(ctx, time.Minute)
	}

	r := router.New(&router.Config{
		Logger:             logger,
		Checkout:           checkoutHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})

	// WriteTimeout stays zero so timer websockets are not cut off
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	registry.Close()
	stop()
	select {
	case <-deliverer.Done():
	case <-shutdownCtx.Done():
		logger.Warn("export delivery did not drain before shutdown")
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics returns the /metrics handler and checkout collectors. Both are
// nil when metrics are disabled; the collectors are nil-safe.
func setupMetrics(enabled bool) (http.Handler, *metrics.CheckoutMetrics) {
	if !enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewCheckoutMetrics(reg)
}

// setupExports keeps recent events in memory for the API and forwards every
// event to the log from a background worker.
func setupExports(cfg *appconfig.Config, logger *logging.Logger) (*export.MemorySink, *export.Deliverer) {
	recent := export.NewMemorySink(cfg.ExportBufferSize)
	deliverer := export.NewDeliverer(export.NewLogSink(logger), logger).WithQueueSize(cfg.ExportBufferSize)
	return recent, deliverer
}

// sessionSecret returns the configured signing secret, or a random one that
// only lives as long as the process.
func sessionSecret(cfg *appconfig.Config, logger *logging.Logger) string {
	if secret := strings.TrimSpace(cfg.SessionSecret); secret != "" {
		return secret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Error("failed to generate session secret", "error", err)
		os.Exit(1)
	}
	logger.Warn("SESSION_SECRET not set, using an ephemeral secret; sessions will not survive a restart")
	return hex.EncodeToString(buf)
}

// connectRedis returns nil when Redis is not configured or unreachable.
func connectRedis(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available, session velocity checks disabled", "error", err)
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr)
	return client
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/metrics"
	"github.com/tuannvm/ado-ai/internal/secrets"
	"github.com/tuannvm/ado-ai/internal/store"
	"github.com/tuannvm/ado-ai/internal/telemetry"
	"github.com/tuannvm/ado-ai/internal/web"
)

func main() {
	config.LoadDotEnv()
	cfg := config.NewServerConfig()
	logging.Setup(getLogLevel(), false)
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.Errorf("ado-ai-web: %v", err)
		logging.Sync()
		os.Exit(1)
	}
}

func getLogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		s := config.Settings{LogLevel: lvl}
		return s.ZapLevel()
	}
	return "info"
}

func run(cfg *config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Headers:        cfg.OTLPHeaders,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: config.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize otel: %w", err)
	}
	if tel != nil {
		logging.Infof("OpenTelemetry exporting to %s", cfg.OTLPEndpoint)
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, 1)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()
	logging.Infof("Database ready (%s)", st.Driver())

	box, err := secrets.Load(cfg.EncryptionKey, cfg.EncryptionKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	system := config.LoadSystemConfig(config.SystemConfigPaths()...)
	settings := web.NewSettingsManager(st, box, system)

	// background runs get their own context so shutdown can let them finish
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	svc := web.NewWorkflowService(runCtx, settings, st, web.DefaultSessionFactory(m), m)

	browser := web.NewBrowser(web.DefaultBrowseRoots(system.DefaultWorkFolder)...)
	handler := web.NewHandler(settings, svc, browser, cfg.HookSecret)

	gin.SetMode(cfg.GinMode)
	serviceName := ""
	if tel != nil {
		serviceName = cfg.ServiceName
	}
	router := web.NewRouter(handler, web.RouterConfig{
		ServiceName: serviceName,
		Metrics:     m,
		Limiter:     limiter,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	logging.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("HTTP server shutdown error: %v", err)
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		logging.Warnf("Background analyses still running, cancelling: %v", err)
		cancelRuns()
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("OTel shutdown error: %v", err)
	}
	logging.Infof("Shutdown complete")
	return nil
}

// newLimiter uses redis when REDIS_URL is set so limits are shared across
// replicas, and an in-process limiter otherwise.
func newLimiter(ctx context.Context, cfg *config.ServerConfig) (web.Limiter, func(), error) {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	if cfg.RedisURL == "" {
		logging.Infof("Rate limiting analyze requests in memory (%d/min)", rpm)
		return web.NewMemoryLimiter(rpm, time.Minute), func() {}, nil
	}
	l, err := web.NewRedisLimiterFromURL(ctx, cfg.RedisURL, rpm, time.Minute)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logging.Infof("Rate limiting analyze requests through redis (%d/min)", rpm)
	return l, func() { _ = l.Close() }, nil
}

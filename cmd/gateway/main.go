package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/dlai-sd/waooaw-gateway/internal/breaker"
	"github.com/dlai-sd/waooaw-gateway/internal/config"
	"github.com/dlai-sd/waooaw-gateway/internal/events"
	"github.com/dlai-sd/waooaw-gateway/internal/hooks"
	"github.com/dlai-sd/waooaw-gateway/internal/ledger"
	ledgermem "github.com/dlai-sd/waooaw-gateway/internal/ledger/memory"
	ledgersqlite "github.com/dlai-sd/waooaw-gateway/internal/ledger/sqlite"
	"github.com/dlai-sd/waooaw-gateway/internal/metering"
	"github.com/dlai-sd/waooaw-gateway/internal/metrics"
	"github.com/dlai-sd/waooaw-gateway/internal/openapi"
	"github.com/dlai-sd/waooaw-gateway/internal/server"
	"github.com/dlai-sd/waooaw-gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("waooaw-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	backendURL, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		log.Fatalf("Invalid backend URL: %v", err)
	}

	store, sink, err := buildLedger(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	metricSet := metrics.New(registry)

	enforcer := metering.NewEnforcer(
		metering.TrialLimits{
			DailyTasks:  cfg.Trial.DailyTasks,
			DailyTokens: cfg.Trial.DailyTokens,
		},
		metering.PlanCatalog(cfg.Plans),
		store,
		sink,
		logger,
	)

	bus := hooks.NewBus()
	bus.Register(hooks.StagePreToolUse, hooks.NewApprovalRequired(approvalActions(cfg)...))

	br := breaker.New(
		"backend",
		uint32(cfg.Breaker.FailureThreshold),
		time.Duration(cfg.Breaker.WindowSeconds)*time.Second,
		logger,
	)

	var validator *openapi.Validator
	if cfg.OpenAPI.Validate {
		cache := openapi.NewSchemaCache(
			cfg.Backend.URL,
			time.Duration(cfg.OpenAPI.CacheTTLSeconds)*time.Second,
			nil,
		)
		validator = openapi.NewValidator(cache)
	}

	var limiter *rate.Limiter
	if cfg.Backend.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Backend.RateLimitRPS), cfg.Backend.RateLimitBurst)
	}

	timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	srv := server.New(cfg.Server.Port, timeout, logger, registry)

	admission := server.NewAdmission(bus, enforcer, metricSet, logger, nil)
	srv.Router.Post("/internal/admission/check", admission.ServeHTTP)

	proxy := server.NewProxy(server.ProxyConfig{
		Backend:   backendURL,
		Timeout:   timeout,
		Breaker:   br,
		Validator: validator,
		Limiter:   limiter,
		Metrics:   metricSet,
		Logger:    logger,
	})
	srv.Router.Handle("/*", proxy)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.String("backend", cfg.Backend.URL),
		slog.String("ledger", cfg.Ledger.Backend),
		slog.Bool("openapi_validation", cfg.OpenAPI.Validate),
		slog.String("hook_profile", cfg.Hooks.Profile),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway shutdown complete")
}

// buildLedger opens the configured ledger backend. The sqlite store doubles
// as the durable usage-event sink; the memory backend pairs with the
// in-process sink.
func buildLedger(cfg *config.Config, logger *slog.Logger) (ledger.Store, events.Sink, error) {
	switch cfg.Ledger.Backend {
	case "sqlite":
		store, err := ledgersqlite.New(cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite ledger", slog.String("path", cfg.Ledger.SQLitePath))
		return store, store, nil
	default:
		logger.Info("using in-memory ledger")
		return ledgermem.New(), events.NewMemorySink(), nil
	}
}

// approvalActions resolves the gated action set: an explicit override wins,
// otherwise the profile decides.
func approvalActions(cfg *config.Config) []string {
	if len(cfg.Hooks.ApprovalActions) > 0 {
		return cfg.Hooks.ApprovalActions
	}
	if cfg.Hooks.Profile == "trading" {
		return hooks.TradingApprovalActions()
	}
	return hooks.DefaultApprovalActions()
}

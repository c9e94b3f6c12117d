// Package main is the entry point for the backjob server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"backjob/internal/config"
	"backjob/internal/controller"
	"backjob/internal/controller/handlers"
	"backjob/internal/controller/middleware"
	"backjob/internal/dispatch"
	"backjob/internal/lifecycle"
	"backjob/internal/logger"
	"backjob/internal/monitor"
	"backjob/internal/observability"
	"backjob/internal/store"
	"backjob/internal/store/postgres"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting (postgres driver only)")
	configPath := flag.String("config", "", "Path to config file (default: backjob.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New(cfg.LogLevel)
	ctx := context.Background()

	// Tracing first so the dispatcher picks up the propagator.
	shutdownTracer, err := observability.InitTracer(ctx, "backjob", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := metrics.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Stores
	stores, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer stores.Close()

	if *migrateFlag {
		pg, ok := stores.durable.(*postgres.Store)
		if !ok {
			log.Fatalf("-migrate requires durable_driver=%s", config.DriverPostgres)
		}
		log.Println("Running database migrations...")
		if err := postgres.Migrate(pg.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	if stores.durable != nil && cfg.CheckAndCreateTable {
		if err := stores.durable.EnsureTable(ctx); err != nil {
			log.Fatalf("Failed to create table: %v", err)
		}
	}

	var durable store.Durable
	if stores.durable != nil {
		durable = stores.durable
	}
	jobs, err := store.NewJobStore(stores.cache, durable,
		store.WithCachePrefix(cfg.CachePrefix),
		store.WithLogger(slogger),
	)
	if err != nil {
		log.Fatalf("Failed to create job store: %v", err)
	}

	meter := otel.Meter("backjob")
	engine := lifecycle.NewEngine(jobs, lifecycle.Config{
		ErrorTimeout:   cfg.ErrorTimeout,
		BacklogDays:    cfg.BacklogDays,
		AllBacklogDays: cfg.AllBacklogDays,
	}, lifecycle.WithLogger(slogger), lifecycle.WithMeter(meter))

	// Queries the table only when scraped.
	if stores.durable != nil {
		if _, err := observability.RegisterActiveGauge(meter, stores.durable); err != nil {
			log.Printf("Failed to register active jobs gauge: %v", err)
		}
	}

	dispatcher := dispatch.New(cfg.SecretKey, dispatch.ActionRoutes{Prefix: "/actions/"},
		dispatch.WithUserAgent(cfg.UserAgent),
		dispatch.WithConnectTimeout(cfg.ConnectTimeout),
		dispatch.WithHoldOpen(cfg.HoldOpen),
		dispatch.WithSelfAddr(cfg.SelfAddr),
		dispatch.WithLogger(slogger),
	)
	protocol := monitor.New(engine, dispatcher,
		monitor.WithTrustProxy(cfg.TrustProxy),
		monitor.WithLogger(slogger),
	)

	actions := handlers.NewActionRegistry()
	registerExampleActions(actions)

	h := handlers.New(handlers.Deps{
		Starter: monitor.NewStarter(engine, dispatcher, cfg.TrustProxy, slogger),
		Status:  engine,
		Sweeper: engine.Sweeper(),
		Actions: actions,
		Checks:  stores.checks(),
		Logger:  slogger,
	})

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(
			middleware.WithLimit(cfg.RateLimit, cfg.RateLimitBurst),
			middleware.WithTrustProxy(cfg.TrustProxy),
		)
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Options{
		Addr:         addr,
		Handlers:     h,
		Actions:      actions,
		Protocol:     protocol,
		Metrics:      metrics.Handler,
		SystemSecret: cfg.SystemSecret,
		RateLimiter:  limiter,
		Logger:       slogger,
	})

	go func() {
		slogger.Info("backjob server starting", "addr", addr, "actions", actions.Names(),
			"cache", stores.cacheName, "durable", stores.durableName)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/config"
	"github.com/oneiroi/api/internal/database"
	"github.com/oneiroi/api/internal/eventbus"
	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/generation"
	"github.com/oneiroi/api/internal/handlers"
	"github.com/oneiroi/api/internal/logger"
	"github.com/oneiroi/api/internal/middleware"
	"github.com/oneiroi/api/internal/progress"
	"github.com/oneiroi/api/internal/proxy"
	"github.com/oneiroi/api/internal/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Oneiroi API starting...",
		zap.String("version", "0.1.0"),
		zap.String("environment", cfg.Environment),
	)

	if cfg.OTLPEndpoint != "" {
		log.Info("Initializing telemetry...")
		shutdownTelemetry, err := telemetry.InitTracer(ctx, "oneiroi-api", cfg.OTLPEndpoint)
		if err != nil {
			// Log but don't fail, as collector might be down
			log.Error("failed to initialize telemetry", zap.Error(err))
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Error("failed to shutdown telemetry", zap.Error(err))
				}
			}()
		}
	}

	var (
		events     progress.Sink
		natsStatus handlers.ConnectionStatus
	)
	if cfg.NATSURL != "" {
		log.Info("Initializing NATS...")
		nc, err := eventbus.Connect(cfg.NATSURL, log)
		if err != nil {
			log.Error("failed to connect to NATS, progress fan-out disabled", zap.Error(err))
		} else {
			defer nc.Close()
			events = eventbus.NewProgressPublisher(nc, log)
			natsStatus = nc
		}
	}

	perMinute := cfg.RateLimitPerMinute
	var (
		limiter     middleware.Limiter = middleware.NewRateLimiter(perMinute, perMinute, time.Minute)
		redisPinger handlers.Pinger
	)
	if cfg.RedisURL != "" {
		log.Info("Initializing Redis...")
		rdb, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to redis, using in-memory rate limiting", zap.Error(err))
		} else {
			defer rdb.Close()
			limiter = middleware.NewRedisLimiter(rdb, perMinute, time.Minute)
			redisPinger = rdb
		}
	}

	allow := proxy.NewAllowList(cfg.Proxy.AllowedHosts...)
	proxyHTTP := &http.Client{Timeout: cfg.Proxy.Timeout}
	directFetcher := proxy.NewDirectFetcher(allow, proxyHTTP, cfg.Proxy.MaxBytes, log)

	var artifactFetcher proxy.Fetcher = directFetcher
	if cfg.Proxy.BaseURL != "" {
		artifactFetcher = proxy.NewClient(cfg.Proxy.BaseURL, allow, proxyHTTP, cfg.Proxy.MaxBytes, log)
		log.Info("downloading artifacts through proxy endpoint", zap.String("base_url", cfg.Proxy.BaseURL))
	}

	fluxClient := flux.NewClient(cfg.Flux, nil, log)
	genLog := log.Named("generation")
	poller := generation.NewPoller(fluxClient, cfg.Flux.MaxAttempts, cfg.Flux.PollInterval, genLog)
	orchestrator := generation.NewOrchestrator(
		generation.NewSubmitter(fluxClient, genLog),
		poller,
		generation.NewMaterializer(allow, artifactFetcher, genLog),
		genLog,
	)
	if cfg.Flux.APIKey == "" {
		log.Warn("FLUX_API_KEY is not set; card requests must carry an X-Key header")
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log, "/health", "/metrics"))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins...))

	// Health check handlers
	healthHandler := handlers.NewHealthHandler(redisPinger, natsStatus, fluxClient.BaseURL())
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	generationHandler := handlers.NewGenerationHandler(orchestrator, cfg.Flux.APIKey, poller.MaxAttempts(), events, log)
	proxyHandler := handlers.NewProxyHandler(directFetcher, log)

	breaker := middleware.NewCircuitBreaker()
	breaker.OnStateChange = func(from, to middleware.CircuitState) {
		log.Warn("proxy circuit breaker changed state",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	proxyGuard := middleware.CircuitBreakerMiddleware(breaker, "Image delivery host is temporarily unavailable")

	// Same-origin artifact proxy, also reachable without the API prefix
	router.GET("/proxy", proxyGuard, proxyHandler.Proxy)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/proxy", proxyGuard, proxyHandler.Proxy)
		v1.POST("/cards", middleware.RateLimitMiddleware(limiter, log), generationHandler.CreateCard)
	}

	// A card request may poll for the whole attempt budget before downloading
	generationBudget := time.Duration(cfg.Flux.MaxAttempts)*(cfg.Flux.PollInterval+cfg.Flux.RequestTimeout) +
		cfg.Flux.RequestTimeout + cfg.Proxy.Timeout

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: generationBudget + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited gracefully")
}

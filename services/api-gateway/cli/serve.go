package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/AlxanderArt/HumanOS/internal/cliconfig"
	"github.com/AlxanderArt/HumanOS/internal/postgres"
	"github.com/AlxanderArt/HumanOS/internal/quality"
	redisstore "github.com/AlxanderArt/HumanOS/internal/redis"
	"github.com/AlxanderArt/HumanOS/internal/service"
	"github.com/AlxanderArt/HumanOS/internal/version"
	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
	"github.com/AlxanderArt/HumanOS/services/api-gateway/config"
	"github.com/AlxanderArt/HumanOS/services/api-gateway/handler"
	"github.com/AlxanderArt/HumanOS/services/api-gateway/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST and gRPC servers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("grpc-port", "9090", "gRPC health server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for per-user rate limiting; empty disables")
	serveCmd.Flags().String("jwt-secret", "changeme", "HS256 JWT signing secret")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "CORS allowed origins")
	serveCmd.Flags().Int64("max-body-bytes", 1<<20, "maximum request body size")
	serveCmd.Flags().Int("user-rate-limit", 120, "requests per user per window on submission and assignment; 0 disables")
	serveCmd.Flags().Duration("user-rate-window", time.Minute, "per-user rate limit window")
	serveCmd.Flags().Float64("ip-rate-limit", 20, "requests per second per client IP; 0 disables")
	serveCmd.Flags().Int("ip-rate-burst", 40, "per-IP burst size")
	serveCmd.Flags().Float64("routing-high-confidence", 0.9, "confidence at or above which tasks are auto-accepted")
	serveCmd.Flags().Float64("routing-low-confidence", 0.5, "confidence below which tasks are escalated")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Float64("otel-sample-ratio", 1.0, "fraction of root traces sampled")

	cliconfig.BindFlags(viper.GetViper(), serveCmd.Flags(),
		"http-port", "grpc-port", "metrics-addr", "redis-addr",
		"jwt-secret", "allowed-origins", "max-body-bytes", "user-rate-limit",
		"user-rate-window", "ip-rate-limit", "ip-rate-burst", "routing-high-confidence",
		"routing-low-confidence", "otel-endpoint", "otel-sample-ratio",
	)
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := cliconfig.NewLogger(os.Stdout, cfg.LogLevel, "api-gateway")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName: "api-gateway",
		Version:     version.Version,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	pool, err := postgres.Connect(context.Background(), cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	svc, err := service.New(store, quality.NewScorer(store, logger),
		service.WithThresholds(cfg.Routing),
		service.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}

	var userLimit func(http.Handler) http.Handler
	if cfg.RedisAddr != "" && cfg.UserRateLimit > 0 {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		userLimit = middleware.UserRateLimit(
			redisstore.NewRateLimiter(redisClient, cfg.UserRateLimit, cfg.UserRateWindow), logger)
	}

	ready := telemetry.ReadyFunc(store.Ping)
	restHandler := handler.NewREST(svc, ready, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if cfg.IPRateLimit > 0 {
		ipLimiter := middleware.NewIPRateLimiter(cfg.IPRateLimit, cfg.IPRateBurst)
		go sweepVisitors(runCtx, ipLimiter)
		r.Use(ipLimiter.Middleware)
	}
	r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))

	r.Get("/healthz", restHandler.Healthz)
	r.Get("/readyz", restHandler.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.JWTSecret))
		r.Post("/quality", restHandler.ComputeQuality)
		r.Post("/tasks/{id}/route", restHandler.RouteTask)
		r.Group(func(r chi.Router) {
			if userLimit != nil {
				r.Use(userLimit)
			}
			r.Post("/annotations", restHandler.SubmitAnnotation)
			r.Post("/assignments", restHandler.AssignTask)
			r.Post("/agent-traces", restHandler.IngestAgentTrace)
		})
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── gRPC server ───────────────────────────────────────────────────────────
	grpcSrv := grpc.NewServer()
	health := handler.NewHealth(ready, 5*time.Second, logger)
	health.Register(grpcSrv)
	go health.Run(runCtx)

	grpcLis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	// ── signal handling ───────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	// ── Prometheus metrics ────────────────────────────────────────────────────
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, ready)

	go func() {
		logger.Info("api-gateway HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	go func() {
		logger.Info("api-gateway gRPC starting", slog.String("addr", grpcLis.Addr().String()))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()

	grpcSrv.GracefulStop()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}

func sweepVisitors(ctx context.Context, l *middleware.IPRateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

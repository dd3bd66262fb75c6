package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/triage-ai/palisade/services/plan_guard/internal/auth"
	"github.com/triage-ai/palisade/services/plan_guard/internal/config"
	"github.com/triage-ai/palisade/services/plan_guard/internal/dispatcher"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
	"github.com/triage-ai/palisade/services/plan_guard/internal/rules"
	"github.com/triage-ai/palisade/services/plan_guard/internal/server"
	"github.com/triage-ai/palisade/services/plan_guard/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

const healthService = "triage.plan_guard.v1.PlanGuardService"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ruleCfg, err := rules.Load(cfg.RulesFile)
	if err != nil {
		logger.Fatal("failed to load rules", zap.String("path", cfg.RulesFile), zap.Error(err))
	}

	throttleLimit, throttleBurst, err := server.ParseRateLimit(cfg.Throttle)
	if err != nil {
		logger.Fatal("invalid PLAN_GUARD_THROTTLE", zap.Error(err))
	}

	logger.Info("starting plan guard server",
		zap.String("port", cfg.Port),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("dispatcher", cfg.DispatcherURL),
		zap.Int("max_tool_calls_per_plan", ruleCfg.MaxToolCallsPerPlan),
		zap.String("throttle", cfg.Throttle),
	)

	// Dispatcher; the tool list is cached, calls are not
	httpDispatcher, err := dispatcher.NewHTTP(cfg.DispatcherURL,
		dispatcher.WithToken(cfg.DispatcherToken),
		dispatcher.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("invalid dispatcher", zap.Error(err))
	}
	toolDispatcher := dispatcher.NewCached(httpDispatcher, cfg.ToolListTTL, logger)

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		logger.Info("postgres connected")
	}

	authenticator := buildAuthenticator(cfg, db, logger)

	// Tool registry: Postgres, a tools file, or none (no argument schemas)
	var toolRegistry registry.ToolRegistry
	switch {
	case db != nil:
		toolRegistry = registry.NewPostgresToolRegistry(registry.PostgresToolRegistryConfig{
			DB:       db,
			CacheTTL: cfg.ToolCacheTTL,
			Logger:   logger,
		})
		logger.Info("postgres tool registry enabled")
	case cfg.ToolsFile != "":
		fileRegistry, err := registry.LoadFile(cfg.ToolsFile)
		if err != nil {
			logger.Fatal("failed to load tools file", zap.String("path", cfg.ToolsFile), zap.Error(err))
		}
		toolRegistry = fileRegistry
		logger.Info("file tool registry loaded", zap.Int("tools", len(fileRegistry)))
	default:
		logger.Info("no tool registry configured, argument schemas disabled")
	}

	planGuard := server.NewPlanGuardServer(server.Config{
		Rules:       ruleCfg,
		Throttle:    server.NewThrottle(throttleLimit, throttleBurst),
		MaxSteps:    cfg.MaxSteps,
		RunTimeout:  cfg.RunTimeout,
		CORSOrigins: cfg.CORSOrigins,
	}, authenticator, toolRegistry, toolDispatcher, writer, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           planGuard.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC server carries only health and reflection
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	// Register health service for ECS health checks
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	// Enable reflection for debugging with grpcurl
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		grpcServer.GracefulStop()
	}()

	logger.Info("plan guard server listening",
		zap.String("http_addr", httpServer.Addr),
		zap.String("grpc_addr", lis.Addr().String()),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

// buildAuthenticator chains every configured authenticator. With nothing
// configured it falls back to the static dev authenticator.
func buildAuthenticator(cfg *config.Config, db *sql.DB, logger *zap.Logger) auth.Authenticator {
	var chain auth.Chain
	if db != nil {
		chain = append(chain, auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: cfg.AuthCacheTTL,
			FailOpen: cfg.AuthFailOpen,
			Logger:   logger,
		}))
		logger.Info("postgres authenticator enabled", zap.Bool("fail_open", cfg.AuthFailOpen))
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, auth.NewJWTAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience))
		logger.Info("jwt authenticator enabled")
	}
	if cfg.StaticKeys != "" || len(chain) == 0 {
		keys, err := auth.ParseStaticKeys(cfg.StaticKeys)
		if err != nil {
			logger.Fatal("invalid PLAN_GUARD_STATIC_KEYS", zap.Error(err))
		}
		chain = append(chain, auth.NewStaticAuthenticator(keys))
		if len(keys) == 0 {
			logger.Warn("using static dev authenticator, any tsk_ key is accepted")
		} else {
			logger.Info("static authenticator enabled", zap.Int("keys", len(keys)))
		}
	}
	return chain
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

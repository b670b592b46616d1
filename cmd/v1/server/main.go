// Server entrypoint: wires config, logging, tracing, the shared cache, the
// session store, rooms, the game scheduler and the WebSocket gateway, then
// serves until interrupted.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confessbox/confessbox/internal/v1/auth"
	"github.com/confessbox/confessbox/internal/v1/cache"
	"github.com/confessbox/confessbox/internal/v1/config"
	"github.com/confessbox/confessbox/internal/v1/game"
	"github.com/confessbox/confessbox/internal/v1/health"
	"github.com/confessbox/confessbox/internal/v1/logging"
	"github.com/confessbox/confessbox/internal/v1/middleware"
	"github.com/confessbox/confessbox/internal/v1/ratelimit"
	"github.com/confessbox/confessbox/internal/v1/room"
	"github.com/confessbox/confessbox/internal/v1/session"
	"github.com/confessbox/confessbox/internal/v1/tracing"
	"github.com/confessbox/confessbox/internal/v1/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is a development convenience; absence is not an error
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "confessbox", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "Tracing disabled, collector unreachable", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var cacheService *cache.Service
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		cacheService, err = cache.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Warn(ctx, "Redis unavailable, running single-instance in-memory", zap.Error(err))
			cacheService = nil
		} else {
			redisClient = cacheService.Client()
		}
	}
	defer cacheService.Close()

	signer, err := auth.NewSigner(cfg.TokenSecret)
	if err != nil {
		logging.Fatal(ctx, "Invalid token secret", zap.Error(err))
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "Failed to build rate limiter", zap.Error(err))
	}

	sessions := session.NewStore(signer)
	defer sessions.Close()

	rooms := room.NewManager(cacheService)
	sched := game.NewScheduler(cacheService)
	launcher := game.NewLauncher(sched, cacheService)
	gateway := transport.NewGateway(sessions, rooms, sched, launcher, limiter, cacheService)
	rest := transport.NewREST(rooms, sessions, cacheService)
	checker := health.NewChecker(cacheService)

	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("confessbox"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderXCorrelationID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/ws", gateway.HandleWS)
	router.GET("/healthz", checker.Live)
	router.GET("/readyz", checker.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	rest.Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "Server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal(ctx, "Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	gateway.Shutdown()
	sched.Shutdown(shutdownCtx)
	rooms.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "HTTP shutdown failed", zap.Error(err))
	}

	logging.Info(context.Background(), "Shutdown complete")
}

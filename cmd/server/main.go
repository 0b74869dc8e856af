package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"support_chat/internal/config"
	"support_chat/internal/handler"
	"support_chat/internal/middleware"
	"support_chat/internal/relay"
	"support_chat/internal/repository"
	"support_chat/internal/service"
	"support_chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Invalid database DSN", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	if err := repository.Migrate(context.Background(), dbPool); err != nil {
		appLogger.Fatal("Failed to apply schema", "error", err)
	}
	appLogger.Info("Database connection established")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	repos := repository.NewRepositories(dbPool, rdb, appLogger)

	// OPERATOR_ID не должен принадлежать обычному пользователю
	if err := service.VerifyOperatorID(context.Background(), repos.User, cfg.Relay.OperatorID); err != nil {
		appLogger.Fatal("Invalid operator id", "operator_id", cfg.Relay.OperatorID, "error", err)
	}

	// Реестр соединений пуст после рестарта, присутствие тоже
	if err := repos.Presence.Reset(context.Background()); err != nil {
		appLogger.Warn("Failed to reset presence", "error", err)
	}

	services := service.NewServices(repos, cfg, appLogger)

	chatRelay := relay.New(
		relay.Config{
			OperatorID:       cfg.Relay.OperatorID,
			StoreTimeout:     cfg.Relay.StoreTimeout,
			MaxContentLength: cfg.Relay.MaxContentLength,
		},
		relay.NewRegistry(),
		repos.Message,
		services.Identity,
		repos.Presence,
		appLogger.With("component", "relay"),
	)

	authMiddleware := middleware.NewAuthMiddleware(services.Identity, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, cfg.RateLimit.PerMinute, appLogger)

	handlers := handler.NewHandlers(services, chatRelay, cfg, appLogger)

	router := setupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// WriteTimeout не применяется к WebSocket: соединение перехватывается
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "operator_id", cfg.Relay.OperatorID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func setupRouter(
	handlers *handler.Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSOrigin))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", handlers.Health.Check)

	v1 := router.Group("/api/v1")
	v1.Use(rateLimitMiddleware.Limit(), authMiddleware.RequireAuth())
	{
		v1.GET("/messages", handlers.Message.History)
		v1.POST("/messages", handlers.Message.Send)

		admin := v1.Group("/admin")
		{
			admin.GET("/threads", handlers.Message.Threads)
			admin.GET("/online", handlers.Message.Online)
		}
	}

	// WebSocket endpoint для чата
	router.GET("/ws/chat", handlers.WebSocket.HandleChat)

	return router
}

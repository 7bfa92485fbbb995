package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatbot/docs"
	"chatbot/internal/auth"
	"chatbot/internal/cache"
	"chatbot/internal/config"
	"chatbot/internal/db"
	"chatbot/internal/gemini"
	"chatbot/internal/handler"
	"chatbot/internal/logger"
	"chatbot/internal/metrics"
	"chatbot/internal/model"
	"chatbot/internal/ratelimit"
	"chatbot/internal/repository"
	"chatbot/internal/router"
	"chatbot/internal/service"
)

const shutdownTimeout = 10 * time.Second

// @title Chatbot API
// @version 1.0
// @description Emotional support chatbot API with JWT authentication.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger settings come from config, so this one goes to a bootstrap logger.
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	log := logger.New(cfg.Environment, cfg.LogLevel, "chatbot")
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if os.Getenv("RESET_DB") == "true" {
		log.Warn("RESET_DB=true detected, dropping all tables")
		for _, table := range []interface{}{&model.Interaction{}, &model.User{}} {
			if err := gormDB.Migrator().DropTable(table); err != nil {
				log.Warn("drop table failed", zap.Error(err))
			}
		}
	}
	if err := db.Migrate(gormDB); err != nil {
		return err
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer cacheClient.Close()
	if err := cacheClient.Ping(context.Background()); err != nil {
		log.Warn("redis unavailable, caching and rate limiting disabled until it recovers", zap.Error(err))
	}

	jwtService, err := auth.NewJWTService(cfg.JWTSecret)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	upstream := gemini.NewClient(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiAPIKey, &http.Client{})

	// Initialize repositories
	userRepo := repository.NewUserRepository(gormDB)
	interactionRepo := repository.NewInteractionRepository(gormDB)

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtService, cfg.TokenLifetime, cacheClient)
	chatService := service.NewChatService(interactionRepo, upstream, cacheClient, m, log, service.ChatConfig{
		HistoryLimit:    cfg.HistoryLimit,
		UpstreamTimeout: cfg.UpstreamTimeout,
	})

	if cfg.SwaggerHost != "" {
		docs.SwaggerInfo.Host = strings.TrimPrefix(strings.TrimPrefix(cfg.SwaggerHost, "https://"), "http://")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	router.Register(e, router.Deps{
		Config:        cfg,
		Log:           log,
		Verifier:      jwtService,
		Limiter:       ratelimit.New(cacheClient, cfg.RateLimitPerMinute, time.Minute),
		Gatherer:      prometheus.DefaultGatherer,
		AuthHandler:   handler.NewAuthHandler(authService),
		ChatHandler:   handler.NewChatHandler(chatService, authService, log),
		HealthHandler: handler.NewHealthHandler(sqlDB),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.ServerPort
		log.Info("listening", zap.String("addr", addr), zap.String("swagger", swaggerURL(cfg)))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func swaggerURL(cfg *config.Config) string {
	host := cfg.SwaggerHost
	if host == "" {
		host = "localhost:" + cfg.ServerPort
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return host + "/swagger/index.html"
}

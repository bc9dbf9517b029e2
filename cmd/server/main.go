package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/yourorg/coinwatch/internal/alerting"
	"github.com/yourorg/coinwatch/internal/auth"
	"github.com/yourorg/coinwatch/internal/favorites"
	"github.com/yourorg/coinwatch/internal/gateway"
	"github.com/yourorg/coinwatch/internal/ledger"
	"github.com/yourorg/coinwatch/internal/marketdata"
	"github.com/yourorg/coinwatch/internal/portfolio"
	"github.com/yourorg/coinwatch/internal/pricing"
	pgRepo "github.com/yourorg/coinwatch/internal/repository/postgres"
	redisRepo "github.com/yourorg/coinwatch/internal/repository/redis"
	"github.com/yourorg/coinwatch/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	dbURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	coingeckoURL := os.Getenv("COINGECKO_URL")
	currency := os.Getenv("VS_CURRENCY")
	if currency == "" {
		currency = "usd"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	pollInterval := durationEnv("POLL_INTERVAL", scheduler.DefaultInterval)
	priceTTL := durationEnv("PRICE_TTL", pricing.DefaultTTL)

	db, err := pgRepo.Connect(dbURL)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	if err := pgRepo.RunMigrations(dbURL, "migrations"); err != nil {
		logger.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	redisClient, err := redisRepo.Connect(redisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	alertRepo := pgRepo.NewAlertRepo(db)
	ledgerRepo := pgRepo.NewLedgerRepo(db)
	holdingRepo := pgRepo.NewHoldingRepo(db)
	favoriteRepo := pgRepo.NewFavoriteRepo(db)
	stream := redisRepo.NewStream(redisClient, priceTTL)

	cache := pricing.NewCache(priceTTL)
	client := marketdata.NewClient(coingeckoURL, logger)

	alertSvc := alerting.NewService(alertRepo, cache, stream, logger)
	ledgerSvc := ledger.NewService(ledgerRepo, logger)
	portfolioSvc := portfolio.NewService(holdingRepo, cache, currency)
	favoriteSvc := favorites.NewService(favoriteRepo, cache)

	sched := scheduler.New(alertRepo, holdingRepo, client, cache, alertSvc, stream, scheduler.Config{
		Interval: pollInterval,
		Currency: currency,
	}, logger)

	jwtSvc := auth.NewJWTService(jwtSecret)
	hub := gateway.NewHub(stream, logger)

	handlers := gateway.NewHandlers(alertSvc, ledgerSvc, portfolioSvc, client, favoriteSvc, currency, logger)
	router := gateway.NewRouter(handlers, hub, jwtSvc, webhookSecret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go sched.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	logger.Info("server stopped")
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

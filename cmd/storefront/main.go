// Package main запускает локальный HTTP-сервер витрины.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront/internal/api"
	"github.com/mmeshcher/storefront/internal/config"
	"github.com/mmeshcher/storefront/internal/handler"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/service"
	"github.com/mmeshcher/storefront/internal/store"
)

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StorageBackend() {
	case "postgres":
		pg, err := store.NewPostgresStore(cfg.DatabaseURI, cfg.Profile)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return store.NewRedisStore(client, cfg.Profile), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "backend", cfg.StorageBackend(), "error", err.Error())
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.APITimeout)
	svc := service.NewService(client, st, service.Options{
		DeliveryFee:    cfg.Fee(),
		Currency:       cfg.Currency,
		SearchDebounce: cfg.SearchDebounce,
	}, logger)
	defer svc.Close()

	// Недоступный API не мешает запуску: каталог догрузится при первом запросе.
	if err := svc.Bootstrap(ctx); err != nil {
		sugar.Warnw("bootstrap error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(svc)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting storefront server",
			"addr", cfg.RunAddress,
			"api", cfg.APIBaseURL,
			"storage", cfg.StorageBackend(),
			"profile", cfg.Profile,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

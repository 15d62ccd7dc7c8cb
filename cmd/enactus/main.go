// Package main запускает HTTP-сервер аукциона проектов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aryan10022006/enactus/internal/config"
	"github.com/Aryan10022006/enactus/internal/handler"
	"github.com/Aryan10022006/enactus/internal/middleware"
	"github.com/Aryan10022006/enactus/internal/pubsub"
	"github.com/Aryan10022006/enactus/internal/repository"
	"github.com/Aryan10022006/enactus/internal/service"
)

func main() {
	// .env не обязателен: при его отсутствии конфигурация берётся из
	// окружения и флагов.
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Infow("no database URI configured, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	svc := service.NewService(repo, pubsub.NewBroker(), service.Options{
		TotalBudget:        cfg.TotalBudget,
		TeamShare:          cfg.TeamShare,
		RegistrationWindow: cfg.RegistrationWindow,
		TeamCode:           cfg.TeamCode,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.SecretKey)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AdminPassword)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового закрытия истёкшего окна регистрации
	g.Go(func() error {
		svc.StartRegistrationWatcher(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting auction server", "addr", cfg.RunAddress)
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

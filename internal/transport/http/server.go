package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialite/internal/config"
	"socialite/internal/database"
	"socialite/internal/handler"
	"socialite/internal/logging"
	"socialite/internal/queue"
	appredis "socialite/internal/redis"
	"socialite/internal/repository"
	"socialite/internal/service"
	"socialite/internal/worker"
)

// Run wires the application together and serves until SIGINT/SIGTERM.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Env)

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ctx := context.Background()

	redisClient, err := appredis.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		return err
	}

	mediaService, err := service.NewMediaService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init media service: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	publisher := queue.NewPublisher(redisClient.Client, logger)
	identityService := service.NewIdentityService(userRepo, mediaService, publisher, logger, cfg.BcryptCost)
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenMaxAge)

	consumer := queue.NewConsumer(redisClient.Client, logger)
	reconciler := worker.NewReconciler(consumer, userRepo, mediaService, logger)
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	defer reconciler.Stop()

	router := NewRouter(RouterConfig{
		AuthHandler: handler.NewAuthHandler(identityService, authService),
		UserHandler: handler.NewUserHandler(identityService),
		Verifier:    authService,
		UserLoader:  identityService,
	})

	srv := &stdhttp.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.ServerPort).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			logger.WithError(err).Fatal("listen failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

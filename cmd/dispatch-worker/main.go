// README: Standalone timeout worker for deployments that run it apart from the API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"dispatch/internal/config"
	"dispatch/internal/infra"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/shipment"
	"dispatch/internal/modules/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		logger.Fatal("DISPATCH_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Fatal("firebase init", zap.Error(err))
	}

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("database init", zap.Error(err))
	}
	defer pool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer func() { _ = redisClient.Close() }()

	users := user.NewStore(pool)
	tokens := notify.NewTokenCache(redisClient)
	notifier := notify.NewService(fb.Messaging, logger)
	fanout := notify.NewFanout(notifier, tokens, logger)

	worker := shipment.NewWorker(pool, redisClient, users, fanout, cfg.Dispatch, logger)

	go notifier.Run(ctx)
	worker.Run(ctx)
}

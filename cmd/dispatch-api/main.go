// README: API entry point; wires services, HTTP server, notifier and timeout worker.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/round"
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
	masters := master.NewStore(pool)
	carriers := carrier.NewStore(pool)

	tokens := notify.NewTokenCache(redisClient)
	notifier := notify.NewService(fb.Messaging, logger)
	fanout := notify.NewFanout(notifier, tokens, logger)

	shipments := shipment.NewService(pool, users, masters, fanout, logger)
	rounds := round.NewService(pool, users, fanout, cfg.Dispatch, logger)
	worker := shipment.NewWorker(pool, redisClient, users, fanout, cfg.Dispatch, logger)

	router := httptransport.NewRouter(httptransport.ServerDeps{
		Shipments: shipments,
		Rounds:    rounds,
		Users:     users,
		Masters:   masters,
		Carriers:  carriers,
		Tokens:    tokens,
		Verifier:  fb,
		Logger:    logger,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync/internal/alerts"
	"fieldsync/internal/util"
	"fieldsync/pkg/push"
	"fieldsync/pkg/queue"
	"fieldsync/pkg/store"
	"fieldsync/services/pusher/internal/app"
	"fieldsync/services/pusher/internal/config"
	"fieldsync/services/pusher/internal/server"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "pusher")

	if err := run(cfg, logger); err != nil {
		logger.Error("pusher stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.FileConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	retryDelay, _ := config.ParseDuration("retryDelay", cfg.RetryDelay)
	pushTTL, _ := config.ParseDuration("pushTTL", cfg.PushTTL)

	q, err := queue.NewPushQueue(rdb, queue.Config{
		Stream:     cfg.PushStream,
		Group:      cfg.PushGroup,
		Consumer:   util.NewID(),
		MaxRetries: cfg.MaxRetries,
		RetryDelay: retryDelay,
	})
	if err != nil {
		return fmt.Errorf("init push queue: %w", err)
	}
	sender, err := push.NewSender(push.Config{
		Keys:       push.Keys{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey},
		Subscriber: cfg.VAPIDSubscriber,
		TTL:        pushTTL,
	})
	if err != nil {
		return fmt.Errorf("init push sender: %w", err)
	}

	var reporter alerts.Reporter = alerts.LogReporter{Logger: logger}
	if cfg.SentryDSN != "" {
		sentryReporter, err := alerts.NewSentryReporter(cfg.SentryDSN, cfg.Environment, "")
		if err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentryReporter.Flush(2 * time.Second)
		reporter = sentryReporter
	}

	appCore, err := app.New(app.Config{
		DB:                store.NewRedisDBWithClient(rdb, cfg.StorePrefix),
		Sender:            sender,
		Queue:             q,
		Alerts:            alerts.New(rdb, "fieldsync:alerts", reporter, logger),
		Logger:            logger,
		FanoutConcurrency: cfg.FanoutConcurrency,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	if err := appCore.Start(ctx, cfg.Concurrency); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.New(server.Config{App: appCore}).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("pusher listening", "addr", addr, "concurrency", cfg.Concurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

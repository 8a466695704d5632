package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync/internal/alerts"
	"fieldsync/internal/idtoken"
	"fieldsync/internal/util"
	"fieldsync/pkg/identity"
	"fieldsync/pkg/queue"
	"fieldsync/pkg/storage"
	"fieldsync/pkg/store"
	"fieldsync/services/shim/internal/app"
	"fieldsync/services/shim/internal/config"
	"fieldsync/services/shim/internal/server"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "shim")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}

	db := store.NewRedisDBWithClient(rdb, cfg.StorePrefix)

	accounts, err := identity.NewGormAccounts(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init accounts: %v", err)
	}
	revoker, err := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, "fieldsync:session:revoked", sessionTTL)
	if err != nil {
		log.Fatalf("failed to init token revoker: %v", err)
	}
	sessions, err := identity.NewSessions(identity.SessionOptions{Secret: cfg.SessionSecret, TTL: sessionTTL}, revoker)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}
	resets, err := identity.NewResetStore(rdb, identity.ResetOptions{})
	if err != nil {
		log.Fatalf("failed to init reset store: %v", err)
	}
	var mailer identity.Mailer = identity.LogMailer{Logger: logger}
	if cfg.SMTPHost != "" {
		smtp, err := identity.NewSMTPMailer(identity.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			AppName:  cfg.AppName,
		})
		if err != nil {
			log.Fatalf("failed to init mailer: %v", err)
		}
		mailer = smtp
	}
	idCfg := identity.Config{
		Accounts: accounts,
		Sessions: sessions,
		Resets:   resets,
		Mailer:   mailer,
		Logger:   logger,
	}
	if len(cfg.GoogleClientIDs) > 0 {
		google, err := idtoken.NewVerifier(idtoken.Config{ClientIDs: cfg.GoogleClientIDs, JWKSURL: cfg.GoogleJWKSURL})
		if err != nil {
			log.Fatalf("failed to init google verifier: %v", err)
		}
		idCfg.Google = google
	}
	ident, err := identity.NewService(idCfg)
	if err != nil {
		log.Fatalf("failed to init identity: %v", err)
	}

	var blobs storage.BlobStore
	filesDir := ""
	switch cfg.StorageBackend {
	case "minio":
		blobs, err = storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.MinioPublicURL,
		})
	default:
		filesDir = cfg.LocalStoragePath
		blobs, err = storage.NewFileStore(cfg.LocalStoragePath, cfg.PublicBaseURL+"/files")
	}
	if err != nil {
		log.Fatalf("failed to init blob storage: %v", err)
	}

	pushQueue, err := queue.NewPushQueue(rdb, queue.Config{Stream: cfg.PushStream})
	if err != nil {
		log.Fatalf("failed to init push queue: %v", err)
	}

	var reporter alerts.Reporter = alerts.LogReporter{Logger: logger}
	if cfg.SentryDSN != "" {
		sentryReporter, err := alerts.NewSentryReporter(cfg.SentryDSN, cfg.Environment, "")
		if err != nil {
			log.Fatalf("failed to init sentry: %v", err)
		}
		defer sentryReporter.Flush(2 * time.Second)
		reporter = sentryReporter
	}
	alerter := alerts.New(rdb, "fieldsync:alerts", reporter, logger)

	appCore, err := app.New(app.Config{
		DB:       db,
		Identity: ident,
		Blobs:    blobs,
		Push:     pushQueue,
		Alerts:   alerter,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      rdb,
		Alerts:                     alerter,
		TrustedProxies:             trusted,
		CORSAllowedOrigins:         cfg.CORSAllowedOrigins,
		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		VAPIDPublicKey:             cfg.VAPIDPublicKey,
		FilesDir:                   filesDir,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

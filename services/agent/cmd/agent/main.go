package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fieldsync/internal/util"
	"fieldsync/pkg/badge"
	"fieldsync/pkg/geo"
	"fieldsync/pkg/shimclient"
	"fieldsync/services/agent/internal/app"
	"fieldsync/services/agent/internal/config"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	path := config.ConfigPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "agent")

	if err := run(cfg, logger); err != nil {
		logger.Error("agent stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.FileConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var kv badge.KV
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		kv = badge.NewRedisKV(rdb, cfg.StatePrefix)
	} else {
		fileKV, err := badge.NewFileKV(cfg.StateDir)
		if err != nil {
			return err
		}
		kv = fileKV
	}

	pollEvery, _ := config.ParseDuration("pollInterval", cfg.PollInterval)
	badgeEvery, _ := config.ParseDuration("badgeInterval", cfg.BadgeInterval)
	fixEvery, _ := config.ParseDuration("fixInterval", cfg.FixInterval)
	route := make([]geo.Fix, 0, len(cfg.Route))
	for _, p := range cfg.Route {
		route = append(route, geo.Fix{Lat: p.Lat, Lng: p.Lng, Accuracy: p.Accuracy})
	}

	agent, err := app.New(ctx, app.Config{
		Client:     shimclient.New(cfg.ShimURL),
		KV:         kv,
		Source:     geo.NewReplaySource(route, fixEvery),
		Geocoder:   geo.NewNominatim(cfg.NominatimURL, cfg.UserAgent),
		Secure:     cfg.Secure(),
		PollEvery:  pollEvery,
		BadgeEvery: badgeEvery,
		Out:        os.Stdout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	user, err := agent.SignIn(ctx, cfg.Email, cfg.Password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	fmt.Printf("signed in as %s (%s); type help for commands\n", user.Email, user.AccountType)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = agent.SignOut(context.Background())
			return nil
		case <-agent.Expired():
			return fmt.Errorf("session expired, sign in again")
		case line, ok := <-lines:
			if !ok {
				_ = agent.SignOut(context.Background())
				return nil
			}
			out, err := agent.Exec(ctx, line)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if out != "" {
				fmt.Println(out)
			}
			if line == "logout" {
				return nil
			}
		}
	}
}

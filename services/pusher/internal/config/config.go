package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	Environment   string `yaml:"environment"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	StorePrefix   string `yaml:"storePrefix"`

	PushStream        string `yaml:"pushStream"`
	PushGroup         string `yaml:"pushGroup"`
	Concurrency       int    `yaml:"concurrency"`
	FanoutConcurrency int    `yaml:"fanoutConcurrency"`
	MaxRetries        int    `yaml:"maxRetries"`
	RetryDelay        string `yaml:"retryDelay"`

	VAPIDPublicKey  string `yaml:"vapidPublicKey"`
	VAPIDPrivateKey string `yaml:"vapidPrivateKey"`
	VAPIDSubscriber string `yaml:"vapidSubscriber"`
	PushTTL         string `yaml:"pushTTL"`

	SentryDSN string `yaml:"sentryDSN"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PUSHER_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("PUSHER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.VAPIDPublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.VAPIDPrivateKey = v
	}
	if v := os.Getenv("VAPID_SUBSCRIBER"); v != "" {
		cfg.VAPIDSubscriber = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PUSHER_PORT)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required")
	}
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return errors.New("config: vapidPublicKey and vapidPrivateKey are required (set in config.yaml or VAPID_*)")
	}
	if cfg.VAPIDSubscriber == "" {
		return errors.New("config: vapidSubscriber is required")
	}
	if cfg.MaxRetries < 0 || cfg.FanoutConcurrency < 0 {
		return errors.New("config: maxRetries and fanoutConcurrency must be >= 0")
	}
	if _, err := ParseDuration("retryDelay", cfg.RetryDelay); err != nil {
		return err
	}
	if _, err := ParseDuration("pushTTL", cfg.PushTTL); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration setting; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	return dur, nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "agent.yaml"

// RoutePoint is one replayed position.
type RoutePoint struct {
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
	Accuracy float64 `yaml:"accuracy"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	ShimURL  string `yaml:"shimURL"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	LogLevel string `yaml:"logLevel"`

	// StateDir keeps badge state on disk unless RedisAddr is set.
	StateDir      string `yaml:"stateDir"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	StatePrefix   string `yaml:"statePrefix"`

	PollInterval  string `yaml:"pollInterval"`
	BadgeInterval string `yaml:"badgeInterval"`
	FixInterval   string `yaml:"fixInterval"`

	NominatimURL string       `yaml:"nominatimURL"`
	UserAgent    string       `yaml:"userAgent"`
	Route        []RoutePoint `yaml:"route"`
}

// Load reads config from path (defaults to agent.yaml).
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
	if v := os.Getenv("AGENT_SHIM_URL"); v != "" {
		cfg.ShimURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("AGENT_EMAIL"); v != "" {
		cfg.Email = strings.TrimSpace(v)
	}
	if v := os.Getenv("AGENT_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("AGENT_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if cfg.StateDir == "" && cfg.RedisAddr == "" {
		cfg.StateDir = ".fieldsync-agent"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if _, err := url.ParseRequestURI(cfg.ShimURL); err != nil {
		return errors.New("config: shimURL must be an absolute URL (set in agent.yaml or AGENT_SHIM_URL)")
	}
	if cfg.Email == "" || cfg.Password == "" {
		return errors.New("config: email and password are required (set in agent.yaml or AGENT_EMAIL/AGENT_PASSWORD)")
	}
	if len(cfg.Route) == 0 {
		return errors.New("config: route needs at least one point")
	}
	for i, p := range cfg.Route {
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return fmt.Errorf("config: route point %d is out of range", i)
		}
	}
	for name, v := range map[string]string{"pollInterval": cfg.PollInterval, "badgeInterval": cfg.BadgeInterval, "fixInterval": cfg.FixInterval} {
		if _, err := ParseDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Secure reports whether the shim is reached over https or on localhost,
// the only origins where location access may be granted.
func (c FileConfig) Secure() bool {
	u, err := url.Parse(c.ShimURL)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
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

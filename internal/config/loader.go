package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings of the booking service.
type Config struct {
	HTTPPort int `yaml:"http_port"`

	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`

	SweepInterval time.Duration   `yaml:"sweep_interval"`
	LoginRate     RateLimitConfig `yaml:"login_rate"`
	LogLevel      string          `yaml:"log_level"`
	// TrustProxy keys rate limits on X-Forwarded-For. Enable it only behind
	// a proxy that overwrites the header.
	TrustProxy bool `yaml:"trust_proxy"`

	Admin AdminConfig `yaml:"admin"`
}

// DatabaseConfig selects the storage back end.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SessionConfig bounds issued credentials.
type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	MaxDevices int           `yaml:"max_devices"`
}

// RateLimitConfig throttles login and refresh per client address.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// AdminConfig optionally seeds an administrator at startup.
type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when nothing overrides it. The
// session secret has no default.
func Default() Config {
	return Config{
		HTTPPort: 8080,
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "booking.db",
		},
		Session: SessionConfig{
			AccessTTL:  60 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			MaxDevices: 5,
		},
		SweepInterval: time.Minute,
		LoginRate:     RateLimitConfig{PerSecond: 1, Burst: 5},
		LogLevel:      "info",
	}
}

// Addr returns the listen address for HTTPPort.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// SlogLevel maps LogLevel onto slog. Unknown values were rejected by Load.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.LogLevel))
	return level
}

// Load builds the configuration from defaults, the optional YAML file at path
// and BOOKING_* environment variables, in that order.
//
// Missing required values and malformed values are reported together with
// localized messages, missing values first.
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("設定ファイルを読み込めません: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("設定ファイルの形式が不正です: %w", err)
		}
	}

	e := &envReader{}
	e.int("BOOKING_HTTP_PORT", &cfg.HTTPPort)
	e.string("BOOKING_DB_DRIVER", &cfg.Database.Driver)
	e.string("BOOKING_DB_DSN", &cfg.Database.DSN)
	e.string("BOOKING_SESSION_SECRET", &cfg.Session.Secret)
	e.duration("BOOKING_ACCESS_TTL", &cfg.Session.AccessTTL)
	e.duration("BOOKING_REFRESH_TTL", &cfg.Session.RefreshTTL)
	e.int("BOOKING_MAX_DEVICES", &cfg.Session.MaxDevices)
	e.duration("BOOKING_SWEEP_INTERVAL", &cfg.SweepInterval)
	e.float("BOOKING_LOGIN_RATE", &cfg.LoginRate.PerSecond)
	e.int("BOOKING_LOGIN_BURST", &cfg.LoginRate.Burst)
	e.string("BOOKING_LOG_LEVEL", &cfg.LogLevel)
	e.bool("BOOKING_TRUST_PROXY", &cfg.TrustProxy)
	e.string("BOOKING_ADMIN_EMAIL", &cfg.Admin.Email)
	e.string("BOOKING_ADMIN_PASSWORD", &cfg.Admin.Password)

	missing := make([]string, 0, 1)
	invalid := e.invalid

	if strings.TrimSpace(cfg.Session.Secret) == "" {
		missing = append(missing, "BOOKING_SESSION_SECRET")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		invalid = appendOnce(invalid, "BOOKING_HTTP_PORT")
	}
	switch strings.ToLower(cfg.Database.Driver) {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			missing = append(missing, "BOOKING_DB_DSN")
		}
	default:
		invalid = appendOnce(invalid, "BOOKING_DB_DRIVER")
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if cfg.Session.AccessTTL <= 0 {
		invalid = appendOnce(invalid, "BOOKING_ACCESS_TTL")
	}
	if cfg.Session.RefreshTTL < cfg.Session.AccessTTL {
		invalid = appendOnce(invalid, "BOOKING_REFRESH_TTL")
	}
	if cfg.Session.MaxDevices <= 0 {
		invalid = appendOnce(invalid, "BOOKING_MAX_DEVICES")
	}
	if cfg.SweepInterval <= 0 {
		invalid = appendOnce(invalid, "BOOKING_SWEEP_INTERVAL")
	}
	if cfg.LoginRate.PerSecond <= 0 {
		invalid = appendOnce(invalid, "BOOKING_LOGIN_RATE")
	}
	if cfg.LoginRate.Burst <= 0 {
		invalid = appendOnce(invalid, "BOOKING_LOGIN_BURST")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		invalid = appendOnce(invalid, "BOOKING_LOG_LEVEL")
	}
	if (cfg.Admin.Email == "") != (cfg.Admin.Password == "") {
		missing = append(missing, "BOOKING_ADMIN_EMAIL/BOOKING_ADMIN_PASSWORD")
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", ")))
	}
	if len(invalid) > 0 {
		errs = append(errs, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", ")))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// envReader applies environment overrides and remembers the keys whose
// values could not be parsed.
type envReader struct {
	invalid []string
}

func (e *envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (e *envReader) string(key string, dst *string) {
	if value, ok := e.lookup(key); ok {
		*dst = value
	}
}

func (e *envReader) int(key string, dst *int) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.invalid = appendOnce(e.invalid, key)
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.invalid = appendOnce(e.invalid, key)
		return
	}
	*dst = f
}

func (e *envReader) bool(key string, dst *bool) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.invalid = appendOnce(e.invalid, key)
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.invalid = appendOnce(e.invalid, key)
		return
	}
	*dst = d
}

func appendOnce(list []string, key string) []string {
	for _, existing := range list {
		if existing == key {
			return list
		}
	}
	return append(list, key)
}

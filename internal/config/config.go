package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Config holds all configuration for medtrack
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Security SecurityConfig `mapstructure:"security"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Buckets  []BucketConfig `mapstructure:"buckets"`
	Cron     CronConfig     `mapstructure:"cron"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address        string  `mapstructure:"address"`
	Port           int     `mapstructure:"port"`
	ReadTimeout    int     `mapstructure:"read_timeout"`
	WriteTimeout   int     `mapstructure:"write_timeout"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	DataDir     string `mapstructure:"data_dir"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	BadgerPath  string `mapstructure:"badger_path"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	AdminPassword string   `mapstructure:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
	TokenTTLHours int      `mapstructure:"token_ttl_hours"`
}

// ScheduleConfig holds the thresholds used when deriving dose status,
// urgency and adherence.
type ScheduleConfig struct {
	Timezone               string `mapstructure:"timezone"`
	MissedGraceMinutes     int    `mapstructure:"missed_grace_minutes"`
	OnTimeToleranceMinutes int    `mapstructure:"on_time_tolerance_minutes"`
	RollingWindowDays      int    `mapstructure:"rolling_window_days"`
	UrgencyNowMinutes      int    `mapstructure:"urgency_now_minutes"`
	UrgencySoonMinutes     int    `mapstructure:"urgency_soon_minutes"`
	MaxSnoozeMinutes       int    `mapstructure:"max_snooze_minutes"`
}

// BucketConfig is one default time-of-day bucket
type BucketConfig struct {
	Name  string `mapstructure:"name" yaml:"name" json:"name"`
	Label string `mapstructure:"label" yaml:"label" json:"label"`
	Time  string `mapstructure:"time" yaml:"time" json:"time"`
}

// CronConfig holds the background sweep settings
type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Spec            string `mapstructure:"spec"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
	BreakerFailures uint32 `mapstructure:"breaker_failures"`
	BreakerTimeout  int    `mapstructure:"breaker_timeout"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	cfg, _, err := load(configPath, dataDir)
	return cfg, err
}

// LoadAndWatch loads configuration and, when a config file is present,
// re-reads it on every change. onChange receives either the new config or
// the error that rejected it; the previous config stays in effect on error.
func LoadAndWatch(configPath, dataDir string, onChange func(*Config, error)) (*Config, error) {
	cfg, v, err := load(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			onChange(nil, fmt.Errorf("failed to unmarshal config: %w", err))
			return
		}
		loadEnvOverrides(&next)
		next.Security.JWTSecret = cfg.Security.JWTSecret
		if err := validate(&next); err != nil {
			onChange(nil, err)
			return
		}
		onChange(&next, nil)
	})
	v.WatchConfig()

	return cfg, nil
}

func load(configPath, dataDir string) (*Config, *viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "medtrack.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "medtrack.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// MEDTRACK_SERVER_PORT, MEDTRACK_SCHEDULE_MISSED_GRACE_MINUTES, ...
	v.SetEnvPrefix("MEDTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, nil, err
	}

	return &cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.rate_limit_rps", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)

	v.SetDefault("storage.driver", "sqlite")

	v.SetDefault("security.allow_origins", []string{"*"})
	v.SetDefault("security.token_ttl_hours", 24)

	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.missed_grace_minutes", 60)
	v.SetDefault("schedule.on_time_tolerance_minutes", 30)
	v.SetDefault("schedule.rolling_window_days", 14)
	v.SetDefault("schedule.urgency_now_minutes", 15)
	v.SetDefault("schedule.urgency_soon_minutes", 120)
	v.SetDefault("schedule.max_snooze_minutes", 240)

	v.SetDefault("buckets", []map[string]any{
		{"name": "morning", "label": "Morning", "time": "08:00"},
		{"name": "noon", "label": "Lunch", "time": "12:00"},
		{"name": "evening", "label": "Evening", "time": "18:00"},
		{"name": "bedtime", "label": "Before bed", "time": "22:00"},
	})

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.spec", "@every 1h")
	v.SetDefault("cron.max_concurrent", 3)
	v.SetDefault("cron.breaker_failures", 5)
	v.SetDefault("cron.breaker_timeout", 60)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// DefaultDataDir is $XDG_DATA_HOME/medtrack or ~/.local/share/medtrack
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "medtrack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "medtrack")
}

// loadEnvOverrides applies the short alias variables (DATABASE_URL, JWT_SECRET, ...)
func loadEnvOverrides(cfg *Config) {
	if dsn := ResolveEnvWithAliases("MEDTRACK_STORAGE_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
		if os.Getenv("MEDTRACK_STORAGE_DRIVER") == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if secret := ResolveEnvWithAliases("MEDTRACK_SECURITY_JWT_SECRET"); secret != "" {
		cfg.Security.JWTSecret = secret
	}
	if pw := ResolveEnvWithAliases("MEDTRACK_SECURITY_ADMIN_PASSWORD"); pw != "" {
		cfg.Security.AdminPassword = pw
	}
	if tz := ResolveEnvWithAliases("MEDTRACK_SCHEDULE_TIMEZONE"); tz != "" {
		cfg.Schedule.Timezone = tz
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv("MEDTRACK_SERVER_PORT") == "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func validate(cfg *Config) error {
	invalid := func(format string, args ...any) error {
		return apperrors.Wrap(fmt.Errorf(format, args...), apperrors.CodeConfigInvalid, "invalid configuration")
	}

	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return invalid("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return invalid("unknown storage.driver %q", cfg.Storage.Driver)
	}

	s := cfg.Schedule
	if _, err := loadLocation(s.Timezone); err != nil {
		return invalid("schedule.timezone: %v", err)
	}
	if s.MissedGraceMinutes < 0 || s.OnTimeToleranceMinutes < 0 || s.UrgencyNowMinutes < 0 || s.UrgencySoonMinutes < 0 {
		return invalid("schedule thresholds must not be negative")
	}
	if s.UrgencySoonMinutes < s.UrgencyNowMinutes {
		return invalid("schedule.urgency_soon_minutes must be >= urgency_now_minutes")
	}
	if s.RollingWindowDays <= 0 {
		return invalid("schedule.rolling_window_days must be positive")
	}
	if s.MaxSnoozeMinutes <= 0 {
		return invalid("schedule.max_snooze_minutes must be positive")
	}

	if len(cfg.Buckets) == 0 {
		return invalid("at least one bucket is required")
	}
	names := make(map[string]bool)
	times := make(map[string]bool)
	for _, b := range cfg.Buckets {
		if b.Name == "" {
			return invalid("bucket name is required")
		}
		if !clockPattern.MatchString(b.Time) {
			return invalid("bucket %s: time %q is not HH:MM", b.Name, b.Time)
		}
		if names[b.Name] || times[b.Time] {
			return invalid("bucket %s: duplicate name or time", b.Name)
		}
		names[b.Name] = true
		times[b.Time] = true
	}

	if cfg.Cron.Enabled {
		if _, err := cron.ParseStandard(cfg.Cron.Spec); err != nil {
			return invalid("cron.spec: %v", err)
		}
	}

	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateSecret(32)
	}
	if cfg.Security.TokenTTLHours <= 0 {
		cfg.Security.TokenTTLHours = 24
	}

	return nil
}

func generateSecret(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// ListenAddr returns the host:port the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files from the working directory and the user's
// config directories. Variables already set in the environment win.
func LoadEnvFiles() error {
	envPaths := []string{
		"./.env",
	}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".medtrack", ".env"),
			filepath.Join(home, ".config", "medtrack", ".env"),
		)
	}

	var existing []string
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	return godotenv.Load(existing...)
}

func GetEnvWithFallback(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

var envAliases = map[string][]string{
	"MEDTRACK_STORAGE_POSTGRES_DSN":    {"DATABASE_URL"},
	"MEDTRACK_SECURITY_JWT_SECRET":     {"JWT_SECRET"},
	"MEDTRACK_SECURITY_ADMIN_PASSWORD": {"ADMIN_PASSWORD"},
	"MEDTRACK_SCHEDULE_TIMEZONE":       {"TZ"},
}

func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}

	if aliases, ok := envAliases[canonicalKey]; ok {
		return GetEnvWithFallback(aliases...)
	}

	return ""
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Location returns the configured default timezone
func (c *Config) Location() *time.Location {
	loc, err := loadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

func clearAliasEnv(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "JWT_SECRET", "ADMIN_PASSWORD", "TZ", "PORT"} {
		if val, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, val) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAliasEnv(t)
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, "medtrack.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, 60, cfg.Schedule.MissedGraceMinutes)
	assert.Equal(t, 30, cfg.Schedule.OnTimeToleranceMinutes)
	assert.Equal(t, 14, cfg.Schedule.RollingWindowDays)
	require.Len(t, cfg.Buckets, 4)
	assert.Equal(t, BucketConfig{Name: "morning", Label: "Morning", Time: "08:00"}, cfg.Buckets[0])
	assert.Equal(t, "@every 1h", cfg.Cron.Spec)
	assert.Len(t, cfg.Security.JWTSecret, 64)
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearAliasEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "medtrack.yaml")
	yaml := `
schedule:
  missed_grace_minutes: 90
  timezone: Europe/Berlin
buckets:
  - name: early
    label: Early
    time: "06:30"
  - name: late
    label: Late
    time: "21:00"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("MEDTRACK_SERVER_PORT", "9191")

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 90, cfg.Schedule.MissedGraceMinutes)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	require.Len(t, cfg.Buckets, 2)
	assert.Equal(t, "06:30", cfg.Buckets[0].Time)
}

func TestLoad_Invalid(t *testing.T) {
	clearAliasEnv(t)
	tests := []struct {
		name string
		yaml string
	}{
		{"negative grace", "schedule:\n  missed_grace_minutes: -1\n"},
		{"zero window", "schedule:\n  rolling_window_days: 0\n"},
		{"bad bucket time", "buckets:\n  - name: a\n    time: \"25:00\"\n"},
		{"duplicate bucket", "buckets:\n  - name: a\n    time: \"08:00\"\n  - name: b\n    time: \"08:00\"\n"},
		{"unknown driver", "storage:\n  driver: mongo\n"},
		{"postgres without dsn", "storage:\n  driver: postgres\n"},
		{"bad cron", "cron:\n  spec: \"not a spec\"\n"},
		{"bad timezone", "schedule:\n  timezone: Mars/Olympus\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "medtrack.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := Load(path, dir)
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
		})
	}
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	clearAliasEnv(t)
	t.Setenv("DATABASE_URL", "postgres://medtrack@localhost/medtrack")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://medtrack@localhost/medtrack", cfg.Storage.PostgresDSN)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFiles_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	content := "# local overrides\nMEDTRACK_TEST_NEW=\"quoted value\"\nMEDTRACK_TEST_EXISTING=from_file\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0644))

	os.Unsetenv("MEDTRACK_TEST_NEW")
	t.Setenv("MEDTRACK_TEST_EXISTING", "original")
	defer os.Unsetenv("MEDTRACK_TEST_NEW")

	require.NoError(t, LoadEnvFiles())

	assert.Equal(t, "quoted value", os.Getenv("MEDTRACK_TEST_NEW"))
	assert.Equal(t, "original", os.Getenv("MEDTRACK_TEST_EXISTING"))
}

func TestGetEnvWithFallback(t *testing.T) {
	os.Unsetenv("FALLBACK_KEY1")
	os.Unsetenv("FALLBACK_KEY2")
	assert.Empty(t, GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"))

	t.Setenv("FALLBACK_KEY2", "value2")
	assert.Equal(t, "value2", GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"))

	t.Setenv("FALLBACK_KEY1", "value1")
	assert.Equal(t, "value1", GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"))
}

func TestGetEnvDefault(t *testing.T) {
	os.Unsetenv("DEFAULT_TEST_KEY")
	assert.Equal(t, "fallback", GetEnvDefault("DEFAULT_TEST_KEY", "fallback"))

	t.Setenv("DEFAULT_TEST_KEY", "set")
	assert.Equal(t, "set", GetEnvDefault("DEFAULT_TEST_KEY", "fallback"))
}

func TestResolveEnvWithAliases(t *testing.T) {
	os.Unsetenv("MEDTRACK_STORAGE_POSTGRES_DSN")
	t.Setenv("DATABASE_URL", "postgres://alias")
	assert.Equal(t, "postgres://alias", ResolveEnvWithAliases("MEDTRACK_STORAGE_POSTGRES_DSN"))

	t.Setenv("MEDTRACK_STORAGE_POSTGRES_DSN", "postgres://canonical")
	assert.Equal(t, "postgres://canonical", ResolveEnvWithAliases("MEDTRACK_STORAGE_POSTGRES_DSN"))

	assert.Empty(t, ResolveEnvWithAliases("MEDTRACK_UNKNOWN_KEY"))
}

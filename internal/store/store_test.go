package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/medtrack/internal/config"
)

type probe struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func TestOpenMemory_KV(t *testing.T) {
	st, err := OpenMemory()
	require.NoError(t, err)
	defer st.Close()

	val, err := st.GetKV("missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, st.SetKV("patient:p1:settings", []byte(`{"timezone":"UTC"}`)))
	require.NoError(t, st.SetKV("patient:p2:settings", []byte(`{}`)))
	require.NoError(t, st.SetKV("other", []byte("x")))

	val, err = st.GetKV("patient:p1:settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"timezone":"UTC"}`, string(val))

	all, err := st.ScanKV("patient:")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, "patient:p2:settings")

	require.NoError(t, st.DeleteKV("patient:p1:settings"))
	val, err = st.GetKV("patient:p1:settings")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestOpenMemory_Gorm(t *testing.T) {
	st, err := OpenMemory()
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.DB().AutoMigrate(&probe{}))
	require.NoError(t, st.DB().Create(&probe{ID: "a", Name: "alpha"}).Error)

	var got probe
	require.NoError(t, st.DB().First(&got, "id = ?", "a").Error)
	assert.Equal(t, "alpha", got.Name)
	assert.NoError(t, st.Ping())
	assert.Equal(t, "memory", st.Driver())
}

func TestNew_SQLiteOnDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{
		Driver:     "sqlite",
		DataDir:    dir,
		SQLitePath: filepath.Join(dir, "test.db"),
		BadgerPath: filepath.Join(dir, "badger"),
	}}

	st, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, st.DB().AutoMigrate(&probe{}))
	require.NoError(t, st.DB().Create(&probe{ID: "b", Name: "beta"}).Error)
	require.NoError(t, st.SetKV("k", []byte("v")))
	require.NoError(t, st.Close())

	st, err = New(cfg)
	require.NoError(t, err)
	defer st.Close()

	var got probe
	require.NoError(t, st.DB().First(&got, "id = ?", "b").Error)
	assert.Equal(t, "beta", got.Name)

	val, err := st.GetKV("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(val))
}

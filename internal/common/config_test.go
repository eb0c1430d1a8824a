package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, 300, cfg.OCR.DPI)
	assert.Equal(t, []string{"vision", "documentai", "tesseract", "textlayer", "raster"}, cfg.OCR.Engines)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OCR_WORKERS", "4")
	t.Setenv("OCR_JOB_TIMEOUT", "45s")
	t.Setenv("OCR_ENGINES", "tesseract, raster")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_URL", "postgres://localhost/tenders")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, 45*time.Second, cfg.Jobs.Timeout)
	assert.Equal(t, []string{"tesseract", "raster"}, cfg.OCR.Engines)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  workers: 3\nocr:\n  dpi: 200\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Jobs.Workers)
	assert.Equal(t, 200, cfg.OCR.DPI)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := LoadConfig("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := LoadConfig("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"dsn", func(c *Config) { c.Database.DSN = "" }},
		{"workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"timeout", func(c *Config) { c.Jobs.Timeout = 0 }},
		{"dpi", func(c *Config) { c.OCR.DPI = 10 }},
		{"engines", func(c *Config) { c.OCR.Engines = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

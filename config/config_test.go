package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("LIBRES_DSN", "postgres://localhost/libres")
	t.Setenv("LIBRES_TIMEZONE", "Europe/Zurich")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/libres", cfg.DSN)
	assert.Equal(t, "Europe/Zurich", cfg.Timezone)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LIBRES_DSN", "postgres://localhost/libres")
	t.Setenv("LIBRES_TIMEZONE", "")
	t.Setenv("ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("LIBRES_DSN", "")

	_, err := Load()
	assert.Error(t, err)
}

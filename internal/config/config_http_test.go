package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_HTTPDefaults(t *testing.T) {
	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.HTTP.Addr)
	assert.Equal(t, "/app/web", cfg.HTTP.UIStaticDir)
	assert.False(t, cfg.HTTP.UIEnabled)
}

func TestNewFromEnv_HTTPFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("UI_ENABLED", "true")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.UIEnabled)
}

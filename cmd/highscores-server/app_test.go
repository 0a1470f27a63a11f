package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"highscores/config"
)

func TestSetupStore(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	store, err := setupStore(ctx, cfg)
	require.NoError(t, err)
	assert.NoError(t, store.Ping(ctx))

	cfg.Storage.Adapter = "file"
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "scores.json")
	store, err = setupStore(ctx, cfg)
	require.NoError(t, err)
	assert.NoError(t, store.Ping(ctx))

	cfg.Storage.Adapter = "mongo"
	_, err = setupStore(ctx, cfg)
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("loud"))
}

func TestConvertAttributes(t *testing.T) {
	attrs := convertAttributes(map[string]string{"service": "highscores", "region": "eu"})
	require.Len(t, attrs, 2)
	assert.Equal(t, "region", attrs[0].Key)
	assert.Equal(t, "service", attrs[1].Key)
}

func TestBuildAppWiresComponents(t *testing.T) {
	t.Setenv("HIGHSCORES_STORAGE_ADAPTER", "memory")
	t.Setenv("HIGHSCORES_METRICS_ENABLED", "true")
	t.Setenv("HIGHSCORES_LOG_OUTPUT", "stderr")

	app, cleanup, err := BuildApp(context.Background())
	require.NoError(t, err)
	defer cleanup()
	defer app.Service.Close()

	assert.Equal(t, ":8080", app.Server.Addr)
	require.NotNil(t, app.MetricsServer.Server)
	assert.Equal(t, ":9090", app.MetricsServer.Server.Addr)
	assert.NoError(t, app.Service.Health(context.Background()))
}

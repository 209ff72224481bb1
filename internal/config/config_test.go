package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "database", cfg.Cache.Store)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 15*time.Second, cfg.Discovery.QueryTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Discovery.SnapshotTTL)
	assert.Equal(t, "llm-d.ai/inferenceServing=true", cfg.Discovery.PodSelector)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CACHE_STORE", "badger")
	t.Setenv("DISCOVERY_INTERVAL", "45s")
	t.Setenv("DISCOVERY_QUERY_TIMEOUT", "5s")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Cache.Store)
	assert.Equal(t, 45*time.Second, cfg.Discovery.Interval)
	assert.Equal(t, 5*time.Second, cfg.Discovery.QueryTimeout)
}

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextgendem/slicehub/internal/config"
)

func TestNewDebounceCache_DisabledHasNoClient(t *testing.T) {
	cfg := &config.Config{CacheEnabled: false}
	c := NewDebounceCache(cfg)

	assert.Nil(t, c.client)
	assert.NoError(t, c.Close())
}

func TestNewDebounceCache_EnabledBuildsClientWithoutDialing(t *testing.T) {
	cfg := &config.Config{
		CacheEnabled: true,
		RedisHost:    "localhost",
		RedisPort:    "6379",
	}
	c := NewDebounceCache(cfg)

	require.NotNil(t, c.client)
	assert.NoError(t, c.Close())
}

func TestAcquireReload_DisabledAlwaysAcquires(t *testing.T) {
	c := &DebounceCache{}

	acquired, err := c.AcquireReload(context.Background())

	require.NoError(t, err)
	assert.True(t, acquired)
}

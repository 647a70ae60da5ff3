package cache

import (
	"context"
	"testing"

	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	cfg := config.GetDefaultConfig()
	c := NewInMemoryCache(cfg, logger.NewNopLogger())

	key := GenerateKey(PrefixPlan, "plan_1")
	assert.Equal(t, "plan:v1:plan_1", key)

	c.Set(ctx, key, "pro", 0)
	v, ok := c.Get(ctx, key)
	assert.True(t, ok)
	assert.Equal(t, "pro", v)

	c.DeleteByPrefix(ctx, PrefixPlan)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	cfg := config.GetDefaultConfig()
	cfg.Cache.Enabled = false
	c := NewInMemoryCache(cfg, logger.NewNopLogger())

	c.Set(ctx, "k", 1, 0)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

package degrade

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestEnableDisable(t *testing.T) {
	client, _ := setupTestRedis(t)
	dm := NewDegradeManager(client, 0)
	ctx := context.Background()

	assert.False(t, dm.IsDegraded(ctx, "classifier"))

	err := dm.Enable(ctx, "classifier", Strategy{Mode: "fallback_only", Reason: "provider outage"}, 0)
	require.NoError(t, err)
	assert.True(t, dm.IsDegraded(ctx, "classifier"))
	assert.False(t, dm.IsDegraded(ctx, "delivery"))

	strategy, err := dm.GetStrategy(ctx, "classifier")
	require.NoError(t, err)
	require.NotNil(t, strategy)
	assert.Equal(t, "fallback_only", strategy.Mode)
	assert.False(t, strategy.SetAt.IsZero())
	assert.True(t, strategy.Expires.IsZero())

	require.NoError(t, dm.Disable(ctx, "classifier"))
	assert.False(t, dm.IsDegraded(ctx, "classifier"))

	strategy, err = dm.GetStrategy(ctx, "classifier")
	require.NoError(t, err)
	assert.Nil(t, strategy)
}

func TestTemporaryDegrade(t *testing.T) {
	client, mr := setupTestRedis(t)
	dm := NewDegradeManager(client, 0)
	ctx := context.Background()

	require.NoError(t, dm.Enable(ctx, "classifier", Strategy{Mode: "fallback_only"}, time.Minute))
	assert.True(t, dm.IsDegraded(ctx, "classifier"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, dm.IsDegraded(ctx, "classifier"))
}

func TestStatusCache(t *testing.T) {
	client, mr := setupTestRedis(t)
	dm := NewDegradeManager(client, time.Minute)
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dm.now = func() time.Time { return current }
	ctx := context.Background()

	assert.False(t, dm.IsDegraded(ctx, "classifier"))

	// Written behind the manager's back; cached value still served.
	require.NoError(t, mr.Set("degrade:status:classifier", "1"))
	assert.False(t, dm.IsDegraded(ctx, "classifier"))

	current = current.Add(2 * time.Minute)
	assert.True(t, dm.IsDegraded(ctx, "classifier"))

	// Disable through the manager invalidates immediately.
	require.NoError(t, dm.Disable(ctx, "classifier"))
	assert.False(t, dm.IsDegraded(ctx, "classifier"))
}

func TestStatus(t *testing.T) {
	client, _ := setupTestRedis(t)
	dm := NewDegradeManager(client, 0)
	ctx := context.Background()

	require.NoError(t, dm.Enable(ctx, "classifier", Strategy{Mode: "fallback_only"}, 0))
	require.NoError(t, dm.Enable(ctx, "delivery.email", Strategy{Mode: "skip"}, 0))

	status, err := dm.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status, 2)
	assert.Equal(t, "skip", status["delivery.email"].Mode)
}

func TestRedisDownReadsAsHealthy(t *testing.T) {
	client, mr := setupTestRedis(t)
	dm := NewDegradeManager(client, time.Minute)
	mr.Close()

	assert.False(t, dm.IsDegraded(context.Background(), "classifier"))
}

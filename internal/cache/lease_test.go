package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

func setupLease(t *testing.T) (*Lease, *redis.Client) {
	client := redis.NewClient(&redis.Options{Addr: utils.GetTestRedisAddr()})
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err(), "redis must be reachable for lease tests")
	t.Cleanup(func() { _ = client.Close() })
	return NewLease(client), client
}

func TestLease_MutualExclusion(t *testing.T) {
	lease, client := setupLease(t)
	ctx := context.Background()
	name := "test-mutex-" + utils.NewSixID().String()
	defer client.Del(ctx, "lease:"+name)

	release, acquired, err := lease.Acquire(ctx, name, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NotNil(t, release)

	_, again, err := lease.Acquire(ctx, name, 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, again, "held lease cannot be taken by a second worker")

	release()
	release2, reacquired, err := lease.Acquire(ctx, name, 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, reacquired, "released lease is immediately available")
	if reacquired {
		release2()
	}
}

func TestLease_MinHoldKeepsKeyAlive(t *testing.T) {
	lease, client := setupLease(t)
	ctx := context.Background()
	name := "test-minhold-" + utils.NewSixID().String()
	key := "lease:" + name
	defer client.Del(ctx, key)

	release, acquired, err := lease.Acquire(ctx, name, 500*time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// Releasing well before minHold keeps the key with a shortened TTL, so an
	// immediate retry by another worker is rejected.
	release()
	_, again, err := lease.Acquire(ctx, name, 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	ttl, err := client.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 500*time.Millisecond)

	time.Sleep(600 * time.Millisecond)
	release2, later, err := lease.Acquire(ctx, name, 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, later, "lease frees up once minHold has elapsed")
	if later {
		release2()
	}
}

func TestLease_ReleaseOnlyByHolder(t *testing.T) {
	lease, client := setupLease(t)
	ctx := context.Background()
	name := "test-token-" + utils.NewSixID().String()
	key := "lease:" + name
	defer client.Del(ctx, key)

	staleRelease, acquired, err := lease.Acquire(ctx, name, 0, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	// Let the first hold expire and have a second worker take over.
	time.Sleep(100 * time.Millisecond)
	release, acquired, err := lease.Acquire(ctx, name, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	// The stale holder's release must not clobber the new holder's key.
	staleRelease()
	val, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.NotEmpty(t, val)
}

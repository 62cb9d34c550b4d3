package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store IdempotencyStore, key string) {
	ctx := context.Background()

	_, claimed, err := store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	result, claimed, err := store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, result, "in-flight claims expose no result")

	require.NoError(t, store.Store(ctx, key, "order-1", time.Minute))
	result, claimed, err = store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "order-1", result)

	require.NoError(t, store.Forget(ctx, key))
	_, claimed, err = store.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, store.Forget(ctx, key))
}

func TestMemoryStore_ClaimStoreForget(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), CheckoutKey("u1", "k1"))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	_, claimed, err := store.Claim(ctx, WebhookEventKey("evt_1"), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	now = now.Add(2 * time.Minute)
	_, claimed, err = store.Claim(ctx, WebhookEventKey("evt_1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "an expired claim can be taken again")
}

func TestMemoryStore_SingleWinner(t *testing.T) {
	store := NewMemoryStore()
	var winners int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, claimed, _ := store.Claim(context.Background(), "k", time.Minute); claimed {
				atomic.AddInt64(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), winners)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "idem:checkout:u1:abc", CheckoutKey("u1", "abc"))
	assert.Equal(t, "dedup:webhook:evt_9", WebhookEventKey("evt_9"))
}

func TestRedisStore_ClaimStoreForget(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), addr)
	require.NoError(t, err)
	defer rdb.Close()

	exerciseStore(t, NewRedisStore(rdb), CheckoutKey("test-user", time.Now().Format(time.RFC3339Nano)))
}

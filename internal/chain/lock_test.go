package chain

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSignerLeaseRenewInterval(t *testing.T) {
	require.Equal(t, 10*time.Second, NewSignerLock(nil, 0).renewInterval())
	require.Equal(t, 40*time.Second, NewSignerLock(nil, 2*time.Minute).renewInterval())
}

func TestSignerLeaseOutlivesTTLWhileHeld(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	require.NoError(t, rdb.Ping(ctx).Err())
	key := fmt.Sprintf("%s:%s", signerLockPrefix, strings.ToLower(platformAddr.Hex()))
	require.NoError(t, rdb.Del(ctx, key).Err())

	const ttl = 300 * time.Millisecond
	release, err := NewSignerLock(rdb, ttl).Acquire(ctx, platformAddr)
	require.NoError(t, err)

	// Hold well past the TTL, as a slow broadcast would.
	time.Sleep(3 * ttl)
	left, err := rdb.PTTL(ctx, key).Result()
	require.NoError(t, err)
	require.Positive(t, left)

	// Another process still cannot take the signer.
	waitCtx, cancel := context.WithTimeout(ctx, 2*signerLockRetry)
	defer cancel()
	_, err = NewSignerLock(rdb, ttl).Acquire(waitCtx, platformAddr)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	exists, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

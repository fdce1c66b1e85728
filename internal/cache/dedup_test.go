package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisDeduper_InvalidURL(t *testing.T) {
	_, err := NewRedisDeduper("http://localhost:6379", "test:")
	assert.Error(t, err)
}

func TestNop_ClaimsEverything(t *testing.T) {
	var d Deduper = Nop{}
	for i := 0; i < 2; i++ {
		ok, err := d.Claim(context.Background(), "evt_1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	seen, err := d.Seen(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

// TestRedisDeduper runs against a real Redis when REDIS_URL is set.
func TestRedisDeduper(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	d, err := NewRedisDeduper(url, "dinnerhelp:test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	require.NoError(t, d.Ping(ctx))

	key := "evt_" + uuid.NewString()
	seen, err := d.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err := d.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	ok, err = d.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "replay is rejected")

	seen, err = d.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}

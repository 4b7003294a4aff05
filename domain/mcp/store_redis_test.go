package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisStoreIntegration requires a running Redis on localhost:6379. It is skipped when no
// server is reachable, mirroring how Mindburn-Labs' limiter_redis_test.go handles the same gap.
func TestRedisStoreIntegration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("skipping redis integration test: redis not available")
	}
	defer client.Close()
	defer client.FlushDB(ctx)

	store, err := NewRedisStore(RedisStoreOptions{Client: client, KeyPrefix: "mcptest:"})
	require.NoError(t, err)

	sess, err := store.Create(ctx, "sess-1", SessionMeta{Auth: &AuthorizationContext{TokenHash: "hash-1"}})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.Auth.TokenHash)

	require.NoError(t, store.BindToken(ctx, "hash-1", "sess-1"))
	bound, err := store.GetByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", bound.ID)

	stream, err := store.CreateStream(ctx, "sess-1")
	require.NoError(t, err)

	eventID, err := store.AddMessage(ctx, "sess-1", stream.ID, json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), eventID)

	missed, err := store.MessagesSince(ctx, "sess-1", stream.ID, 0)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	assert.JSONEq(t, `{"n":1}`, string(missed[0].Payload))

	require.NoError(t, store.DeleteStream(ctx, "sess-1", stream.ID))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err = store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Ping(ctx))
}

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/domain"
)

// setupTestRedis connects to TEST_REDIS_ADDR (default localhost:6379).
// Tests are skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testSession(ttl time.Duration) domain.Session {
	return domain.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(ttl),
		UserID:       "user-123",
		Email:        "user@example.com",
	}
}

func TestSessionStore_SaveAndLoad(t *testing.T) {
	store := NewSessionStoreWithPrefix(setupTestRedis(t), "test:"+uuid.NewString()+":", 0)
	ctx := context.Background()

	sess := testSession(30 * time.Minute)
	require.NoError(t, store.Save(ctx, "bk-1", sess))

	got, err := store.Load(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, got.AccessToken)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	store := NewSessionStore(setupTestRedis(t), 0)

	_, err := store.Load(context.Background(), "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = store.Load(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	store := NewSessionStoreWithPrefix(setupTestRedis(t), "test:"+uuid.NewString()+":", 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "bk-1", testSession(time.Minute)))
	require.NoError(t, store.Delete(ctx, "bk-1"))
	require.NoError(t, store.Delete(ctx, ""))

	_, err := store.Load(ctx, "bk-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_TTLExpiration(t *testing.T) {
	store := NewSessionStoreWithPrefix(setupTestRedis(t), "test:"+uuid.NewString()+":", 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "bk-1", testSession(100*time.Millisecond)))
	time.Sleep(250 * time.Millisecond)

	_, err := store.Load(ctx, "bk-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_RejectsExpired(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	t.Cleanup(func() { _ = client.Close() })
	store := NewSessionStore(client, 0)

	assert.Error(t, store.Save(context.Background(), "bk-1", testSession(-time.Minute)))
	assert.Error(t, store.Save(context.Background(), "", testSession(time.Minute)))
}

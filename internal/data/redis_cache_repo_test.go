package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/testutil"
)

func TestRedisCacheRepo_Set_Get_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client, "")
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "idem:a", []byte("job-1"), 5*time.Minute))

		result, err := repo.Get(ctx, "idem:a")
		require.NoError(t, err)
		assert.Equal(t, []byte("job-1"), result)

		ttl := client.TTL(ctx, DefaultCacheKeyPrefix+"idem:a").Val()
		assert.True(t, ttl > 0 && ttl <= 5*time.Minute)
	})

	t.Run("get non-existent key", func(t *testing.T) {
		result, err := repo.Get(ctx, "idem:missing")
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "idem:b", []byte("x"), time.Minute))
		deleted, err := repo.Delete(ctx, "idem:b")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, "idem:b")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("set if not exists", func(t *testing.T) {
		ok, err := repo.SetIfNotExists(ctx, "idem:c", []byte("first"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.SetIfNotExists(ctx, "idem:c", []byte("second"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		val, err := repo.Get(ctx, "idem:c")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), val)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, repo.Health(ctx))
	})
}

func TestRedisCacheRepo_EmptyKey(t *testing.T) {
	repo := NewRedisCacheRepo(nil, "x:")
	ctx := context.Background()

	assert.Error(t, repo.Set(ctx, "", nil, time.Second))
	_, err := repo.Get(ctx, "")
	assert.Error(t, err)
	_, err = repo.Delete(ctx, "")
	assert.Error(t, err)
	_, err = repo.SetIfNotExists(ctx, "", nil, time.Second)
	assert.Error(t, err)
}

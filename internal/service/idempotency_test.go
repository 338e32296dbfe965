package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/mocks"
	"github.com/target/mmk-jobqueue/internal/testutil"
	"go.uber.org/mock/gomock"
)

func TestIdempotencyIndex_BlankKeyNeverMatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobStore(ctrl)
	cache := mocks.NewMockCacheRepository(ctrl)

	idx, err := NewIdempotencyIndex(IdempotencyIndexOptions{Store: store, Cache: cache})
	require.NoError(t, err)

	for _, key := range []string{"", "   ", "\t"} {
		job, err := idx.Lookup(context.Background(), key)
		require.NoError(t, err)
		assert.Nil(t, job)
	}
}

func TestIdempotencyIndex_CacheHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobStore(ctrl)
	cache := mocks.NewMockCacheRepository(ctrl)
	job := testutil.NewJob().WithID("job-1").WithIdempotencyKey("order-42").Build()

	idx, err := NewIdempotencyIndex(IdempotencyIndexOptions{Store: store, Cache: cache})
	require.NoError(t, err)

	cache.EXPECT().Get(gomock.Any(), "idem:order-42").Return([]byte("job-1"), nil)
	store.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)

	got, err := idx.Lookup(context.Background(), " order-42 ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.ID)
}

func TestIdempotencyIndex_StaleEntryIsEvicted(t *testing.T) {
	tests := []struct {
		name    string
		resolve func(store *mocks.MockJobStore)
	}{
		{
			name: "job deleted",
			resolve: func(store *mocks.MockJobStore) {
				store.EXPECT().GetByID(gomock.Any(), "job-1").Return(nil, core.ErrJobNotFound)
			},
		},
		{
			name: "job carries another key",
			resolve: func(store *mocks.MockJobStore) {
				other := testutil.NewJob().WithID("job-1").WithIdempotencyKey("order-7").Build()
				store.EXPECT().GetByID(gomock.Any(), "job-1").Return(other, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := mocks.NewMockJobStore(ctrl)
			cache := mocks.NewMockCacheRepository(ctrl)
			fresh := testutil.NewJob().WithID("job-2").WithIdempotencyKey("order-42").Build()

			idx, err := NewIdempotencyIndex(IdempotencyIndexOptions{Store: store, Cache: cache, TTL: time.Hour})
			require.NoError(t, err)

			gomock.InOrder(
				cache.EXPECT().Get(gomock.Any(), "idem:order-42").Return([]byte("job-1"), nil),
				cache.EXPECT().Delete(gomock.Any(), "idem:order-42").Return(true, nil),
				cache.EXPECT().Set(gomock.Any(), "idem:order-42", []byte("job-2"), time.Hour).Return(nil),
			)
			tt.resolve(store)
			store.EXPECT().FindByIdempotencyKey(gomock.Any(), "order-42").Return(fresh, nil)

			got, err := idx.Lookup(context.Background(), "order-42")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "job-2", got.ID)
		})
	}
}

func TestIdempotencyIndex_CacheFailuresFallThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobStore(ctrl)
	cache := mocks.NewMockCacheRepository(ctrl)
	job := testutil.NewJob().WithID("job-1").WithIdempotencyKey("order-42").Build()

	idx, err := NewIdempotencyIndex(IdempotencyIndexOptions{Store: store, Cache: cache})
	require.NoError(t, err)

	cache.EXPECT().Get(gomock.Any(), "idem:order-42").Return(nil, errors.New("redis down"))
	store.EXPECT().FindByIdempotencyKey(gomock.Any(), "order-42").Return(job, nil)
	cache.EXPECT().Set(gomock.Any(), "idem:order-42", []byte("job-1"), 24*time.Hour).Return(errors.New("redis down"))

	got, err := idx.Lookup(context.Background(), "order-42")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
}

func TestIdempotencyIndex_MissWithoutCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobStore(ctrl)

	idx, err := NewIdempotencyIndex(IdempotencyIndexOptions{Store: store})
	require.NoError(t, err)

	store.EXPECT().FindByIdempotencyKey(gomock.Any(), "order-42").Return(nil, nil)

	got, err := idx.Lookup(context.Background(), "order-42")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Remember without a cache is a no-op.
	idx.Remember(context.Background(), "order-42", "job-1")
}

func TestIdempotencyIndex_StoreErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobStore(ctrl)
	storeErr := errors.New("connection reset")

	idx, err := NewIdempotencyIndex(IdempotencyIndexOptions{Store: store})
	require.NoError(t, err)

	store.EXPECT().FindByIdempotencyKey(gomock.Any(), "order-42").Return(nil, storeErr)

	_, err = idx.Lookup(context.Background(), "order-42")
	require.ErrorIs(t, err, storeErr)
}

func TestNewIdempotencyIndex_RequiresStore(t *testing.T) {
	_, err := NewIdempotencyIndex(IdempotencyIndexOptions{})
	require.Error(t, err)
}

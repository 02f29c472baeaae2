package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeatCache_GetAvailableCount(t *testing.T) {
	ctx := context.Background()
	showID := "show-1001"
	key := AvailableCountKey(showID)

	t.Run("キャッシュミス時はErrCacheMissを返す", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewSeatCache(client)
		mock.ExpectGet(key).RedisNil()

		_, err := cache.GetAvailableCount(ctx, showID)

		assert.ErrorIs(t, err, ErrCacheMiss)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("キャッシュの値を取得できる", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewSeatCache(client)
		mock.ExpectGet(key).SetVal("42")

		count, err := cache.GetAvailableCount(ctx, showID)

		require.NoError(t, err)
		assert.Equal(t, 42, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Redisエラーはキャッシュミスと区別する", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewSeatCache(client)
		mock.ExpectGet(key).SetErr(errors.New("connection refused"))

		_, err := cache.GetAvailableCount(ctx, showID)

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCacheMiss)
	})
}

func TestSeatCache_SetAvailableCount(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewSeatCache(client)
	ctx := context.Background()
	mock.ExpectSet(AvailableCountKey("show-1001"), 50, 5*time.Second).SetVal("OK")

	err := cache.SetAvailableCount(ctx, "show-1001", 50, 5*time.Second)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeatCache_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("キーを削除する", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewSeatCache(client)
		mock.ExpectDel(AvailableCountKey("show-1001")).SetVal(1)

		require.NoError(t, cache.Invalidate(ctx, "show-1001"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("削除エラーを返す", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		cache := NewSeatCache(client)
		mock.ExpectDel(AvailableCountKey("show-1001")).SetErr(errors.New("timeout"))

		assert.Error(t, cache.Invalidate(ctx, "show-1001"))
	})
}

func TestPing(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, Ping(context.Background(), client))

	mock.ExpectPing().SetErr(errors.New("down"))
	assert.Error(t, Ping(context.Background(), client))
}

func TestAvailableCountKey(t *testing.T) {
	assert.Equal(t, "shows:show-1001:available_count", AvailableCountKey("show-1001"))
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

// SeatCache は上映回ごとの空席数をキャッシュする
type SeatCache struct {
	client redis.Cmdable
}

// NewSeatCache は新しいSeatCacheインスタンスを作成する
func NewSeatCache(client redis.Cmdable) *SeatCache {
	return &SeatCache{client: client}
}

// GetAvailableCount は上映回の空席数をキャッシュから取得する
func (c *SeatCache) GetAvailableCount(ctx context.Context, showID string) (int, error) {
	val, err := c.client.Get(ctx, AvailableCountKey(showID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	return val, nil
}

// SetAvailableCount は上映回の空席数をキャッシュに保存する
func (c *SeatCache) SetAvailableCount(ctx context.Context, showID string, count int, ttl time.Duration) error {
	if err := c.client.Set(ctx, AvailableCountKey(showID), count, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate は上映回のキャッシュを無効化する
func (c *SeatCache) Invalidate(ctx context.Context, showID string) error {
	if err := c.client.Del(ctx, AvailableCountKey(showID)).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

// AvailableCountKey は空席数のキャッシュキーを返す
func AvailableCountKey(showID string) string {
	return fmt.Sprintf("shows:%s:available_count", showID)
}

package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/catalog"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
	redisinfra "github.com/sanosuguru/go-seat-hold-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/logger"
)

const (
	availableCountCacheTTL = 5 * time.Second
)

// SeatStateReader は座席状態テーブルの読み取り口
type SeatStateReader interface {
	ShowSnapshot(showID string) map[string]seat.Snapshot
}

// SeatCache は空席数のキャッシュ
type SeatCache interface {
	GetAvailableCount(ctx context.Context, showID string) (int, error)
	SetAvailableCount(ctx context.Context, showID string, count int, ttl time.Duration) error
	Invalidate(ctx context.Context, showID string) error
}

// SeatAvailability はカタログ情報と現在状態を合わせた座席ビュー
type SeatAvailability struct {
	SeatID          string
	Label           string
	Type            seat.Type
	Price           int64
	Status          seat.Status
	HolderBookingID string
	HoldExpiry      *time.Time
}

func (a SeatAvailability) IsAvailable() bool {
	return a.Status == seat.StatusAvailable
}

// SeatAvailabilityIndex は上映回の空席状況を返す。
// 結果は参考値で、予約前には必ず仮押さえで再検証される。
type SeatAvailabilityIndex struct {
	catalog catalog.Service
	states  SeatStateReader
	cache   SeatCache
}

// NewSeatAvailabilityIndex は cache が nil ならキャッシュなしで動作する
func NewSeatAvailabilityIndex(cat catalog.Service, states SeatStateReader, cache SeatCache) *SeatAvailabilityIndex {
	return &SeatAvailabilityIndex{catalog: cat, states: states, cache: cache}
}

// Snapshot は上映回の全座席の状態を座席ID順に返す。期限切れの仮押さえは空席として扱う
func (i *SeatAvailabilityIndex) Snapshot(ctx context.Context, showID string) ([]SeatAvailability, error) {
	seats, err := i.catalog.ListSeats(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("座席取得に失敗: %w", err)
	}
	states := i.states.ShowSnapshot(showID)

	out := make([]SeatAvailability, 0, len(seats))
	for _, s := range seats {
		view := SeatAvailability{
			SeatID: s.ID,
			Label:  s.Label,
			Type:   s.Type,
			Price:  s.Price,
			Status: seat.StatusAvailable,
		}
		if snap, ok := states[s.ID]; ok {
			view.Status = snap.Status
			view.HolderBookingID = snap.HolderBookingID
			view.HoldExpiry = snap.HoldExpiry
		}
		out = append(out, view)
	}
	return out, nil
}

// AvailableSeats は空席のみを返す
func (i *SeatAvailabilityIndex) AvailableSeats(ctx context.Context, showID string) ([]SeatAvailability, error) {
	all, err := i.Snapshot(ctx, showID)
	if err != nil {
		return nil, err
	}
	available := make([]SeatAvailability, 0, len(all))
	for _, s := range all {
		if s.IsAvailable() {
			available = append(available, s)
		}
	}
	return available, nil
}

func (i *SeatAvailabilityIndex) CountAvailable(ctx context.Context, showID string) (int, error) {
	// キャッシュから取得を試みる
	if i.cache != nil {
		count, err := i.cache.GetAvailableCount(ctx, showID)
		if err == nil {
			logger.Debug("キャッシュヒット", zap.String("show_id", showID), zap.Int("count", count))
			return count, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			logger.Warn("キャッシュ取得エラー", zap.Error(err))
		}
	}

	available, err := i.AvailableSeats(ctx, showID)
	if err != nil {
		return 0, err
	}
	count := len(available)

	// キャッシュに保存
	if i.cache != nil {
		if cacheErr := i.cache.SetAvailableCount(ctx, showID, count, availableCountCacheTTL); cacheErr != nil {
			logger.Warn("キャッシュ保存エラー", zap.Error(cacheErr))
		}
	}
	return count, nil
}

// Invalidate は上映回のキャッシュを無効化する
func (i *SeatAvailabilityIndex) Invalidate(ctx context.Context, showID string) {
	CacheInvalidator{Cache: i.cache}.Invalidate(ctx, showID)
}

// CacheInvalidator は空席数キャッシュを直接無効化する AvailabilityInvalidator。
// インデックスより先に作られる SeatLockManager から使う。
type CacheInvalidator struct {
	Cache SeatCache
}

func (c CacheInvalidator) Invalidate(ctx context.Context, showID string) {
	if c.Cache == nil {
		return
	}
	if err := c.Cache.Invalidate(ctx, showID); err != nil {
		logger.Warn("キャッシュ無効化エラー", zap.String("show_id", showID), zap.Error(err))
	}
}

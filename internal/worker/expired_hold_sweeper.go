package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/logger"
)

// HoldSweeper は期限切れの仮押さえ座席を回収する
type HoldSweeper interface {
	SweepExpired() int
}

// BookingExpirer は期限切れの保留中予約を失効させる
type BookingExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// ExpiredHoldSweeper は取りこぼしたタイマーを補う定期ワーカー。
// 通常は座席ごと・予約ごとのタイマーで期限切れが処理される。
type ExpiredHoldSweeper struct {
	seats    HoldSweeper
	bookings BookingExpirer
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewExpiredHoldSweeper は新しいスイーパーを作成
func NewExpiredHoldSweeper(seats HoldSweeper, bookings BookingExpirer, interval time.Duration) *ExpiredHoldSweeper {
	return &ExpiredHoldSweeper{
		seats:    seats,
		bookings: bookings,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start はスイーパーを開始
func (s *ExpiredHoldSweeper) Start(ctx context.Context) {
	logger.Info("期限切れ仮押さえスイーパー開始", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("期限切れ仮押さえスイーパー停止（コンテキストキャンセル）")
			return
		case <-s.stopCh:
			logger.Info("期限切れ仮押さえスイーパー停止（シグナル受信）")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop はスイーパーを停止
func (s *ExpiredHoldSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// sweep は予約を先に失効させ、残った座席を回収する
func (s *ExpiredHoldSweeper) sweep(ctx context.Context) {
	log := logger.Get()

	expired, err := s.bookings.ExpireOverdue(ctx)
	if err != nil {
		log.Error("期限切れ予約の失効に失敗", zap.Error(err))
	}

	released := s.seats.SweepExpired()

	if expired > 0 || released > 0 {
		log.Info("期限切れ仮押さえを回収", zap.Int("bookings", expired), zap.Int("seats", released))
	} else {
		log.Debug("期限切れ仮押さえなし")
	}
}

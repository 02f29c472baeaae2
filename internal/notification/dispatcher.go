// Package notification は予約イベントを非同期に配送する。
package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/sanosuguru/go-seat-hold-booking/internal/domain/notification"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/metrics"
)

const (
	DefaultQueueSize = 1024

	publishTimeout = 5 * time.Second
)

// Dispatcher は domain.Notifier の実装。
// Notify はキューに積むだけで呼び出し元をブロックせず、キューが満杯なら破棄する。
// 配送はワーカーゴルーチンが登録済みの Publisher へ順に行う。
type Dispatcher struct {
	queue      chan domain.Event
	publishers []domain.Publisher
	metrics    *metrics.Metrics

	mu      sync.RWMutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ domain.Notifier = (*Dispatcher)(nil)

// NewDispatcher は新しいディスパッチャを作成する。size が0以下なら既定値を使う
func NewDispatcher(size int, m *metrics.Metrics, publishers ...domain.Publisher) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{
		queue:      make(chan domain.Event, size),
		publishers: publishers,
		metrics:    m,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Notify はイベントをキューに積む
func (d *Dispatcher) Notify(_ context.Context, userID string, ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.drop(userID, ev, "stopped")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(userID, ev, "queue_full")
	}
}

func (d *Dispatcher) drop(userID string, ev domain.Event, reason string) {
	d.metrics.NotificationsDroppedTotal.Inc()
	logger.Warn("通知を破棄しました",
		zap.String("reason", reason),
		zap.String("user_id", userID),
		zap.String("event_type", string(ev.Type)),
		zap.String("booking_id", ev.BookingID),
	)
}

// Start は配送ワーカーを実行する。Stop かコンテキストのキャンセルで終了する。
// 既に開始済みまたは停止済みなら何もしない。
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	logger.Info("通知ディスパッチャ開始", zap.Int("publishers", len(d.publishers)))
	defer close(d.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("通知ディスパッチャ停止（コンテキストキャンセル）")
			return
		case <-d.stopCh:
			d.drain()
			logger.Info("通知ディスパッチャ停止（シグナル受信）")
			return
		case ev := <-d.queue:
			d.deliver(ev)
		}
	}
}

// Stop は新規受付を止め、キューに残ったイベントを配送してから戻る。
// ワーカーが開始されていなければ呼び出し元で配送する。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	d.mu.Unlock()

	close(d.stopCh)
	if !started {
		d.drain()
		return
	}
	<-d.doneCh
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev domain.Event) {
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, ev); err != nil {
			logger.Error("通知の配送に失敗",
				zap.String("event_type", string(ev.Type)),
				zap.String("booking_id", ev.BookingID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// LogPublisher はイベントを構造化ログに書き出す Publisher
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(l *zap.Logger) *LogPublisher {
	if l == nil {
		l = logger.Named("notification")
	}
	return &LogPublisher{log: l}
}

func (p *LogPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.log.Info("予約イベント",
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("booking_id", ev.BookingID),
		zap.String("user_id", ev.UserID),
		zap.String("show_id", ev.ShowID),
		zap.Strings("seat_ids", ev.SeatIDs),
		zap.Int64("amount", ev.Amount),
		zap.Time("occurred_at", ev.OccurredAt),
	)
	return nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/booking"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/catalog"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/notification"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/payment"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/metrics"
)

const (
	DefaultHoldTTL    = 5 * time.Minute
	DefaultMaxHoldTTL = 15 * time.Minute

	defaultListLimit = 20
)

var errHoldStillActive = errors.New("仮押さえはまだ有効です")

// SeatLocker は BookingCoordinator が使う座席ロックの操作
type SeatLocker interface {
	AcquireHold(showID string, seatIDs []string, bookingID string, ttl time.Duration) (*HoldGrant, error)
	Commit(showID string, seatIDs []string, bookingID string) error
	Release(showID string, seatIDs []string, bookingID string) (int, error)
}

// AvailabilityInvalidator は座席状態の変化を空席インデックスへ伝える
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, showID string)
}

// BookingCoordinator は予約のライフサイクル（作成・確定・取消・期限切れ）を管理する。
// 同一予約への確定・取消・期限切れは予約レコード上の1回の状態遷移で排他され、勝者は1つだけになる。
type BookingCoordinator struct {
	locker      SeatLocker
	bookings    booking.Repository
	catalog     catalog.Service
	payments    payment.Gateway
	notifier    notification.Notifier
	invalidator AvailabilityInvalidator
	clock       clock.Clock
	metrics     *metrics.Metrics
	holdTTL     time.Duration
	maxHoldTTL  time.Duration

	// 予約IDごとの期限切れタイマー
	expiryTimers sync.Map
}

// CoordinatorOption は BookingCoordinator の設定
type CoordinatorOption func(*BookingCoordinator)

func WithHoldTTL(d time.Duration) CoordinatorOption {
	return func(c *BookingCoordinator) {
		if d > 0 {
			c.holdTTL = d
		}
	}
}

func WithMaxHoldTTL(d time.Duration) CoordinatorOption {
	return func(c *BookingCoordinator) {
		if d > 0 {
			c.maxHoldTTL = d
		}
	}
}

func WithPaymentGateway(g payment.Gateway) CoordinatorOption {
	return func(c *BookingCoordinator) { c.payments = g }
}

func WithNotifier(n notification.Notifier) CoordinatorOption {
	return func(c *BookingCoordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithAvailabilityInvalidator(inv AvailabilityInvalidator) CoordinatorOption {
	return func(c *BookingCoordinator) { c.invalidator = inv }
}

func WithCoordinatorMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *BookingCoordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

func NewBookingCoordinator(locker SeatLocker, repo booking.Repository, cat catalog.Service, clk clock.Clock, opts ...CoordinatorOption) *BookingCoordinator {
	c := &BookingCoordinator{
		locker:     locker,
		bookings:   repo,
		catalog:    cat,
		clock:      clk,
		notifier:   nopNotifier{},
		holdTTL:    DefaultHoldTTL,
		maxHoldTTL: DefaultMaxHoldTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}
	if c.holdTTL > c.maxHoldTTL {
		c.holdTTL = c.maxHoldTTL
	}
	return c
}

type CreateBookingInput struct {
	ShowID  string
	UserID  string
	SeatIDs []string
	// TTL が0以下なら既定値、上限を超える場合は上限に丸める
	TTL time.Duration
}

// CreateBooking は座席を仮押さえして保留中の予約を作成する。
// 座席が確保できない場合は予約を作らず *seat.UnavailableError を返す。
func (c *BookingCoordinator) CreateBooking(ctx context.Context, input CreateBookingInput) (*booking.Booking, *booking.HoldTicket, error) {
	if input.UserID == "" {
		return nil, nil, booking.ErrUserIDRequired
	}
	if input.ShowID == "" {
		return nil, nil, booking.ErrShowIDRequired
	}
	seatIDs, err := normalizeSeatIDs(input.SeatIDs)
	if err != nil {
		return nil, nil, err
	}

	// 上映回確認
	show, err := c.catalog.GetShow(ctx, input.ShowID)
	if err != nil {
		return nil, nil, fmt.Errorf("上映回取得に失敗: %w", err)
	}
	now := c.clock.Now()
	if !show.IsBookingOpen(now) {
		return nil, nil, catalog.ErrShowNotOpen
	}

	// 座席確認と金額計算
	seats, err := c.catalog.ListSeats(ctx, show.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("座席取得に失敗: %w", err)
	}
	seatMap := make(map[string]seat.Seat, len(seats))
	for _, s := range seats {
		seatMap[s.ID] = s
	}
	var amount int64
	for _, id := range seatIDs {
		s, ok := seatMap[id]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", seat.ErrSeatNotFound, id)
		}
		amount += s.Price
	}

	bookingID := uuid.NewString()
	grant, err := c.locker.AcquireHold(show.ID, seatIDs, bookingID, c.clampTTL(input.TTL))
	if err != nil {
		return nil, nil, err
	}

	b := booking.New(bookingID, input.UserID, show.ID, grant.SeatIDs, amount, now, grant.Expiry)
	// 保存して他から見えるようになる前にタイマーを登録しておく
	c.scheduleExpiry(b, grant.Expiry.Sub(now))
	if err := c.bookings.Save(ctx, b); err != nil {
		c.stopExpiry(bookingID)
		if _, relErr := c.locker.Release(show.ID, grant.SeatIDs, bookingID); relErr != nil {
			logger.Error("予約保存失敗後の座席解放に失敗", zap.String("booking_id", bookingID), zap.Error(relErr))
		}
		return nil, nil, fmt.Errorf("予約保存に失敗: %w", err)
	}

	c.metrics.BookingsTotal.WithLabelValues(string(booking.StatusPending)).Inc()
	c.metrics.PendingBookings.Inc()
	logger.Info("仮押さえを作成しました",
		zap.String("booking_id", bookingID),
		zap.String("user_id", input.UserID),
		zap.String("show_id", show.ID),
		zap.Strings("seat_ids", grant.SeatIDs),
		zap.Time("hold_expiry", grant.Expiry),
	)
	c.publish(ctx, b, notification.EventHoldCreated)
	c.invalidate(ctx, show.ID)

	return b, &booking.HoldTicket{
		BookingID: bookingID,
		ShowID:    show.ID,
		SeatIDs:   grant.SeatIDs,
		Expiry:    grant.Expiry,
	}, nil
}

// Confirm は決済結果を予約へ反映する。保留中の予約に対してのみ有効。
// 成功なら座席を確定して CONFIRMED、失敗なら座席を解放して CANCELLED にする。
// 仮押さえの期限を過ぎていた場合は予約を EXPIRED にして ErrHoldExpired を返す。
func (c *BookingCoordinator) Confirm(ctx context.Context, id string, outcome booking.PaymentOutcome) (*booking.Booking, error) {
	if outcome != booking.PaymentSucceeded && outcome != booking.PaymentFailed {
		return nil, booking.ErrInvalidPaymentOutcome
	}
	b, err := c.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	if outcome == booking.PaymentFailed {
		return c.cancel(ctx, b, now, []booking.Status{booking.StatusPending})
	}

	_, err = b.Transition(now, booking.StatusConfirmed, []booking.Status{booking.StatusPending}, func(booking.Status) error {
		if b.IsHoldLapsed(now) {
			return booking.ErrHoldExpired
		}
		return c.locker.Commit(b.ShowID, b.SeatIDs, b.ID)
	})
	if err != nil {
		return nil, c.handleLapsed(ctx, b, err)
	}

	c.stopExpiry(b.ID)
	c.metrics.BookingsTotal.WithLabelValues(string(booking.StatusConfirmed)).Inc()
	c.metrics.PendingBookings.Dec()
	logger.Info("予約を確定しました", zap.String("booking_id", b.ID), zap.Strings("seat_ids", b.SeatIDs))
	c.publish(ctx, b, notification.EventBookingConfirmed)
	c.invalidate(ctx, b.ShowID)
	return b, nil
}

// Cancel は予約を取り消して座席を解放する。保留中または確定済みの予約に対して有効。
// 確定済みの返金は外部で扱う。
func (c *BookingCoordinator) Cancel(ctx context.Context, id string) (*booking.Booking, error) {
	b, err := c.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.cancel(ctx, b, c.clock.Now(), []booking.Status{booking.StatusPending, booking.StatusConfirmed})
}

func (c *BookingCoordinator) cancel(ctx context.Context, b *booking.Booking, now time.Time, from []booking.Status) (*booking.Booking, error) {
	prev, err := b.Transition(now, booking.StatusCancelled, from, func(prev booking.Status) error {
		if prev == booking.StatusPending && b.IsHoldLapsed(now) {
			return booking.ErrHoldExpired
		}
		return nil
	})
	if err != nil {
		return nil, c.handleLapsed(ctx, b, err)
	}

	c.stopExpiry(b.ID)
	released, err := c.locker.Release(b.ShowID, b.SeatIDs, b.ID)
	if err != nil {
		logger.Error("取消時の座席解放に失敗", zap.String("booking_id", b.ID), zap.Error(err))
	}
	c.metrics.BookingsTotal.WithLabelValues(string(booking.StatusCancelled)).Inc()
	if prev == booking.StatusPending {
		c.metrics.PendingBookings.Dec()
	}
	logger.Info("予約を取り消しました",
		zap.String("booking_id", b.ID),
		zap.String("previous_status", string(prev)),
		zap.Int("released_seats", released),
	)
	c.publish(ctx, b, notification.EventBookingCancelled)
	c.invalidate(ctx, b.ShowID)
	return b, nil
}

// handleLapsed は保留中のまま期限を過ぎていた予約を EXPIRED にする
func (c *BookingCoordinator) handleLapsed(ctx context.Context, b *booking.Booking, err error) error {
	if errors.Is(err, booking.ErrHoldExpired) && b.Status() == booking.StatusPending {
		c.expire(ctx, b, true)
	}
	return err
}

// expire は保留中の予約を EXPIRED にする。force でなければ期限到来を条件とする。
// 座席自体は座席ごとのタイマーで解放済みのはずだが、取りこぼしに備えて冪等な解放も行う。
func (c *BookingCoordinator) expire(ctx context.Context, b *booking.Booking, force bool) bool {
	now := c.clock.Now()
	_, err := b.Transition(now, booking.StatusExpired, []booking.Status{booking.StatusPending}, func(booking.Status) error {
		if !force && !b.IsHoldLapsed(now) {
			return errHoldStillActive
		}
		return nil
	})
	if err != nil {
		return false
	}

	c.stopExpiry(b.ID)
	released, err := c.locker.Release(b.ShowID, b.SeatIDs, b.ID)
	if err != nil {
		logger.Error("期限切れ時の座席解放に失敗", zap.String("booking_id", b.ID), zap.Error(err))
	}
	c.metrics.BookingsTotal.WithLabelValues(string(booking.StatusExpired)).Inc()
	c.metrics.PendingBookings.Dec()
	logger.Info("仮押さえの期限切れにより予約を失効しました",
		zap.String("booking_id", b.ID),
		zap.Int("released_seats", released),
	)
	c.publish(ctx, b, notification.EventBookingExpired)
	c.invalidate(ctx, b.ShowID)
	return true
}

// ExpireOverdue は期限を過ぎた保留中の予約をまとめて失効させ、件数を返す。
// タイマーが失われた場合の回収用。
func (c *BookingCoordinator) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := c.bookings.ListPendingExpiredAt(ctx, c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("期限切れ予約の取得に失敗: %w", err)
	}
	expired := 0
	for _, b := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if c.expire(ctx, b, false) {
			expired++
		}
	}
	return expired, nil
}

// Pay は決済ゲートウェイで課金し、その結果で Confirm を行う。
// 拒否された場合は予約を取り消す。通信障害などその他のエラーでは状態を変えない。
func (c *BookingCoordinator) Pay(ctx context.Context, id string, details payment.Details) (*booking.Booking, error) {
	if c.payments == nil {
		return nil, errors.New("決済ゲートウェイが設定されていません")
	}
	b, err := c.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := b.Require(booking.StatusPending); err != nil {
		return nil, err
	}
	if b.IsHoldLapsed(c.clock.Now()) {
		c.expire(ctx, b, false)
		return nil, fmt.Errorf("%w: %s", booking.ErrHoldExpired, b.ID)
	}

	receipt, err := c.payments.Charge(ctx, b.Amount, details)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentDeclined) {
			logger.Info("決済が拒否されました", zap.String("booking_id", b.ID), zap.Error(err))
			return c.Confirm(ctx, b.ID, booking.PaymentFailed)
		}
		return nil, fmt.Errorf("決済に失敗: %w", err)
	}

	confirmed, err := c.Confirm(ctx, b.ID, booking.PaymentSucceeded)
	if err != nil {
		logger.Warn("課金後に予約を確定できませんでした。返金が必要です",
			zap.String("booking_id", b.ID),
			zap.String("transaction_id", receipt.TransactionID),
			zap.Int64("amount", receipt.Amount),
			zap.Error(err),
		)
		return nil, err
	}
	return confirmed, nil
}

func (c *BookingCoordinator) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	if id == "" {
		return nil, booking.ErrBookingIDRequired
	}
	return c.bookings.GetByID(ctx, id)
}

func (c *BookingCoordinator) ListUserBookings(ctx context.Context, userID string, limit, offset int) ([]*booking.Booking, error) {
	if userID == "" {
		return nil, booking.ErrUserIDRequired
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return c.bookings.ListByUser(ctx, userID, limit, offset)
}

// Shutdown は予約の期限切れタイマーをすべて止め、止めた数を返す。
// 停止後に残った保留中の予約は ExpireOverdue で回収できる。
func (c *BookingCoordinator) Shutdown() int {
	stopped := 0
	c.expiryTimers.Range(func(key, value any) bool {
		if value.(clock.Timer).Stop() {
			stopped++
		}
		c.expiryTimers.Delete(key)
		return true
	})
	return stopped
}

func (c *BookingCoordinator) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.holdTTL
	}
	if ttl > c.maxHoldTTL {
		return c.maxHoldTTL
	}
	return ttl
}

func (c *BookingCoordinator) scheduleExpiry(b *booking.Booking, d time.Duration) {
	id := b.ID
	t := c.clock.AfterFunc(d, func() {
		c.expiryTimers.Delete(id)
		c.expire(context.Background(), b, false)
	})
	c.expiryTimers.Store(id, t)
}

func (c *BookingCoordinator) stopExpiry(id string) {
	if v, ok := c.expiryTimers.LoadAndDelete(id); ok {
		v.(clock.Timer).Stop()
	}
}

func (c *BookingCoordinator) publish(ctx context.Context, b *booking.Booking, typ notification.EventType) {
	c.notifier.Notify(ctx, b.UserID, notification.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		BookingID:  b.ID,
		UserID:     b.UserID,
		ShowID:     b.ShowID,
		SeatIDs:    b.SeatIDs,
		Amount:     b.Amount,
		OccurredAt: c.clock.Now(),
	})
}

func (c *BookingCoordinator) invalidate(ctx context.Context, showID string) {
	if c.invalidator != nil {
		c.invalidator.Invalidate(ctx, showID)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, notification.Event) {}

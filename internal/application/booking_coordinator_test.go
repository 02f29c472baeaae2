package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/booking"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/catalog"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/notification"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/payment"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
	"github.com/sanosuguru/go-seat-hold-booking/internal/infrastructure/memory"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/clock"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/metrics"
)

// recordingNotifier は通知を記録する
type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, ev notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []notification.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.EventType, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

// MockPaymentGateway は payment.Gateway のモック
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Charge(ctx context.Context, amount int64, details payment.Details) (*payment.Receipt, error) {
	args := m.Called(ctx, amount, details)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Receipt), args.Error(1)
}

// MockInvalidator は AvailabilityInvalidator のモック
type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate(ctx context.Context, showID string) {
	m.Called(ctx, showID)
}

type coordinatorEnv struct {
	coordinator *BookingCoordinator
	locks       *SeatLockManager
	repo        *memory.BookingRepository
	clock       *clock.Fake
	notifier    *recordingNotifier
	metrics     *metrics.Metrics
	gateway     *MockPaymentGateway
}

func setupCoordinator(t *testing.T, opts ...CoordinatorOption) *coordinatorEnv {
	t.Helper()
	clk := clock.NewFake(epoch)
	m := metrics.NewNop()
	locks := NewSeatLockManager(memory.NewStateStore(8), clk, WithLockMetrics(m))

	cat := memory.NewCatalog()
	require.NoError(t, cat.AddShow(
		catalog.Show{ID: testShow, Title: "Night Film", StartsAt: epoch.Add(24 * time.Hour), Capacity: 4},
		[]seat.Seat{
			{ID: "A1", Type: seat.TypeRegular, Price: 1200},
			{ID: "A2", Type: seat.TypeRegular, Price: 1200},
			{ID: "B1", Type: seat.TypePremium, Price: 2000},
			{ID: "C1", Type: seat.TypeVIP, Price: 3500},
		},
	))
	require.NoError(t, cat.AddShow(
		catalog.Show{ID: "show-past", Title: "Matinee", StartsAt: epoch.Add(-time.Hour), Capacity: 1},
		[]seat.Seat{{ID: "A1", Price: 1000}},
	))

	repo := memory.NewBookingRepository()
	notifier := &recordingNotifier{}
	gateway := &MockPaymentGateway{}
	base := []CoordinatorOption{
		WithHoldTTL(5 * time.Minute),
		WithMaxHoldTTL(15 * time.Minute),
		WithNotifier(notifier),
		WithPaymentGateway(gateway),
		WithCoordinatorMetrics(m),
	}
	c := NewBookingCoordinator(locks, repo, cat, clk, append(base, opts...)...)
	return &coordinatorEnv{coordinator: c, locks: locks, repo: repo, clock: clk, notifier: notifier, metrics: m, gateway: gateway}
}

func (e *coordinatorEnv) hold(t *testing.T, userID string, seatIDs ...string) *booking.Booking {
	t.Helper()
	b, _, err := e.coordinator.CreateBooking(context.Background(), CreateBookingInput{ShowID: testShow, UserID: userID, SeatIDs: seatIDs})
	require.NoError(t, err)
	return b
}

func (e *coordinatorEnv) seatStatuses(seatIDs ...string) []seat.Status {
	out := make([]seat.Status, len(seatIDs))
	for i, id := range seatIDs {
		out[i] = e.locks.Snapshot(testShow, id).Status
	}
	return out
}

func TestBookingCoordinator_CreateBooking(t *testing.T) {
	ctx := context.Background()

	t.Run("仮押さえと保留中の予約を作成する", func(t *testing.T) {
		env := setupCoordinator(t)

		b, ticket, err := env.coordinator.CreateBooking(ctx, CreateBookingInput{
			ShowID:  testShow,
			UserID:  "user-1",
			SeatIDs: []string{"B1", "A1", "B1"},
		})

		require.NoError(t, err)
		assert.NotEmpty(t, b.ID)
		assert.Equal(t, booking.StatusPending, b.Status())
		assert.Equal(t, []string{"A1", "B1"}, b.SeatIDs)
		assert.Equal(t, int64(3200), b.Amount)
		assert.Equal(t, epoch.Add(5*time.Minute), b.HoldExpiry)
		assert.Equal(t, b.ID, ticket.BookingID)
		assert.Equal(t, b.HoldExpiry, ticket.Expiry)
		assert.Equal(t, []seat.Status{seat.StatusHeld, seat.StatusHeld}, env.seatStatuses("A1", "B1"))

		saved, err := env.repo.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Same(t, b, saved)
		assert.Equal(t, []notification.EventType{notification.EventHoldCreated}, env.notifier.types())
		assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.PendingBookings))
	})

	t.Run("TTLは上限に丸められる", func(t *testing.T) {
		env := setupCoordinator(t)

		b, _, err := env.coordinator.CreateBooking(ctx, CreateBookingInput{
			ShowID: testShow, UserID: "user-1", SeatIDs: []string{"A1"}, TTL: time.Hour,
		})

		require.NoError(t, err)
		assert.Equal(t, epoch.Add(15*time.Minute), b.HoldExpiry)
	})

	t.Run("座席が確保できなければ予約を作らない", func(t *testing.T) {
		env := setupCoordinator(t)
		env.hold(t, "user-1", "A1", "A2")

		_, _, err := env.coordinator.CreateBooking(ctx, CreateBookingInput{ShowID: testShow, UserID: "user-2", SeatIDs: []string{"A2", "B1"}})

		require.ErrorIs(t, err, seat.ErrSeatUnavailable)
		conflicts, _ := seat.ConflictingSeats(err)
		assert.Equal(t, []string{"A2"}, conflicts)
		list, err := env.repo.ListByUser(ctx, "user-2", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.True(t, env.locks.IsAvailable(testShow, "B1"))
	})

	t.Run("入力エラー", func(t *testing.T) {
		env := setupCoordinator(t)
		tests := []struct {
			name        string
			input       CreateBookingInput
			expectedErr error
		}{
			{"ユーザーIDが空", CreateBookingInput{ShowID: testShow, SeatIDs: []string{"A1"}}, booking.ErrUserIDRequired},
			{"上映IDが空", CreateBookingInput{UserID: "u", SeatIDs: []string{"A1"}}, booking.ErrShowIDRequired},
			{"座席なし", CreateBookingInput{ShowID: testShow, UserID: "u"}, seat.ErrSeatIDsRequired},
			{"存在しない上映回", CreateBookingInput{ShowID: "nope", UserID: "u", SeatIDs: []string{"A1"}}, catalog.ErrShowNotFound},
			{"存在しない座席", CreateBookingInput{ShowID: testShow, UserID: "u", SeatIDs: []string{"Z9"}}, seat.ErrSeatNotFound},
			{"開演済み", CreateBookingInput{ShowID: "show-past", UserID: "u", SeatIDs: []string{"A1"}}, catalog.ErrShowNotOpen},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := env.coordinator.CreateBooking(ctx, tt.input)
				assert.ErrorIs(t, err, tt.expectedErr)
			})
		}
	})
}

func TestBookingCoordinator_CommitCorrectness(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()
	b := env.hold(t, "user-1", "A1", "A2")

	confirmed, err := env.coordinator.Confirm(ctx, b.ID, booking.PaymentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status())
	assert.Equal(t, []seat.Status{seat.StatusBooked, seat.StatusBooked}, env.seatStatuses("A1", "A2"))

	// 二度目の確定は不正な状態遷移
	_, err = env.coordinator.Confirm(ctx, b.ID, booking.PaymentSucceeded)
	assert.ErrorIs(t, err, booking.ErrInvalidStateTransition)
	assert.NotErrorIs(t, err, booking.ErrHoldExpired)

	// 確定後も期限切れで座席が戻ることはない
	env.clock.Advance(time.Hour)
	assert.Equal(t, []seat.Status{seat.StatusBooked, seat.StatusBooked}, env.seatStatuses("A1", "A2"))
	assert.Equal(t, booking.StatusConfirmed, b.Status())

	cancelled, err := env.coordinator.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status())
	assert.Equal(t, []seat.Status{seat.StatusAvailable, seat.StatusAvailable}, env.seatStatuses("A1", "A2"))

	_, err = env.coordinator.Cancel(ctx, b.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidStateTransition)

	assert.Equal(t, []notification.EventType{
		notification.EventHoldCreated,
		notification.EventBookingConfirmed,
		notification.EventBookingCancelled,
	}, env.notifier.types())
	assert.Equal(t, float64(0), testutil.ToFloat64(env.metrics.PendingBookings))
}

func TestBookingCoordinator_ConfirmPaymentFailure(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()
	b := env.hold(t, "user-1", "A1")

	got, err := env.coordinator.Confirm(ctx, b.ID, booking.PaymentFailed)

	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status())
	assert.True(t, env.locks.IsAvailable(testShow, "A1"))

	_, err = env.coordinator.Confirm(ctx, b.ID, booking.PaymentSucceeded)
	assert.ErrorIs(t, err, booking.ErrInvalidStateTransition)
}

func TestBookingCoordinator_ConfirmErrors(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()

	_, err := env.coordinator.Confirm(ctx, "missing", booking.PaymentSucceeded)
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)

	b := env.hold(t, "user-1", "A1")
	_, err = env.coordinator.Confirm(ctx, b.ID, booking.PaymentOutcome("maybe"))
	assert.ErrorIs(t, err, booking.ErrInvalidPaymentOutcome)
	assert.Equal(t, booking.StatusPending, b.Status())
}

func TestBookingCoordinator_AutoExpiry(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()
	b := env.hold(t, "user-1", "A1", "A2")

	env.clock.Advance(5 * time.Minute)

	assert.Equal(t, booking.StatusExpired, b.Status())
	assert.Equal(t, []seat.Status{seat.StatusAvailable, seat.StatusAvailable}, env.seatStatuses("A1", "A2"))
	assert.Contains(t, env.notifier.types(), notification.EventBookingExpired)

	_, err := env.coordinator.Confirm(ctx, b.ID, booking.PaymentSucceeded)
	assert.ErrorIs(t, err, booking.ErrHoldExpired)
	assert.ErrorIs(t, err, booking.ErrInvalidStateTransition)

	_, err = env.coordinator.Cancel(ctx, b.ID)
	assert.ErrorIs(t, err, booking.ErrHoldExpired)

	// 別の予約が同じ座席を確保できる
	other := env.hold(t, "user-2", "A1", "A2")
	assert.Equal(t, booking.StatusPending, other.Status())
}

func TestBookingCoordinator_ConfirmAfterLapseWithoutTimer(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()
	b := env.hold(t, "user-1", "A1")

	// タイマーが失われても期限後の確定は失効として扱う
	env.coordinator.Shutdown()
	env.locks.Shutdown()
	env.clock.Advance(6 * time.Minute)

	_, err := env.coordinator.Confirm(ctx, b.ID, booking.PaymentSucceeded)

	assert.ErrorIs(t, err, booking.ErrHoldExpired)
	assert.Equal(t, booking.StatusExpired, b.Status())
	assert.True(t, env.locks.IsAvailable(testShow, "A1"))
	assert.Equal(t, seat.StatusAvailable, env.locks.store.Load(seat.Key{ShowID: testShow, SeatID: "A1"}).CurrentStatus())
}

func TestBookingCoordinator_CancelIdempotence(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()
	first := env.hold(t, "user-1", "A1")

	_, err := env.coordinator.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, env.locks.IsAvailable(testShow, "A1"))

	env.clock.Advance(time.Minute)
	second := env.hold(t, "user-2", "A1")

	// 最初の予約の期限を過ぎても新しい保持者には影響しない
	env.clock.Advance(4 * time.Minute)
	assert.Equal(t, second.ID, env.locks.Snapshot(testShow, "A1").HolderBookingID)
	assert.Equal(t, booking.StatusPending, second.Status())
	assert.Equal(t, booking.StatusCancelled, first.Status())

	// 座席の解放は何度呼んでも安全
	n, err := env.locks.Release(testShow, first.SeatIDs, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, second.ID, env.locks.Snapshot(testShow, "A1").HolderBookingID)
}

func TestBookingCoordinator_SingleWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		env := setupCoordinator(t)
		ctx := context.Background()
		b := env.hold(t, "user-1", "A1", "A2")

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 3; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				if _, err := env.coordinator.Confirm(ctx, b.ID, booking.PaymentSucceeded); err == nil {
					wins.Add(1)
				}
			}()
			go func() {
				defer wg.Done()
				<-start
				if _, err := env.coordinator.Confirm(ctx, b.ID, booking.PaymentFailed); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			env.clock.Advance(5 * time.Minute)
		}()
		close(start)
		wg.Wait()

		if b.Status() == booking.StatusExpired {
			wins.Add(1)
		}
		require.Equal(t, int32(1), wins.Load(), "round %d: status %s", round, b.Status())
		switch b.Status() {
		case booking.StatusConfirmed:
			assert.Equal(t, []seat.Status{seat.StatusBooked, seat.StatusBooked}, env.seatStatuses("A1", "A2"))
		case booking.StatusCancelled, booking.StatusExpired:
			assert.Equal(t, []seat.Status{seat.StatusAvailable, seat.StatusAvailable}, env.seatStatuses("A1", "A2"))
		default:
			t.Fatalf("unexpected status %s", b.Status())
		}
	}
}

func TestBookingCoordinator_ExpireOverdue(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()
	b := env.hold(t, "user-1", "A1")
	other := env.hold(t, "user-2", "B1")

	env.coordinator.Shutdown()
	env.locks.Shutdown()
	env.clock.Advance(5 * time.Minute)
	_, _, err := env.coordinator.CreateBooking(ctx, CreateBookingInput{ShowID: testShow, UserID: "user-3", SeatIDs: []string{"C1"}, TTL: 10 * time.Minute})
	require.NoError(t, err)

	n, err := env.coordinator.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, booking.StatusExpired, b.Status())
	assert.Equal(t, booking.StatusExpired, other.Status())
	assert.Equal(t, seat.StatusHeld, env.locks.Snapshot(testShow, "C1").Status)

	n, err = env.coordinator.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBookingCoordinator_Pay(t *testing.T) {
	ctx := context.Background()
	details := payment.Details{Method: "card", Token: "tok_visa"}

	t.Run("課金成功で確定する", func(t *testing.T) {
		env := setupCoordinator(t)
		b := env.hold(t, "user-1", "A1", "B1")
		env.gateway.On("Charge", mock.Anything, int64(3200), details).
			Return(&payment.Receipt{TransactionID: "tx-1", Amount: 3200, ChargedAt: epoch}, nil).Once()

		got, err := env.coordinator.Pay(ctx, b.ID, details)

		require.NoError(t, err)
		assert.Equal(t, booking.StatusConfirmed, got.Status())
		env.gateway.AssertExpectations(t)
	})

	t.Run("拒否されたら取り消す", func(t *testing.T) {
		env := setupCoordinator(t)
		b := env.hold(t, "user-1", "A1")
		env.gateway.On("Charge", mock.Anything, int64(1200), details).
			Return(nil, fmt.Errorf("card: %w", payment.ErrPaymentDeclined)).Once()

		got, err := env.coordinator.Pay(ctx, b.ID, details)

		require.NoError(t, err)
		assert.Equal(t, booking.StatusCancelled, got.Status())
		assert.True(t, env.locks.IsAvailable(testShow, "A1"))
	})

	t.Run("通信障害では状態を変えない", func(t *testing.T) {
		env := setupCoordinator(t)
		b := env.hold(t, "user-1", "A1")
		boom := errors.New("gateway timeout")
		env.gateway.On("Charge", mock.Anything, int64(1200), details).Return(nil, boom).Once()

		_, err := env.coordinator.Pay(ctx, b.ID, details)

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, booking.StatusPending, b.Status())
		assert.Equal(t, seat.StatusHeld, env.locks.Snapshot(testShow, "A1").Status)
	})

	t.Run("期限切れなら課金しない", func(t *testing.T) {
		env := setupCoordinator(t)
		b := env.hold(t, "user-1", "A1")
		env.clock.Advance(5 * time.Minute)

		_, err := env.coordinator.Pay(ctx, b.ID, details)

		assert.ErrorIs(t, err, booking.ErrHoldExpired)
		env.gateway.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestBookingCoordinator_InvalidatesAvailability(t *testing.T) {
	inv := &MockInvalidator{}
	inv.On("Invalidate", mock.Anything, testShow).Return()
	env := setupCoordinator(t, WithAvailabilityInvalidator(inv))
	ctx := context.Background()

	b := env.hold(t, "user-1", "A1")
	_, err := env.coordinator.Cancel(ctx, b.ID)
	require.NoError(t, err)

	inv.AssertNumberOfCalls(t, "Invalidate", 2)
}

func TestBookingCoordinator_ListUserBookings(t *testing.T) {
	env := setupCoordinator(t)
	ctx := context.Background()
	env.hold(t, "user-1", "A1")
	env.clock.Advance(time.Second)
	latest := env.hold(t, "user-1", "A2")
	env.hold(t, "user-2", "B1")

	list, err := env.coordinator.ListUserBookings(ctx, "user-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, latest.ID, list[0].ID)

	_, err = env.coordinator.ListUserBookings(ctx, "", 10, 0)
	assert.ErrorIs(t, err, booking.ErrUserIDRequired)
}

// hookRepository は Save の直前に任意の処理を差し込める予約リポジトリ
type hookRepository struct {
	*memory.BookingRepository
	beforeSave func(b *booking.Booking) error
}

func (r *hookRepository) Save(ctx context.Context, b *booking.Booking) error {
	if err := r.beforeSave(b); err != nil {
		return err
	}
	return r.BookingRepository.Save(ctx, b)
}

func TestBookingCoordinator_ExpiryTimerRegisteredBeforeSave(t *testing.T) {
	ctx := context.Background()
	input := CreateBookingInput{ShowID: testShow, UserID: "user-1", SeatIDs: []string{"A1"}}

	t.Run("保存時点でタイマーが登録済み", func(t *testing.T) {
		env := setupCoordinator(t)
		var c *BookingCoordinator
		registered := false
		repo := &hookRepository{BookingRepository: memory.NewBookingRepository(), beforeSave: func(b *booking.Booking) error {
			_, registered = c.expiryTimers.Load(b.ID)
			return nil
		}}
		c = NewBookingCoordinator(env.locks, repo, env.coordinator.catalog, env.clock)

		b, _, err := c.CreateBooking(ctx, input)
		require.NoError(t, err)
		assert.True(t, registered)

		// 確定すれば予約と座席のタイマーはすべて止まる
		_, err = c.Confirm(ctx, b.ID, booking.PaymentSucceeded)
		require.NoError(t, err)
		assert.Equal(t, 0, env.clock.Pending())
	})

	t.Run("保存失敗ならタイマーも座席も残さない", func(t *testing.T) {
		env := setupCoordinator(t)
		repo := &hookRepository{BookingRepository: memory.NewBookingRepository(), beforeSave: func(*booking.Booking) error {
			return errors.New("db down")
		}}
		c := NewBookingCoordinator(env.locks, repo, env.coordinator.catalog, env.clock)

		_, _, err := c.CreateBooking(ctx, input)
		require.Error(t, err)
		assert.Equal(t, 0, env.clock.Pending())
		assert.Equal(t, seat.StatusAvailable, env.locks.Snapshot(testShow, "A1").Status)
	})
}

func TestBookingCoordinator_Shutdown(t *testing.T) {
	env := setupCoordinator(t)
	env.hold(t, "user-1", "A1")
	env.hold(t, "user-2", "B1")

	assert.Equal(t, 2, env.coordinator.Shutdown())
	assert.Equal(t, 0, env.coordinator.Shutdown())
}

package booking

import (
	"fmt"
	"sync"
	"time"
)

// Status は予約の状態を表す
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal は終端状態かを返す
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusExpired
}

// PaymentOutcome は外部決済の結果
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "success"
	PaymentFailed    PaymentOutcome = "failure"
)

// Booking は予約エンティティ。
// 識別情報は作成後に変化せず、状態は Transition 経由でのみ変わる。
type Booking struct {
	ID         string
	UserID     string
	ShowID     string
	SeatIDs    []string
	Amount     int64
	CreatedAt  time.Time
	HoldExpiry time.Time

	mu        sync.Mutex
	status    Status
	updatedAt time.Time
}

// New は保留中の予約を作成する
func New(id, userID, showID string, seatIDs []string, amount int64, createdAt, holdExpiry time.Time) *Booking {
	ids := make([]string, len(seatIDs))
	copy(ids, seatIDs)
	return &Booking{
		ID:         id,
		UserID:     userID,
		ShowID:     showID,
		SeatIDs:    ids,
		Amount:     amount,
		CreatedAt:  createdAt,
		HoldExpiry: holdExpiry,
		status:     StatusPending,
		updatedAt:  createdAt,
	}
}

// Status は現在の状態を返す
func (b *Booking) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// UpdatedAt は最後に状態が変わった時刻を返す
func (b *Booking) UpdatedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updatedAt
}

// IsHoldLapsed は now 時点で仮押さえ期限を過ぎているかを返す
func (b *Booking) IsHoldLapsed(now time.Time) bool {
	return !now.Before(b.HoldExpiry)
}

// Validate は予約の検証を行う
func (b *Booking) Validate() error {
	if b.ID == "" {
		return ErrBookingIDRequired
	}
	if b.UserID == "" {
		return ErrUserIDRequired
	}
	if b.ShowID == "" {
		return ErrShowIDRequired
	}
	if len(b.SeatIDs) == 0 {
		return ErrSeatIDsRequired
	}
	if !b.HoldExpiry.After(b.CreatedAt) {
		return ErrInvalidHoldExpiry
	}
	return nil
}

// Transition は現在の状態が from のいずれかである場合に限り effect を実行し、成功すれば to へ遷移する。
// 同一予約に対する遷移は相互排他で、勝者は1つだけになる。
// effect がエラーを返した場合は遷移せずにそのエラーを返す。
func (b *Booking) Transition(now time.Time, to Status, from []Status, effect func(prev Status) error) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.status
	if !containsStatus(from, prev) {
		return prev, transitionError(prev, to)
	}
	if effect != nil {
		if err := effect(prev); err != nil {
			return prev, err
		}
	}
	b.status = to
	b.updatedAt = now
	return prev, nil
}

// Require は現在の状態が allowed のいずれかであることを確認する。遷移はしない
func (b *Booking) Require(allowed ...Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !containsStatus(allowed, b.status) {
		return transitionError(b.status, allowed[0])
	}
	return nil
}

// View はJSON化や比較用の値スナップショットを返す
func (b *Booking) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.SeatIDs))
	copy(ids, b.SeatIDs)
	return View{
		ID:         b.ID,
		UserID:     b.UserID,
		ShowID:     b.ShowID,
		SeatIDs:    ids,
		Status:     b.status,
		Amount:     b.Amount,
		CreatedAt:  b.CreatedAt,
		HoldExpiry: b.HoldExpiry,
		UpdatedAt:  b.updatedAt,
	}
}

// View は予約の読み取り専用コピー
type View struct {
	ID         string
	UserID     string
	ShowID     string
	SeatIDs    []string
	Status     Status
	Amount     int64
	CreatedAt  time.Time
	HoldExpiry time.Time
	UpdatedAt  time.Time
}

// HoldTicket は仮押さえ成功時に呼び出し元へ返す相関用チケット
type HoldTicket struct {
	BookingID string
	ShowID    string
	SeatIDs   []string
	Expiry    time.Time
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func transitionError(prev, to Status) error {
	if prev == StatusExpired {
		return fmt.Errorf("%w: %s -> %s: %w", ErrInvalidStateTransition, prev, to, ErrHoldExpired)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, prev, to)
}

package notification

import (
	"context"
	"time"
)

// EventType は予約イベントの種類
type EventType string

const (
	EventHoldCreated      EventType = "booking.hold_created"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingExpired   EventType = "booking.expired"
)

// Event は予約の状態変化を通知するメッセージ
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	BookingID  string    `json:"booking_id"`
	UserID     string    `json:"user_id"`
	ShowID     string    `json:"show_id"`
	SeatIDs    []string  `json:"seat_ids"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier はユーザーへの通知口。呼び出し元をブロックせず、失敗も返さない。
type Notifier interface {
	Notify(ctx context.Context, userID string, ev Event)
}

// Publisher は通知イベントを外部へ配送する
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

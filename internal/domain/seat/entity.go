package seat

import "time"

// Type は座席種別を表す
type Type string

const (
	TypeRegular Type = "regular"
	TypePremium Type = "premium"
	TypeVIP     Type = "vip"
)

// Seat は上映回に属する座席。カタログから値コピーで受け取り、変更しない。
type Seat struct {
	ShowID string
	ID     string
	Label  string
	Type   Type
	Price  int64
}

// Key は座席状態テーブルのキーを返す
func (s Seat) Key() Key {
	return Key{ShowID: s.ShowID, SeatID: s.ID}
}

// Validate は座席の検証を行う
func (s Seat) Validate() error {
	if s.ShowID == "" {
		return ErrShowIDRequired
	}
	if s.ID == "" {
		return ErrSeatIDRequired
	}
	if s.Price < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// Key は (showID, seatID) の組
type Key struct {
	ShowID string
	SeatID string
}

func (k Key) String() string {
	return k.ShowID + ":" + k.SeatID
}

// Status は座席の状態を表す
type Status string

const (
	StatusAvailable Status = "available"
	StatusHeld      Status = "held"
	StatusBooked    Status = "booked"
)

// State は上映回ごとの座席状態。
// 未参照の座席はゼロ値（Status 空 = available, Version 0）として扱う。
type State struct {
	Status          Status
	HolderBookingID string
	HoldExpiry      time.Time
	Version         uint64 // CAS 用。書き込みごとに単調増加
}

// CurrentStatus はゼロ値を available として返す
func (s State) CurrentStatus() Status {
	if s.Status == "" {
		return StatusAvailable
	}
	return s.Status
}

// IsHeldBy は bookingID が仮押さえ中かを返す（期限は問わない）
func (s State) IsHeldBy(bookingID string) bool {
	return s.Status == StatusHeld && s.HolderBookingID == bookingID
}

// IsLapsed は仮押さえの期限が now 時点で切れているかを返す
func (s State) IsLapsed(now time.Time) bool {
	return s.Status == StatusHeld && !now.Before(s.HoldExpiry)
}

// EffectiveStatus は期限切れの仮押さえを available とみなした状態を返す
func (s State) EffectiveStatus(now time.Time) Status {
	if s.IsLapsed(now) {
		return StatusAvailable
	}
	return s.CurrentStatus()
}

// Grantable は新しい仮押さえを付与できるかを返す
func (s State) Grantable(now time.Time) bool {
	return s.EffectiveStatus(now) == StatusAvailable
}

// Snapshot は読み取り専用の座席状態ビュー
type Snapshot struct {
	ShowID          string     `json:"show_id"`
	SeatID          string     `json:"seat_id"`
	Status          Status     `json:"status"`
	HolderBookingID string     `json:"holder_booking_id,omitempty"`
	HoldExpiry      *time.Time `json:"hold_expiry,omitempty"`
}

// NewSnapshot は遅延期限切れを適用したスナップショットを作成する
func NewSnapshot(key Key, st State, now time.Time) Snapshot {
	snap := Snapshot{ShowID: key.ShowID, SeatID: key.SeatID, Status: st.EffectiveStatus(now)}
	switch snap.Status {
	case StatusHeld:
		expiry := st.HoldExpiry
		snap.HolderBookingID = st.HolderBookingID
		snap.HoldExpiry = &expiry
	case StatusBooked:
		snap.HolderBookingID = st.HolderBookingID
	}
	return snap
}

// IsAvailable はスナップショットが空席かを返す
func (s Snapshot) IsAvailable() bool {
	return s.Status == StatusAvailable
}

package booking

import (
	"errors"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
)

// Booking ドメインのエラー定義
var (
	ErrBookingNotFound        = errors.New("予約が見つかりません")
	ErrBookingIDRequired      = errors.New("予約IDは必須です")
	ErrUserIDRequired         = errors.New("ユーザーIDは必須です")
	ErrShowIDRequired         = errors.New("上映IDは必須です")
	ErrSeatIDsRequired        = errors.New("座席IDは必須です")
	ErrInvalidHoldExpiry      = errors.New("仮押さえ期限は作成時刻より後である必要があります")
	ErrInvalidPaymentOutcome  = errors.New("決済結果が不正です")
	ErrBookingAlreadyExists   = errors.New("同じIDの予約が既に存在します")
	ErrInvalidStateTransition = seat.ErrInvalidStateTransition
	ErrHoldExpired            = seat.ErrHoldExpired
)

package seat

import (
	"errors"
	"strings"
)

// Seat ドメインのエラー定義
var (
	ErrSeatNotFound           = errors.New("座席が見つかりません")
	ErrSeatUnavailable        = errors.New("座席は確保できません")
	ErrHoldExpired            = errors.New("仮押さえの有効期限が切れています")
	ErrInvalidStateTransition = errors.New("不正な状態遷移です")
	ErrShowIDRequired         = errors.New("上映IDは必須です")
	ErrSeatIDRequired         = errors.New("座席IDは必須です")
	ErrSeatIDsRequired        = errors.New("座席IDを1つ以上指定してください")
	ErrBookingIDRequired      = errors.New("予約IDは必須です")
	ErrInvalidTTL             = errors.New("仮押さえ期間は正の値である必要があります")
	ErrInvalidPrice           = errors.New("価格は0以上である必要があります")
)

// UnavailableError は確保できなかった座席を保持する
type UnavailableError struct {
	ShowID string
	Seats  []string
}

func (e *UnavailableError) Error() string {
	return ErrSeatUnavailable.Error() + ": " + e.ShowID + " [" + strings.Join(e.Seats, ",") + "]"
}

// Is は errors.Is(err, ErrSeatUnavailable) を成立させる
func (e *UnavailableError) Is(target error) bool {
	return target == ErrSeatUnavailable
}

// ConflictingSeats は err から競合座席を取り出す
func ConflictingSeats(err error) ([]string, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Seats, true
	}
	return nil, false
}

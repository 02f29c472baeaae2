package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPaymentDeclined = errors.New("決済が拒否されました")
	ErrInvalidAmount   = errors.New("決済金額は0以上である必要があります")
)

// Details は決済手段の情報
type Details struct {
	Method string
	Token  string
}

// Receipt は決済成功時の控え
type Receipt struct {
	TransactionID string
	Amount        int64
	ChargedAt     time.Time
}

// Gateway は外部決済ゲートウェイ。
// 拒否は ErrPaymentDeclined、それ以外のエラーは通信障害などの再試行可能な失敗を表す。
type Gateway interface {
	Charge(ctx context.Context, amount int64, details Details) (*Receipt, error)
}

package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/payment"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/clock"
)

// DeclinedTokenPrefix で始まるトークンは拒否される
const DeclinedTokenPrefix = "tok_declined"

// PaymentGateway は外部決済を模したゲートウェイ
type PaymentGateway struct {
	clock clock.Clock
}

var _ payment.Gateway = (*PaymentGateway)(nil)

func NewPaymentGateway(clk clock.Clock) *PaymentGateway {
	return &PaymentGateway{clock: clk}
}

func (g *PaymentGateway) Charge(ctx context.Context, amount int64, details payment.Details) (*payment.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, payment.ErrInvalidAmount
	}
	if details.Token == "" || strings.HasPrefix(details.Token, DeclinedTokenPrefix) {
		return nil, payment.ErrPaymentDeclined
	}
	return &payment.Receipt{
		TransactionID: uuid.NewString(),
		Amount:        amount,
		ChargedAt:     g.clock.Now(),
	}, nil
}

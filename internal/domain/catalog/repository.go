package catalog

import (
	"context"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
)

// Service は上映回と座席表を提供する読み取り専用カタログ
type Service interface {
	// GetShow はIDから上映回を取得する
	GetShow(ctx context.Context, showID string) (*Show, error)

	// ListSeats は上映回の座席表を座席ID順に取得する
	ListSeats(ctx context.Context, showID string) ([]seat.Seat, error)
}

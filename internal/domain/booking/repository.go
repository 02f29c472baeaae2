package booking

import (
	"context"
	"time"
)

// Repository は予約リポジトリのインターフェース
type Repository interface {
	// Save は新しい予約を保存する。同じIDが存在する場合は ErrBookingAlreadyExists
	Save(ctx context.Context, b *Booking) error

	// GetByID はIDから予約を取得する
	GetByID(ctx context.Context, id string) (*Booking, error)

	// ListByUser はユーザーの予約を新しい順に取得する
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Booking, error)

	// ListPendingExpiredAt は now 時点で仮押さえ期限を過ぎた保留中予約を取得する
	ListPendingExpiredAt(ctx context.Context, now time.Time) ([]*Booking, error)
}

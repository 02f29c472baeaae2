package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/booking"
)

// BookingRepository はメモリ上の予約リポジトリ
type BookingRepository struct {
	mu     sync.RWMutex
	byID   map[string]*booking.Booking
	byUser map[string][]*booking.Booking
}

var _ booking.Repository = (*BookingRepository)(nil)

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{
		byID:   make(map[string]*booking.Booking),
		byUser: make(map[string][]*booking.Booking),
	}
}

func (r *BookingRepository) Save(_ context.Context, b *booking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[b.ID]; ok {
		return booking.ErrBookingAlreadyExists
	}
	r.byID[b.ID] = b
	r.byUser[b.UserID] = append(r.byUser[b.UserID], b)
	return nil
}

func (r *BookingRepository) GetByID(_ context.Context, id string) (*booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return b, nil
}

func (r *BookingRepository) ListByUser(_ context.Context, userID string, limit, offset int) ([]*booking.Booking, error) {
	r.mu.RLock()
	list := make([]*booking.Booking, len(r.byUser[userID]))
	copy(list, r.byUser[userID])
	r.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []*booking.Booking{}, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

func (r *BookingRepository) ListPendingExpiredAt(_ context.Context, now time.Time) ([]*booking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*booking.Booking
	for _, b := range r.byID {
		if b.Status() == booking.StatusPending && b.IsHoldLapsed(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

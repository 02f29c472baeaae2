package handler

import (
	"context"

	"github.com/sanosuguru/go-seat-hold-booking/internal/application"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/booking"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/payment"
)

// BookingServiceInterface は予約コーディネーターのインターフェース
type BookingServiceInterface interface {
	CreateBooking(ctx context.Context, input application.CreateBookingInput) (*booking.Booking, *booking.HoldTicket, error)
	Confirm(ctx context.Context, id string, outcome booking.PaymentOutcome) (*booking.Booking, error)
	Pay(ctx context.Context, id string, details payment.Details) (*booking.Booking, error)
	Cancel(ctx context.Context, id string) (*booking.Booking, error)
	GetBooking(ctx context.Context, id string) (*booking.Booking, error)
	ListUserBookings(ctx context.Context, userID string, limit, offset int) ([]*booking.Booking, error)
}

// AvailabilityServiceInterface は空席インデックスのインターフェース
type AvailabilityServiceInterface interface {
	Snapshot(ctx context.Context, showID string) ([]application.SeatAvailability, error)
	AvailableSeats(ctx context.Context, showID string) ([]application.SeatAvailability, error)
	CountAvailable(ctx context.Context, showID string) (int, error)
}

package handler

import "github.com/labstack/echo/v4"

// Handlers はルーティング対象のハンドラー群
type Handlers struct {
	Booking      *BookingHandler
	Availability *AvailabilityHandler
	Health       *HealthHandler
}

// RegisterRoutes は /api/v1 配下にルートを登録する
func RegisterRoutes(e *echo.Echo, h Handlers) {
	v1 := e.Group("/api/v1")

	v1.GET("/health", h.Health.Check)

	v1.POST("/shows/:show_id/holds", h.Booking.Hold)
	v1.GET("/shows/:show_id/availability", h.Availability.List)
	v1.GET("/shows/:show_id/availability/count", h.Availability.Count)

	v1.GET("/bookings", h.Booking.ListMine)
	v1.GET("/bookings/:id", h.Booking.GetByID)
	v1.POST("/bookings/:id/confirm", h.Booking.Confirm)
	v1.POST("/bookings/:id/pay", h.Booking.Pay)
	v1.POST("/bookings/:id/cancel", h.Booking.Cancel)
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-seat-hold-booking/internal/api/middleware"
	"github.com/sanosuguru/go-seat-hold-booking/internal/application"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/booking"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/payment"
)

type BookingHandler struct {
	service BookingServiceInterface
}

func NewBookingHandler(s BookingServiceInterface) *BookingHandler {
	return &BookingHandler{service: s}
}

type CreateHoldRequest struct {
	SeatIDs    []string `json:"seat_ids" validate:"required,min=1,dive,required" example:"A01,A02"`
	TTLSeconds int      `json:"ttl_seconds" validate:"gte=0" example:"300"`
}

type HoldResponse struct {
	BookingID string    `json:"booking_id"`
	ShowID    string    `json:"show_id"`
	SeatIDs   []string  `json:"seat_ids"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Expiry    time.Time `json:"expiry"`
}

type ConfirmRequest struct {
	PaymentOutcome string `json:"payment_outcome" validate:"required,payment_outcome" example:"success"`
}

type PayRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required" example:"card"`
	Token         string `json:"token" validate:"required" example:"tok_visa"`
}

type BookingResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ShowID     string    `json:"show_id"`
	SeatIDs    []string  `json:"seat_ids"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	HoldExpiry time.Time `json:"hold_expiry"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CancelResponse struct {
	Cancelled bool            `json:"cancelled"`
	Booking   BookingResponse `json:"booking"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	v := b.View()
	return BookingResponse{
		ID: v.ID, UserID: v.UserID, ShowID: v.ShowID,
		SeatIDs: v.SeatIDs, Status: string(v.Status), Amount: v.Amount,
		HoldExpiry: v.HoldExpiry, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt,
	}
}

func requireUserID(c echo.Context) (string, error) {
	userID := c.Request().Header.Get(middleware.HeaderUserID)
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "ユーザーIDが必要です")
	}
	return userID, nil
}

// Hold godoc
// @Summary 座席を仮押さえ
// @Description 指定座席をまとめて仮押さえし、保留中の予約を作成します
// @Tags bookings
// @Accept json
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param show_id path string true "上映ID"
// @Param request body CreateHoldRequest true "座席"
// @Success 201 {object} HoldResponse
// @Failure 409 {object} api.ErrorResponse "確保できない座席あり"
// @Router /shows/{show_id}/holds [post]
func (h *BookingHandler) Hold(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	var req CreateHoldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	b, ticket, err := h.service.CreateBooking(c.Request().Context(), application.CreateBookingInput{
		ShowID:  c.Param("show_id"),
		UserID:  userID,
		SeatIDs: req.SeatIDs,
		TTL:     time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, HoldResponse{
		BookingID: ticket.BookingID,
		ShowID:    ticket.ShowID,
		SeatIDs:   ticket.SeatIDs,
		Amount:    b.Amount,
		Status:    string(b.Status()),
		Expiry:    ticket.Expiry,
	})
}

// Confirm godoc
// @Summary 決済結果を反映
// @Tags bookings
// @Accept json
// @Produce json
// @Param id path string true "予約ID"
// @Param request body ConfirmRequest true "決済結果"
// @Success 200 {object} BookingResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Failure 410 {object} api.ErrorResponse "仮押さえ期限切れ"
// @Router /bookings/{id}/confirm [post]
func (h *BookingHandler) Confirm(c echo.Context) error {
	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	b, err := h.service.Confirm(c.Request().Context(), c.Param("id"), booking.PaymentOutcome(req.PaymentOutcome))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// Pay godoc
// @Summary 決済して確定
// @Description 決済ゲートウェイで課金し、その結果で予約を確定または取り消します
// @Tags bookings
// @Accept json
// @Produce json
// @Param id path string true "予約ID"
// @Param request body PayRequest true "決済情報"
// @Success 200 {object} BookingResponse
// @Router /bookings/{id}/pay [post]
func (h *BookingHandler) Pay(c echo.Context) error {
	var req PayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	b, err := h.service.Pay(c.Request().Context(), c.Param("id"), payment.Details{
		Method: req.PaymentMethod,
		Token:  req.Token,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// Cancel godoc
// @Summary 予約をキャンセル
// @Tags bookings
// @Produce json
// @Param id path string true "予約ID"
// @Success 200 {object} CancelResponse
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) Cancel(c echo.Context) error {
	b, err := h.service.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CancelResponse{Cancelled: true, Booking: toBookingResponse(b)})
}

// GetByID godoc
// @Summary 予約を取得
// @Tags bookings
// @Produce json
// @Param id path string true "予約ID"
// @Success 200 {object} BookingResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /bookings/{id} [get]
func (h *BookingHandler) GetByID(c echo.Context) error {
	b, err := h.service.GetBooking(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// ListMine godoc
// @Summary ユーザーの予約一覧
// @Tags bookings
// @Produce json
// @Param X-User-ID header string true "ユーザーID"
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} BookingResponse
// @Router /bookings [get]
func (h *BookingHandler) ListMine(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	bookings, err := h.service.ListUserBookings(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return err
	}
	resp := make([]BookingResponse, len(bookings))
	for i, b := range bookings {
		resp[i] = toBookingResponse(b)
	}
	return c.JSON(http.StatusOK, resp)
}

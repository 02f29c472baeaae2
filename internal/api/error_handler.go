package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/booking"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/catalog"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/payment"
	"github.com/sanosuguru/go-seat-hold-booking/internal/domain/seat"
	"github.com/sanosuguru/go-seat-hold-booking/internal/pkg/logger"
)

// ErrorResponse はエラーレスポンスの統一フォーマット
type ErrorResponse struct {
	Error            string   `json:"error"`
	Code             int      `json:"code,omitempty"`
	Details          string   `json:"details,omitempty"`
	ConflictingSeats []string `json:"conflicting_seats,omitempty"`
}

// StatusCode はドメインエラーをHTTPステータスに対応付ける。
// 期限切れは不正遷移も同時に満たすため先に判定する。
func StatusCode(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, booking.ErrHoldExpired):
		return http.StatusGone
	case errors.Is(err, booking.ErrInvalidStateTransition),
		errors.Is(err, seat.ErrSeatUnavailable),
		errors.Is(err, booking.ErrBookingAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, catalog.ErrShowNotFound),
		errors.Is(err, seat.ErrSeatNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrShowNotOpen):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, booking.ErrBookingIDRequired),
		errors.Is(err, booking.ErrUserIDRequired),
		errors.Is(err, booking.ErrShowIDRequired),
		errors.Is(err, booking.ErrSeatIDsRequired),
		errors.Is(err, booking.ErrInvalidPaymentOutcome),
		errors.Is(err, seat.ErrSeatIDsRequired),
		errors.Is(err, seat.ErrSeatIDRequired),
		errors.Is(err, seat.ErrInvalidTTL),
		errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// CustomHTTPErrorHandler はカスタムエラーハンドラー
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := StatusCode(err)
	resp := ErrorResponse{Code: code}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			resp.Error = m
		} else {
			resp.Error = http.StatusText(code)
		}
	} else if code >= 500 {
		resp.Error = "内部サーバーエラー"
	} else {
		resp.Error = http.StatusText(code)
		resp.Details = err.Error()
	}
	if seats, ok := seat.ConflictingSeats(err); ok {
		resp.ConflictingSeats = seats
	}

	if code >= 500 {
		logger.Error("サーバーエラー",
			zap.Int("status", code),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		logger.Error("エラーレスポンス送信失敗", zap.Error(err))
	}
}

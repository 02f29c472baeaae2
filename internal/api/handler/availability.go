package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-seat-hold-booking/internal/application"
)

type AvailabilityHandler struct {
	service AvailabilityServiceInterface
}

func NewAvailabilityHandler(s AvailabilityServiceInterface) *AvailabilityHandler {
	return &AvailabilityHandler{service: s}
}

type SeatAvailabilityResponse struct {
	SeatID     string     `json:"seat_id"`
	Label      string     `json:"label"`
	Type       string     `json:"type"`
	Price      int64      `json:"price"`
	Status     string     `json:"status"`
	HoldExpiry *time.Time `json:"hold_expiry,omitempty"`
}

type AvailableCountResponse struct {
	ShowID    string `json:"show_id"`
	Available int    `json:"available"`
}

// 保持している予約IDは他のユーザーへ見せない
func toSeatAvailabilityResponse(a application.SeatAvailability) SeatAvailabilityResponse {
	return SeatAvailabilityResponse{
		SeatID: a.SeatID, Label: a.Label, Type: string(a.Type),
		Price: a.Price, Status: string(a.Status), HoldExpiry: a.HoldExpiry,
	}
}

// List godoc
// @Summary 座席の状況を取得
// @Description available=true で空席のみ返します。値は参考値です
// @Tags availability
// @Produce json
// @Param show_id path string true "上映ID"
// @Param available query bool false "空席のみ"
// @Success 200 {array} SeatAvailabilityResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /shows/{show_id}/availability [get]
func (h *AvailabilityHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	showID := c.Param("show_id")

	onlyAvailable, _ := strconv.ParseBool(c.QueryParam("available"))
	var (
		seats []application.SeatAvailability
		err   error
	)
	if onlyAvailable {
		seats, err = h.service.AvailableSeats(ctx, showID)
	} else {
		seats, err = h.service.Snapshot(ctx, showID)
	}
	if err != nil {
		return err
	}

	resp := make([]SeatAvailabilityResponse, len(seats))
	for i, s := range seats {
		resp[i] = toSeatAvailabilityResponse(s)
	}
	return c.JSON(http.StatusOK, resp)
}

// Count godoc
// @Summary 空席数を取得
// @Tags availability
// @Produce json
// @Param show_id path string true "上映ID"
// @Success 200 {object} AvailableCountResponse
// @Router /shows/{show_id}/availability/count [get]
func (h *AvailabilityHandler) Count(c echo.Context) error {
	showID := c.Param("show_id")
	n, err := h.service.CountAvailable(c.Request().Context(), showID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, AvailableCountResponse{ShowID: showID, Available: n})
}

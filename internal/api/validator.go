package api

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// CustomValidator はEcho用のカスタムバリデーター
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator は新しいバリデーターを作成する
func NewValidator() *CustomValidator {
	v := validator.New()
	_ = v.RegisterValidation("payment_outcome", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "success", "failure":
			return true
		}
		return false
	})
	return &CustomValidator{validator: v}
}

// Validate はリクエストのバリデーションを実行する
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.validator.Struct(i); err != nil {
		var fields []string
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
		}
		if len(fields) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, "入力が不正です: "+strings.Join(fields, ", "))
	}
	return nil
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"bookshop/internal/domain/model"
	"bookshop/internal/middleware"
	"bookshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
	// 入力エラーの項目
	Field string `json:"field,omitempty"`
	// 決済エラー時も注文自体は作成済み
	Order *usecase.OrderOutput `json:"order,omitempty"`
}

func errorJSON(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	return c.JSON(usecase.StatusOf(err), toErrorResponse(err))
}

func toErrorResponse(err error) ErrorResponse {
	var (
		ve *usecase.ValidationError
		pe *usecase.PaymentSessionError
	)
	if he, ok := usecase.AsHTTPError(err); ok {
		return ErrorResponse{Error: he.Message}
	}

	switch {
	case errors.As(err, &ve):
		return ErrorResponse{Error: ve.Error(), Field: ve.Field}
	case errors.As(err, &pe):
		msg := "payment provider error"
		if errors.Is(err, usecase.ErrGatewayTimeout) {
			msg = usecase.ErrGatewayTimeout.Error()
		}
		return ErrorResponse{Error: msg, Order: pe.Order}
	case errors.Is(err, usecase.ErrEmptyCart),
		errors.Is(err, usecase.ErrInvalidRefreshToken),
		errors.Is(err, usecase.ErrWebhookSignature),
		errors.Is(err, usecase.ErrUnauthorized),
		errors.Is(err, usecase.ErrForbidden),
		errors.Is(err, usecase.ErrNotFound),
		errors.Is(err, usecase.ErrConflict):
		return ErrorResponse{Error: rootMessage(err)}
	default:
		//500
		return ErrorResponse{Error: "internal error"}
	}
}

// ラップされていても元のsentinelの文言を返す
func rootMessage(err error) string {
	for _, s := range []error{
		usecase.ErrEmptyCart, usecase.ErrInvalidRefreshToken, usecase.ErrWebhookSignature,
		usecase.ErrUnauthorized, usecase.ErrForbidden, usecase.ErrNotFound, usecase.ErrConflict,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

func getUserIDFromContext(c echo.Context) (int64, bool) {
	id, ok := c.Get(middleware.CtxUserIDKey).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

func getActorFromContext(c echo.Context) (usecase.Actor, bool) {
	id, ok := getUserIDFromContext(c)
	if !ok {
		return usecase.Actor{}, false
	}
	role, _ := c.Get(middleware.CtxUserRoleKey).(string)
	return usecase.Actor{UserID: id, Role: model.Role(role)}, true
}

func parseIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// 数値でなければ0（usecase側でデフォルト）
func queryInt(c echo.Context, name string) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return v
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
}

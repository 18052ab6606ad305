package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

var (
	//401 認証失敗
	ErrUnauthorized = errors.New("unauthorized")
	//403 権限
	ErrForbidden = errors.New("forbidden")
	//404
	ErrNotFound = errors.New("not found")
	//409 競合
	ErrConflict = errors.New("conflict")
	//500
	ErrInternal = errors.New("internal error")

	//422 カートが空
	ErrEmptyCart = errors.New("cart is empty")
	//401 期限切れ・使用済み・存在しない
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	//400 署名不一致
	ErrWebhookSignature = errors.New("invalid webhook signature")
	//504 決済側の応答待ちタイムアウト
	ErrGatewayTimeout = errors.New("payment provider timeout")
)

// 422 入力エラー（どの項目か）
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// 決済セッション作成に失敗。注文自体は作成済みでPENDINGのまま残る
type PaymentSessionError struct {
	OrderNumber string
	Order       *OrderOutput
	Err         error
}

func (e *PaymentSessionError) Error() string {
	return fmt.Sprintf("payment session for order %s: %v", e.OrderNumber, e.Err)
}

func (e *PaymentSessionError) Unwrap() error {
	return e.Err
}

// エラーからHTTPステータスを決める
func StatusOf(err error) int {
	var (
		ve *ValidationError
		pe *PaymentSessionError
	)
	if he, ok := AsHTTPError(err); ok {
		return he.Status
	}

	switch {
	case errors.As(err, &ve), errors.Is(err, ErrEmptyCart):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrGatewayTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &pe):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrWebhookSignature):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

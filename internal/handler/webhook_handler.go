package handler

import (
	"io"
	"net/http"

	"bookshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 決済プロバイダからの通知。署名で検証するのでJWTは不要
type WebhookHandler struct {
	uc *usecase.WebhookUsecase
}

func NewWebhookHandler(uc *usecase.WebhookUsecase) *WebhookHandler {
	return &WebhookHandler{uc: uc}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/payments/webhook", h.receive)
}

func (h *WebhookHandler) receive(c echo.Context) error {
	//署名検証には生のbodyが必要
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("invalid body"))
	}

	res, err := h.uc.Handle(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"received": true,
		"type":     res.EventType,
		"applied":  res.Applied,
	})
}

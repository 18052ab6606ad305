package server

import (
	"net/http"

	"bookshop/internal/config"
	"bookshop/internal/handler"
	"bookshop/internal/repository"

	"github.com/labstack/echo/v4"
)

// ルーティングに必要なhandler一式
type Handlers struct {
	Auth       *handler.AuthHandler
	AdminUser  *handler.AdminUserHandler
	Address    *handler.AddressHandler
	Cart       *handler.CartHandler
	Order      *handler.OrderHandler
	AdminOrder *handler.AdminOrderHandler
	Webhook    *handler.WebhookHandler
	Cable      *handler.CableHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	h.Auth.RegisterRoutes(e, cfg, userRepo)
	h.AdminUser.RegisterRoutes(e)
	h.Address.RegisterRoutes(e, cfg, userRepo)
	h.Cart.RegisterRoutes(e, cfg, userRepo)
	h.AdminOrder.RegisterRoutes(e, cfg, userRepo)
	h.Order.RegisterRoutes(e, cfg, userRepo)
	h.Webhook.RegisterRoutes(e)
	h.Cable.RegisterRoutes(e)
}

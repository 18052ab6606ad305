package handler

import (
	"net/http"

	"bookshop/internal/config"
	"bookshop/internal/middleware"
	"bookshop/internal/realtime"
	"bookshop/internal/repository"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"
)

// GET /cable?token=... のWebSocket
type CableHandler struct {
	cfg      config.Config
	userRepo repository.UserRepository
	hub      *realtime.Hub
}

func NewCableHandler(cfg config.Config, userRepo repository.UserRepository, hub *realtime.Hub) *CableHandler {
	return &CableHandler{cfg: cfg, userRepo: userRepo, hub: hub}
}

func (h *CableHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/cable", h.connect)
}

func (h *CableHandler) connect(c echo.Context) error {
	//ブラウザはヘッダを付けられないのでクエリで受ける
	claims, err := middleware.ParseAccessToken(h.cfg.JWTSecret, c.QueryParam("token"))
	if err != nil {
		return unauthorized(c)
	}

	user, err := h.userRepo.FindByID(c.Request().Context(), claims.UserID)
	if err != nil || user == nil || !user.IsActive || user.TokenVersion != claims.TokenVersion {
		return unauthorized(c)
	}

	p := realtime.Principal{UserID: user.ID, Role: claims.Role}
	srv := websocket.Server{
		//Originは見ない（tokenで認証済み）
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(ws *websocket.Conn) {
			h.hub.Serve(ws, p)
		},
	}
	srv.ServeHTTP(c.Response(), c.Request())
	return nil
}

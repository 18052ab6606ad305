package handler

import (
	"net/http"

	"bookshop/internal/config"
	"bookshop/internal/middleware"
	"bookshop/internal/repository"
	"bookshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminUserHandler struct {
	cfg      config.Config
	userRepo repository.UserRepository
	uc       *usecase.AuthUsecase
}

func NewAdminUserHandler(cfg config.Config, userRepo repository.UserRepository, uc *usecase.AuthUsecase) *AdminUserHandler {
	return &AdminUserHandler{cfg: cfg, userRepo: userRepo, uc: uc}
}

func (h *AdminUserHandler) RegisterRoutes(e *echo.Echo) {
	// /admin 配下は JWT必須 + token_version一致 + ADMIN限定
	admin := e.Group(
		"/admin",
		middleware.AuthJWT(h.cfg),
		middleware.TokenVersionGuard(h.userRepo),
		middleware.AdminRoleGuard(),
	)

	admin.POST("/users/:id/force-logout", h.ForceLogout)
}

func (h *AdminUserHandler) ForceLogout(c echo.Context) error {
	actorID, ok := getUserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	targetID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorJSON("invalid user_id"))
	}

	res, err := h.uc.ForceLogout(c.Request().Context(), actorID, targetID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

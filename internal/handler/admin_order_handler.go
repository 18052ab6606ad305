package handler

import (
	"net/http"
	"strconv"
	"time"

	"bookshop/internal/config"
	"bookshop/internal/middleware"
	"bookshop/internal/repository"
	"bookshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AdminOrderHandler struct {
	uc *usecase.AdminOrderUsecase
}

func NewAdminOrderHandler(uc *usecase.AdminOrderUsecase) *AdminOrderHandler {
	return &AdminOrderHandler{uc: uc}
}

func (h *AdminOrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	guards := []echo.MiddlewareFunc{
		middleware.AuthJWT(cfg),
		middleware.TokenVersionGuard(userRepo),
		middleware.AdminRoleGuard(),
	}

	// /orders/:id より先に静的パスで登録（echoは静的を優先）
	e.GET("/orders/admin/all", h.list, guards...)

	admin := e.Group("/admin", guards...)
	admin.PATCH("/orders/:id", h.update)
	admin.GET("/orders/:id/history", h.history)
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	in := usecase.AdminOrderListInput{
		Page:    queryInt(c, "page"),
		PerPage: queryInt(c, "per_page"),
		Status:  c.QueryParam("status"),
	}

	if v := c.QueryParam("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user_id", Field: "user_id"})
		}
		in.UserID = &id
	}

	var ok bool
	if in.From, ok = queryTime(c, "from"); !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid from", Field: "from"})
	}
	if in.To, ok = queryTime(c, "to"); !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid to", Field: "to"})
	}

	out, err := h.uc.List(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) update(c echo.Context) error {
	actor, ok := getActorFromContext(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorJSON("invalid id"))
	}

	var req usecase.UpdateOrderInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("invalid body"))
	}

	out, err := h.uc.Update(c.Request().Context(), actor, id, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"order": out})
}

// 監査ログ
func (h *AdminOrderHandler) history(c echo.Context) error {
	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorJSON("invalid id"))
	}

	limit := queryInt(c, "limit")
	if limit <= 0 {
		limit = 50
	}
	offset := queryInt(c, "offset")
	if offset < 0 {
		offset = 0
	}

	logs, err := h.uc.History(c.Request().Context(), id, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": logs})
}

// RFC3339 か YYYY-MM-DD。空ならnil
func queryTime(c echo.Context, name string) (*time.Time, bool) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, false
	}
	return &t, true
}

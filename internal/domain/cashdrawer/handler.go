package cashdrawer

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fonthenet/sihadz-sub014/internal/platform/apperr"
	"github.com/fonthenet/sihadz-sub014/internal/platform/auth"
	"github.com/fonthenet/sihadz-sub014/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Counter staff run the drawer.
	counter := api.Group("", auth.RequireRole(auth.RoleCashier, auth.RolePharmacist))
	counter.POST("/cash-sessions", h.OpenSession)
	counter.GET("/cash-sessions", h.ListSessions)
	counter.GET("/cash-sessions/current", h.CurrentSession)
	counter.GET("/cash-sessions/:id", h.GetSession)
	counter.POST("/cash-sessions/:id/close", h.CloseSession)
	counter.GET("/cash-sessions/:id/report", h.GetReport)
	counter.POST("/cash-sessions/:id/sales", h.RecordSale)
	counter.GET("/cash-sessions/:id/sales", h.ListSales)
	counter.POST("/cash-sessions/:id/movements", h.AddMovement)
	counter.GET("/cash-sessions/:id/movements", h.ListMovements)
	counter.GET("/sales/:id", h.GetSale)

	// Reversing a sale needs a pharmacist.
	reverse := api.Group("", auth.RequireRole(auth.RolePharmacist))
	reverse.POST("/sales/:id/void", h.VoidSale)
	reverse.POST("/sales/:id/return", h.ReturnSale)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Session Handlers --

func (h *Handler) OpenSession(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	var in OpenInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.OpenSession(c.Request().Context(), actor, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) CurrentSession(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.CurrentSession(c.Request().Context(), actor, c.QueryParam("drawer_id"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetSession(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListSessions(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := SessionFilter{
		DrawerID: c.QueryParam("drawer_id"),
		Status:   SessionStatus(c.QueryParam("status")),
	}
	items, total, err := h.svc.ListSessions(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CloseSession(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in CloseInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.CloseSession(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetReport(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	typ, err := ParseReportType(c.QueryParam("type"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	topN := 0
	if v := c.QueryParam("top"); v != "" {
		if topN, err = strconv.Atoi(v); err != nil || topN <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid top")
		}
	}
	r, err := h.svc.GenerateReport(c.Request().Context(), actor, id, typ, topN)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- Sale Handlers --

func (h *Handler) RecordSale(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in SaleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sale, err := h.svc.RecordSale(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, sale)
}

func (h *Handler) ListSales(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListSales(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) GetSale(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sale, err := h.svc.GetSale(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sale)
}

func (h *Handler) VoidSale(c echo.Context) error {
	return h.changeSaleStatus(c, h.svc.VoidSale)
}

func (h *Handler) ReturnSale(c echo.Context) error {
	return h.changeSaleStatus(c, h.svc.ReturnSale)
}

func (h *Handler) changeSaleStatus(c echo.Context, fn func(ctx context.Context, actor auth.Actor, id uuid.UUID, in StatusInput) (*Sale, error)) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in StatusInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sale, err := fn(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, sale)
}

// -- Movement Handlers --

func (h *Handler) AddMovement(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in MovementInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.AddMovement(c.Request().Context(), actor, id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMovements(c echo.Context) error {
	actor, err := auth.RequestActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMovements(c.Request().Context(), actor, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}
